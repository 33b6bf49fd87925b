package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an original error
	cause := stderrors.New("connection refused")

	// When: wrapping it as an external call failure
	err := ExternalCall("embed", cause)

	// Then: the cause is reachable through the chain
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "[ERR_304_EXTERNAL_CALL] embed call failed: connection refused", err.Error())
}

func TestCardError_Is_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("resolve: %w", EntityNotFound("ZZZ", nil))

	assert.True(t, stderrors.Is(err, ErrEntityNotFound))
	assert.False(t, stderrors.Is(err, ErrEntityNotIndexed))
}

func TestCategoryAndSeverity_FromCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeEntityNotFound, CategoryIO, SeverityError, false},
		{ErrCodePartitionLoad, CategoryIO, SeverityWarning, false},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{ErrCodeExternalCall, CategoryExternal, SeverityWarning, true},
		{ErrCodeParse, CategoryValidation, SeverityWarning, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
		{"bad", CategoryInternal, SeverityError, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestEntityNotFound_CarriesSamples(t *testing.T) {
	err := EntityNotFound("ZZZ-Nonexistent", []string{"K-Pass", "Deep Dream"})

	assert.Equal(t, "K-Pass, Deep Dream", err.Details["available"])
	assert.Contains(t, err.Suggestion, "K-Pass")
	assert.False(t, err.Retryable)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestFormatForCLI(t *testing.T) {
	out := FormatForCLI(EntityNotIndexed("K-Pass", "credit"))
	assert.Contains(t, out, "Error: card \"K-Pass\" has no fragments in the credit index")
	assert.Contains(t, out, "Hint: Run 'cardrag index --force'")
	assert.Contains(t, out, "Code: ERR_208_ENTITY_NOT_INDEXED")

	plain := FormatForCLI(stderrors.New("boom"))
	assert.Contains(t, plain, "Code: ERR_501_INTERNAL")
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON(t *testing.T) {
	data, err := FormatJSON(Parse("cards/a.json", stderrors.New("unexpected EOF")))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ErrCodeParse, got["code"])
	assert.Equal(t, "VALIDATION", got["category"])
	assert.Equal(t, "unexpected EOF", got["cause"])
}

func TestFormatForLog(t *testing.T) {
	attrs := FormatForLog(PartitionLoad("check", stderrors.New("no such dir")))
	assert.Contains(t, attrs, "error_code")
	assert.Contains(t, attrs, ErrCodePartitionLoad)
	assert.Contains(t, attrs, "detail_category")

	assert.Equal(t, []any{"error", "x"}, FormatForLog(stderrors.New("x")))
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithResult_RetriesRetryable(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", ExternalCall("generate", stderrors.New("503"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return EntityNotFound("x", nil)
	})

	assert.True(t, stderrors.Is(err, ErrEntityNotFound))
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return ExternalCall("rerank", nil)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
