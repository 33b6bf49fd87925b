package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// CardError is the structured error type for cardrag.
// It carries enough context for logging, CLI rendering and MCP tool results.
type CardError struct {
	// Code is the unique error code (e.g., "ERR_207_ENTITY_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, External, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrEntityNotFound   = &CardError{Code: ErrCodeEntityNotFound}
	ErrEntityNotIndexed = &CardError{Code: ErrCodeEntityNotIndexed}
	ErrPartitionLoad    = &CardError{Code: ErrCodePartitionLoad}
	ErrExternalCall     = &CardError{Code: ErrCodeExternalCall}
	ErrParse            = &CardError{Code: ErrCodeParse}
)

// Error implements the error interface.
func (e *CardError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CardError) Unwrap() error {
	return e.Cause
}

// Is matches another CardError by code.
func (e *CardError) Is(target error) bool {
	if t, ok := target.(*CardError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *CardError) WithDetail(key, value string) *CardError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *CardError) WithSuggestion(suggestion string) *CardError {
	e.Suggestion = suggestion
	return e
}

// New creates a CardError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *CardError {
	return &CardError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CardError from an existing error, reusing its message.
func Wrap(code string, err error) *CardError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// EntityNotFound reports that no source file matched name. samples is a
// short list of resolvable names for diagnostics.
func EntityNotFound(name string, samples []string) *CardError {
	e := New(ErrCodeEntityNotFound, fmt.Sprintf("card %q not found", name), nil).
		WithDetail("entity", name)
	if len(samples) > 0 {
		e.WithDetail("available", strings.Join(samples, ", "))
		e.WithSuggestion("Try one of: " + strings.Join(samples, ", "))
	} else {
		e.WithSuggestion("Check that the card data directories are configured and not empty")
	}
	return e
}

// EntityNotIndexed reports a resolved entity missing from its partition.
func EntityNotIndexed(name, category string) *CardError {
	return New(ErrCodeEntityNotIndexed,
		fmt.Sprintf("card %q has no fragments in the %s index", name, category), nil).
		WithDetail("entity", name).
		WithDetail("category", category).
		WithSuggestion("Run 'cardrag index --force' to rebuild the category index")
}

// PartitionLoad reports an unreadable or missing category source.
func PartitionLoad(category string, cause error) *CardError {
	return New(ErrCodePartitionLoad,
		fmt.Sprintf("load %s partition", category), cause).
		WithDetail("category", category)
}

// ExternalCall wraps a failed embedding, generation or rerank call.
func ExternalCall(op string, cause error) *CardError {
	msg := op + " call failed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(ErrCodeExternalCall, msg, cause).WithDetail("operation", op)
}

// Parse reports a malformed source record.
func Parse(path string, cause error) *CardError {
	msg := "parse " + path
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(ErrCodeParse, msg, cause).WithDetail("path", path)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *CardError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *CardError {
	return New(ErrCodeInvalidInput, message, cause)
}

// As returns the first CardError in err's chain.
func As(err error) (*CardError, bool) {
	var ce *CardError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable CardError.
func IsRetryable(err error) bool {
	ce, ok := As(err)
	return ok && ce.Retryable
}

// GetCode extracts the error code, or "" if err holds no CardError.
func GetCode(err error) string {
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ""
}
