package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ce, ok := As(err)
	if !ok {
		ce = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ce.Message))
	if ce.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ce.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ce.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error, used for
// structured error results on the CLI (--json) and MCP surfaces.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ce, ok := As(err)
	if !ok {
		ce = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ce.Code,
		Message:    ce.Message,
		Category:   string(ce.Category),
		Severity:   string(ce.Severity),
		Details:    ce.Details,
		Suggestion: ce.Suggestion,
		Retryable:  ce.Retryable,
	}
	if ce.Cause != nil {
		je.Cause = ce.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog returns slog-ready attributes for err.
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}

	ce, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", ce.Code,
		"message", ce.Message,
		"error_category", string(ce.Category),
		"retryable", ce.Retryable,
	}
	if ce.Cause != nil {
		attrs = append(attrs, "cause", ce.Cause.Error())
	}
	for k, v := range ce.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
