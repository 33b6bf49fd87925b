// Package mcp exposes the card pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

// MCP error codes.
const (
	// ErrCodeEntityNotFound indicates no card matched the requested name.
	ErrCodeEntityNotFound = -32001

	// ErrCodeExternalCall indicates an embedding, rerank or generation
	// backend failed.
	ErrCodeExternalCall = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeIndexUnavailable indicates a partition could not be read or
	// written.
	ErrCodeIndexUnavailable = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// ErrMissingEngine is returned when no engine is provided.
var ErrMissingEngine = errors.New("mcp: engine is required")

// MCPError is a protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-parameters error.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts a pipeline error to an MCPError.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	ce, ok := carderrors.As(err)
	if !ok {
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}

	message := ce.Message
	if ce.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ce.Message, ce.Suggestion)
	}

	switch {
	case ce.Code == carderrors.ErrCodeEntityNotFound:
		return &MCPError{Code: ErrCodeEntityNotFound, Message: message}
	case ce.Category == carderrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case ce.Category == carderrors.CategoryExternal:
		return &MCPError{Code: ErrCodeExternalCall, Message: message}
	case ce.Category == carderrors.CategoryIO:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
