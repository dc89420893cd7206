// errors.go - Tool failure taxonomy shared by the gateway and the front end.
// Every failure that reaches a caller is a *ToolError with one of the codes below.
package mcp

import (
	"errors"
	"fmt"
)

// Error codes are self-describing snake_case strings.
const (
	// Caller errors: fix the arguments, never retried
	ErrValidation = "validation_error"

	// State errors: the extension is not connected
	ErrNoConnection = "no_connection"

	// Communication errors
	ErrTimeout       = "timeout"
	ErrToolExecution = "tool_execution_error"
	ErrTransport     = "transport_error"

	// Internal errors: do not retry
	ErrInternal = "internal_error"
)

// ToolError is a tool-level failure. It travels as data (HTTP body, MCP
// isError result), never as a protocol error.
type ToolError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (e *ToolError) Error() string {
	return e.Code + ": " + e.Message
}

// NewToolError builds a ToolError with the retry default for its code.
func NewToolError(code, format string, args ...any) *ToolError {
	return &ToolError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: RetryableCode(code),
	}
}

// RetryableCode reports whether a caller may retry after this kind of failure.
// Tools with DOM side effects are still never retried automatically; this is
// advice for the caller.
func RetryableCode(code string) bool {
	switch code {
	case ErrNoConnection, ErrTimeout, ErrTransport:
		return true
	default:
		return false
	}
}

// AsToolError converts any error into the taxonomy. Unknown errors become
// tool execution errors.
func AsToolError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return NewToolError(ErrToolExecution, "%s", err.Error())
}
