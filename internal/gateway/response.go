// response.go - Gateway response envelopes and error-to-status mapping.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/brennhill/gasoline-browser-bridge/internal/correlator"
	"github.com/brennhill/gasoline-browser-bridge/internal/extension"
	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
	"github.com/brennhill/gasoline-browser-bridge/internal/util"
)

// CallResponse is the body of every POST /tools/{name} response.
type CallResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *mcp.ToolError  `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	util.JSONResponse(w, http.StatusOK, CallResponse{Success: true, Data: data})
}

func writeToolError(w http.ResponseWriter, te *mcp.ToolError) {
	util.JSONResponse(w, statusFor(te.Code), CallResponse{Success: false, Error: te})
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case mcp.ErrValidation:
		return http.StatusBadRequest
	case mcp.ErrNoConnection:
		return http.StatusServiceUnavailable
	case mcp.ErrTimeout:
		return http.StatusGatewayTimeout
	case mcp.ErrToolExecution, mcp.ErrTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classify converts any call-path error into a ToolError. Once a command may
// have reached the extension, Retryable is only kept for idempotent tools.
func classify(err error, tool string, idempotent bool) *mcp.ToolError {
	var te *mcp.ToolError
	mayHaveRun := true
	switch {
	case errors.As(err, &te):
		cp := *te
		te = &cp
	case errors.Is(err, extension.ErrNoSession):
		te = mcp.NewToolError(mcp.ErrNoConnection, "%s", err.Error())
		mayHaveRun = false
	case errors.Is(err, correlator.ErrDisconnected), errors.Is(err, extension.ErrReplaced):
		te = mcp.NewToolError(mcp.ErrNoConnection, "%s: %v before a reply arrived", tool, err)
	case errors.Is(err, correlator.ErrTimeout):
		te = mcp.NewToolError(mcp.ErrTimeout, "%s: %v", tool, err)
	case errors.Is(err, extension.ErrSendFailed):
		te = mcp.NewToolError(mcp.ErrTransport, "%s: %v", tool, err)
	case errors.Is(err, context.DeadlineExceeded):
		te = mcp.NewToolError(mcp.ErrTimeout, "%s: request deadline exceeded", tool)
	case errors.Is(err, context.Canceled):
		te = mcp.NewToolError(mcp.ErrInternal, "%s: request cancelled", tool)
	default:
		te = mcp.NewToolError(mcp.ErrToolExecution, "%s: %v", tool, err)
	}
	if mayHaveRun && !idempotent {
		te.Retryable = false
	}
	return te
}
