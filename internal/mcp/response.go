// response.go - Tool result construction and JSON serialization helpers.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const marshalFallback = `{"content":[{"type":"text","text":"Internal error: failed to marshal result"}],"isError":true}`

// SafeMarshal performs JSON marshaling with a fallback value.
func SafeMarshal(v any, fallback string) json.RawMessage {
	resultJSON, err := json.Marshal(v)
	if err != nil {
		slog.Error("json marshal failed", "error", err)
		return json.RawMessage(fallback)
	}
	return json.RawMessage(resultJSON)
}

// TextResponse constructs a tool result containing a single text block.
func TextResponse(text string) json.RawMessage {
	result := MCPToolResult{
		Content: []MCPContentBlock{{Type: "text", Text: text}},
	}
	return SafeMarshal(result, marshalFallback)
}

// ContentResponse constructs a successful tool result from prepared blocks.
func ContentResponse(blocks []MCPContentBlock) json.RawMessage {
	return SafeMarshal(MCPToolResult{Content: blocks}, marshalFallback)
}

// ErrorResponse constructs a tool error result containing a single text block.
func ErrorResponse(text string) json.RawMessage {
	result := MCPToolResult{
		Content: []MCPContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
	return SafeMarshal(result, marshalFallback)
}

// ToolErrorResponse renders a ToolError as an isError result. Format:
//
//	Error: no_connection - browser extension not available
//	{"code":"no_connection","message":"...","retryable":true}
func ToolErrorResponse(te *ToolError) json.RawMessage {
	// Error impossible: ToolError holds only strings and a bool
	teJSON, _ := json.Marshal(te)
	text := fmt.Sprintf("Error: %s - %s\n%s", te.Code, te.Message, string(teJSON))
	return ErrorResponse(text)
}

// JSONText renders data as compact JSON for a text block, prefixed with an
// optional summary line.
func JSONText(summary string, data any) string {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "Failed to serialize response: " + err.Error()
	}
	if summary == "" {
		return string(dataJSON)
	}
	return summary + "\n" + string(dataJSON)
}

// Truncate returns s unchanged if len(s) <= maxLen. Otherwise, it truncates
// and appends "..." so the total output length equals maxLen.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// ParseDataURL splits a "data:<mime>;base64,<payload>" URL. ok is false for
// anything that is not a base64 image.
func ParseDataURL(s string) (mimeType, payload string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, found = strings.CutSuffix(header, ";base64")
	if !found || !strings.HasPrefix(mimeType, "image/") || payload == "" {
		return "", "", false
	}
	return mimeType, payload, true
}
