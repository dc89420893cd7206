// validate.go - Structural validation of caller arguments before any network hop.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
)

// Validate parses args and checks them against the tool's schema. It returns
// the decoded parameters, or a *mcp.ToolError with code validation_error.
// Empty and null arguments are treated as an empty object.
func (t *Tool) Validate(args json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, mcp.NewToolError(mcp.ErrValidation, "%s: arguments are not valid JSON: %v", t.Name, err)
	}
	params, ok := decoded.(map[string]any)
	if !ok {
		return nil, mcp.NewToolError(mcp.ErrValidation, "%s: arguments must be a JSON object", t.Name)
	}

	if unknown := t.unknownParams(params); len(unknown) > 0 {
		return nil, mcp.NewToolError(mcp.ErrValidation, "%s: unknown parameter(s) %s", t.Name, strings.Join(unknown, ", "))
	}
	if err := t.resolved.Validate(params); err != nil {
		return nil, mcp.NewToolError(mcp.ErrValidation, "%s: %v", t.Name, err)
	}
	return params, nil
}

// unknownParams lists argument keys that are not schema properties, sorted.
// The schema also sets additionalProperties=false; this gives a clearer message.
func (t *Tool) unknownParams(params map[string]any) []string {
	props, _ := t.InputSchema["properties"].(map[string]any)
	var unknown []string
	for k := range params {
		if _, known := props[k]; !known {
			unknown = append(unknown, fmt.Sprintf("'%s'", k))
		}
	}
	sort.Strings(unknown)
	return unknown
}
