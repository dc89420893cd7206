// wire.go - WireMessage envelopes exchanged with the browser extension.
// Outbound: {type: <wire endpoint>, correlationId, ...params}.
// Inbound:  {type: "<endpoint>Result"|"error", correlationId, ...payload}.
package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
	"github.com/brennhill/gasoline-browser-bridge/internal/registry"
)

// Control frame types. Everything else is a tool command or a tool reply.
const (
	typeHello   = "hello"
	typeWelcome = "welcome"
	typePing    = "ping"
	typePong    = "pong"
	typeError   = "error"

	resultSuffix = "Result"
)

var errMalformed = errors.New("malformed wire message")

type helloFrame struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
	Version  string `json:"version,omitempty"`
}

type welcomeFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type controlFrame struct {
	Type string `json:"type"`
}

// inbound is a decoded extension frame. fields holds the raw top-level keys.
type inbound struct {
	Type          string
	CorrelationID string
	fields        map[string]json.RawMessage
}

func decodeInbound(data []byte) (*inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", errMalformed)
	}
	msg := &inbound{fields: fields}
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &msg.Type); err != nil {
			return nil, fmt.Errorf("%w: type is not a string", errMalformed)
		}
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", errMalformed)
	}
	if raw, ok := fields["correlationId"]; ok {
		if err := json.Unmarshal(raw, &msg.CorrelationID); err != nil {
			return nil, fmt.Errorf("%w: correlationId is not a string", errMalformed)
		}
	}
	return msg, nil
}

// isReply reports whether the frame answers a tool command.
func (m *inbound) isReply() bool {
	return m.Type == typeError || strings.HasSuffix(m.Type, resultSuffix)
}

// failure returns the extension-reported error, if any. A reply is a failure
// when its type is "error", it carries a non-null error field, or success is false.
func (m *inbound) failure() (string, bool) {
	rawErr, hasErr := m.fields["error"]
	if hasErr && isNull(rawErr) {
		hasErr = false
	}
	failed := m.Type == typeError || hasErr
	if raw, ok := m.fields["success"]; ok {
		var success bool
		if json.Unmarshal(raw, &success) == nil && !success {
			failed = true
		}
	}
	if !failed {
		return "", false
	}

	if hasErr {
		if msg := errorText(rawErr); msg != "" {
			return msg, true
		}
	}
	if raw, ok := m.fields["message"]; ok {
		if msg := errorText(raw); msg != "" {
			return msg, true
		}
	}
	return "extension reported failure for " + m.Type, true
}

// errorText accepts "msg" or {"message": "msg", ...}.
func errorText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// payload is the reply data handed to the caller: the "result" field when
// present, otherwise every field except the envelope keys.
func (m *inbound) payload() json.RawMessage {
	if raw, ok := m.fields["result"]; ok {
		return raw
	}
	rest := make(map[string]json.RawMessage, len(m.fields))
	for k, v := range m.fields {
		if k == "type" || k == "correlationId" {
			continue
		}
		rest[k] = v
	}
	// Error impossible: values are already valid JSON
	data, _ := json.Marshal(rest)
	return data
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// encodeCommand builds the outbound frame. The bridge-level timeout override
// is not forwarded.
func encodeCommand(correlationID, endpoint string, params map[string]any) ([]byte, error) {
	frame := make(map[string]any, len(params)+2)
	for k, v := range params {
		if k == registry.TimeoutParam {
			continue
		}
		frame[k] = v
	}
	frame["type"] = endpoint
	frame["correlationId"] = correlationID
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, mcp.NewToolError(mcp.ErrInternal, "encode %s command: %v", endpoint, err)
	}
	return data, nil
}
