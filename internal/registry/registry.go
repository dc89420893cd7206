// registry.go - Static tool table: name -> wire endpoint, schema, timeout.
// Built once at startup and read-only afterwards. Construction checks the table
// is exhaustive (every tool has a wire endpoint and a compilable schema) so no
// per-call lookup can fail on a registered name.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
)

// TimeoutParam is the optional per-call timeout override (milliseconds)
// accepted by every tool.
const TimeoutParam = "timeout"

// DefaultMaxTimeout caps caller-supplied timeout overrides.
const DefaultMaxTimeout = 60 * time.Second

// ErrToolNotFound is returned by Lookup for unregistered names.
var ErrToolNotFound = errors.New("tool not found")

// Tool is one immutable registry entry.
type Tool struct {
	Name           string
	Title          string
	Description    string
	WireEndpoint   string
	DefaultTimeout time.Duration
	// Idempotent is false for tools with DOM side effects (click, type).
	Idempotent  bool
	ReadOnly    bool
	InputSchema map[string]any

	maxTimeout time.Duration
	resolved   *jsonschema.Resolved
}

// Options adjusts the built-in table.
type Options struct {
	// Timeouts overrides DefaultTimeout per tool name.
	Timeouts map[string]time.Duration
	// MaxTimeout caps both defaults and caller overrides. Zero means DefaultMaxTimeout.
	MaxTimeout time.Duration
}

// Registry is the read-only tool table.
type Registry struct {
	tools      []*Tool
	byName     map[string]*Tool
	byEndpoint map[string]*Tool
	maxTimeout time.Duration
}

// Default builds the registry of built-in browser tools.
func Default(opts Options) (*Registry, error) {
	return New(BuiltinTools(), opts)
}

// New validates defs and builds a registry. It fails on duplicate names or
// endpoints, missing endpoints, bad schemas, non-positive timeouts, and
// timeout overrides naming unknown tools.
func New(defs []Tool, opts Options) (*Registry, error) {
	maxTimeout := opts.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = DefaultMaxTimeout
	}

	r := &Registry{
		tools:      make([]*Tool, 0, len(defs)),
		byName:     make(map[string]*Tool, len(defs)),
		byEndpoint: make(map[string]*Tool, len(defs)),
		maxTimeout: maxTimeout,
	}

	for name := range opts.Timeouts {
		if !containsTool(defs, name) {
			return nil, fmt.Errorf("timeout override for unknown tool %q", name)
		}
	}

	for i := range defs {
		t := defs[i]
		if t.Name == "" {
			return nil, fmt.Errorf("tool #%d has no name", i)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		if t.WireEndpoint == "" {
			return nil, fmt.Errorf("tool %q has no wire endpoint", t.Name)
		}
		if other, dup := r.byEndpoint[t.WireEndpoint]; dup {
			return nil, fmt.Errorf("tools %q and %q share wire endpoint %q", other.Name, t.Name, t.WireEndpoint)
		}
		if override, ok := opts.Timeouts[t.Name]; ok {
			t.DefaultTimeout = override
		}
		if t.DefaultTimeout <= 0 {
			return nil, fmt.Errorf("tool %q has non-positive timeout %v", t.Name, t.DefaultTimeout)
		}
		if t.DefaultTimeout > maxTimeout {
			return nil, fmt.Errorf("tool %q timeout %v exceeds maximum %v", t.Name, t.DefaultTimeout, maxTimeout)
		}
		resolved, err := compileSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", t.Name, err)
		}
		t.resolved = resolved
		t.maxTimeout = maxTimeout

		tool := &t
		r.tools = append(r.tools, tool)
		r.byName[tool.Name] = tool
		r.byEndpoint[tool.WireEndpoint] = tool
	}
	return r, nil
}

func containsTool(defs []Tool, name string) bool {
	for _, d := range defs {
		if d.Name == name {
			return true
		}
	}
	return false
}

// compileSchema converts the literal schema map into a resolved JSON schema.
func compileSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	if schema == nil {
		return nil, errors.New("missing input schema")
	}
	if schema["type"] != "object" {
		return nil, errors.New(`input schema must have type "object"`)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// MaxTimeout returns the cap applied to caller timeout overrides.
func (r *Registry) MaxTimeout() time.Duration {
	return r.maxTimeout
}

// MCPTools returns the registry contents as MCP tool definitions.
func (r *Registry) MCPTools() []mcp.MCPTool {
	out := make([]mcp.MCPTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.MCPTool())
	}
	return out
}

// MCPTool renders the tool for tools/list.
func (t *Tool) MCPTool() mcp.MCPTool {
	return mcp.MCPTool{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		InputSchema: t.InputSchema,
		Annotations: &mcp.MCPToolAnnotation{
			ReadOnlyHint:    t.ReadOnly,
			DestructiveHint: !t.ReadOnly && !t.Idempotent,
			IdempotentHint:  t.Idempotent,
			OpenWorldHint:   true,
		},
	}
}

// ResultType is the inbound message type the extension uses to answer this tool.
func (t *Tool) ResultType() string {
	return t.WireEndpoint + "Result"
}

// Timeout returns the deadline for one call: the caller's timeout parameter
// when present and positive, otherwise the tool default, capped at the
// registry maximum.
func (t *Tool) Timeout(params map[string]any) time.Duration {
	timeout := t.DefaultTimeout
	if v, ok := params[TimeoutParam].(float64); ok && v > 0 {
		ns := v * float64(time.Millisecond)
		if t.maxTimeout > 0 && ns > float64(t.maxTimeout) {
			return t.maxTimeout
		}
		timeout = time.Duration(ns)
	}
	if t.maxTimeout > 0 && timeout > t.maxTimeout {
		timeout = t.maxTimeout
	}
	return timeout
}
