// client.go - Loopback client for a gateway running in another process.
// Implements the same CallTool contract as Server so the stdio front end can
// forward to an already running daemon.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/brennhill/gasoline-browser-bridge/internal/bridge"
	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
	"github.com/brennhill/gasoline-browser-bridge/internal/redaction"
	"github.com/brennhill/gasoline-browser-bridge/internal/registry"
)

// Client forwards tool calls to a gateway at BaseURL.
type Client struct {
	baseURL string
	reg     *registry.Registry
	http    *http.Client
}

// NewClient returns a client for the gateway at baseURL. reg supplies tool
// deadlines for the HTTP request timeout.
func NewClient(baseURL string, reg *registry.Registry) *Client {
	return &Client{baseURL: baseURL, reg: reg, http: &http.Client{}}
}

// CallTool POSTs args to /tools/{name} and decodes the {success, data|error} body.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	timeout := bridge.MinRequestTimeout
	idempotent := true
	if tool, err := c.reg.Lookup(name); err == nil {
		var params map[string]any
		// Malformed args are rejected by the daemon; fall back to the default.
		_ = json.Unmarshal(args, &params)
		timeout = bridge.RequestTimeout(tool.Timeout(params))
		idempotent = tool.Idempotent
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL + "/tools/" + url.PathEscape(name)
	resp, err := bridge.DoHTTP(ctx, c.http, http.MethodPost, endpoint, args)
	if err != nil {
		if bridge.IsConnectionError(err) {
			te := mcp.NewToolError(mcp.ErrTransport, "bridge daemon unreachable at %s: %v", c.baseURL, err)
			// A reset after the body was written may have run the command.
			if !idempotent && !bridge.IsConnectionRefused(err) {
				te.Retryable = false
			}
			return nil, te
		}
		return nil, classify(err, name, idempotent)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1024))
	if err != nil {
		return nil, classify(err, name, idempotent)
	}
	var out CallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, mcp.NewToolError(mcp.ErrTransport, "unexpected gateway response (HTTP %d): %s",
			resp.StatusCode, redaction.Preview(string(body), 200))
	}
	if !out.Success {
		if out.Error == nil {
			return nil, mcp.NewToolError(mcp.ErrInternal, "gateway reported failure without error (HTTP %d)", resp.StatusCode)
		}
		return nil, out.Error
	}
	return out.Data, nil
}

// Tools fetches the daemon's advertised tool list.
func (c *Client) Tools(ctx context.Context) ([]mcp.MCPTool, error) {
	ctx, cancel := context.WithTimeout(ctx, bridge.MinRequestTimeout)
	defer cancel()
	resp, err := bridge.DoHTTP(ctx, c.http, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /tools: HTTP %d", resp.StatusCode)
	}
	var out mcp.MCPToolsListResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("GET /tools: %w", err)
	}
	return out.Tools, nil
}

// Health fetches the daemon's health snapshot.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, bridge.MinRequestTimeout)
	defer cancel()
	resp, err := bridge.DoHTTP(ctx, c.http, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("GET /health: %w", err)
	}
	return &out, nil
}
