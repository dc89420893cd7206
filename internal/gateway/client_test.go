package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
	testhelpers "github.com/brennhill/gasoline-browser-bridge/internal/testing"
)

func TestClient_ForwardsCalls(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	client := NewClient(f.url, f.reg)

	_, err := client.CallTool(context.Background(), "browser_screenshot", nil)
	require.Error(t, err)
	te := mcp.AsToolError(err)
	assert.Equal(t, mcp.ErrNoConnection, te.Code)
	assert.Contains(t, te.Message, "not available")

	ext := testhelpers.DialExtension(t, f.wsURL, testhelpers.Identity)
	go func() {
		cmd, err := ext.ReadCommand()
		if err == nil {
			ext.Reply(cmd, map[string]any{"dataUrl": "data:image/png;base64,iVBORw0KGgo="})
		}
	}()
	data, err := client.CallTool(context.Background(), "browser_screenshot", json.RawMessage(`{"fullPage":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataUrl":"data:image/png;base64,iVBORw0KGgo="}`, string(data))
}

func TestClient_ValidationErrorsPassThrough(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	client := NewClient(f.url, f.reg)

	_, err := client.CallTool(context.Background(), "browser_type", json.RawMessage(`{"selector":"#q"}`))
	te := mcp.AsToolError(err)
	assert.Equal(t, mcp.ErrValidation, te.Code)
}

func TestClient_UnreachableDaemon(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := NewClient("http://"+addr, f.reg)
	_, err = client.CallTool(context.Background(), "browser_get_console", nil)
	te := mcp.AsToolError(err)
	assert.Equal(t, mcp.ErrTransport, te.Code)
	assert.True(t, te.Retryable)

	// Refused before anything was sent: safe to retry even a click.
	_, err = client.CallTool(context.Background(), "browser_click", json.RawMessage(`{"selector":"#buy"}`))
	te = mcp.AsToolError(err)
	assert.Equal(t, mcp.ErrTransport, te.Code)
	assert.True(t, te.Retryable)
}

func TestClient_ResetAfterSendNotRetryableForClick(t *testing.T) {
	t.Parallel()
	reg := newFixture(t).reg
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, reg)

	_, err := client.CallTool(context.Background(), "browser_click", json.RawMessage(`{"selector":"#buy"}`))
	require.Error(t, err)
	assert.False(t, mcp.AsToolError(err).Retryable)
}

func TestClient_ToolsAndHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	client := NewClient(f.url, f.reg)

	tools, err := client.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, len(f.reg.Tools()))

	h, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", h.Version)
	assert.False(t, h.Extension.Connected)
}
