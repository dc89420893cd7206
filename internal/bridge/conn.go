// conn.go - Connection helpers: error classification, daemon health probes,
// loopback HTTP transport.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// ServiceName identifies this bridge in /health responses, so a stdio
// process never forwards to an unrelated server that happens to own the port.
const ServiceName = "gasoline-bridge"

// IsConnectionError returns true if the error indicates the daemon is unreachable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// Fallback: string check for wrapped errors that lose type info
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

// IsConnectionRefused reports whether the request never reached a server:
// nothing was sent, so any tool may be retried.
func IsConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}

// BaseURL is the loopback address of a bridge listening on port.
func BaseURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// Health is the subset of the /health body used for daemon detection.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ProbeHealth fetches baseURL/health and checks it is served by this bridge.
func ProbeHealth(ctx context.Context, baseURL string) (*Health, error) {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := DoHTTP(ctx, client, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check: HTTP %d", resp.StatusCode)
	}
	var h Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&h); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	if h.Service != ServiceName {
		return nil, fmt.Errorf("health check: port is served by %q, not %s", h.Service, ServiceName)
	}
	return &h, nil
}

// IsServerRunning reports whether a healthy bridge answers on baseURL.
func IsServerRunning(ctx context.Context, baseURL string) bool {
	_, err := ProbeHealth(ctx, baseURL)
	return err == nil
}

// WaitForServer polls until the bridge is healthy or timeout elapses.
func WaitForServer(ctx context.Context, baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if IsServerRunning(ctx, baseURL) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// DoHTTP sends body (may be nil) to a loopback endpoint and returns the response.
// The caller must provide a context that outlives the response body read.
func DoHTTP(ctx context.Context, client *http.Client, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader) // #nosec G704 -- endpoint is localhost-only
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return client.Do(httpReq)
}
