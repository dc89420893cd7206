// conn_test.go - Tests for connection classification and health probes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConnectionError(t *testing.T) {
	t.Parallel()
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	dnsErr := &net.DNSError{Err: "no such host", Name: "nonexistent.example.com"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"op error", opErr, true},
		{"wrapped op error", errors.Join(errors.New("context"), opErr), true},
		{"dns error", dnsErr, true},
		{"wrapped dns error", fmt.Errorf("lookup failed: %w", dnsErr), true},
		{"errno refused", fmt.Errorf("post: %w", syscall.ECONNREFUSED), true},
		{"errno reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"refused string", errors.New("dial tcp 127.0.0.1:7890: connection refused"), true},
		{"no such host string", errors.New("lookup nonexistent.local: no such host"), true},
		{"unrelated", errors.New("timeout exceeded"), false},
		{"empty", errors.New(""), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsConnectionError(tc.err), "%v", tc.err)
		})
	}
}

func TestIsConnectionRefused(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"errno refused", fmt.Errorf("post: %w", syscall.ECONNREFUSED), true},
		{"refused string", errors.New("dial tcp 127.0.0.1:7890: connection refused"), true},
		{"dns error", &net.DNSError{Err: "no such host", Name: "x.invalid"}, true},
		{"reset after write", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, false},
		{"broken pipe", fmt.Errorf("write: %w", syscall.EPIPE), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsConnectionRefused(tc.err), "%v", tc.err)
		})
	}
}

func healthServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeHealth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"healthy bridge", http.StatusOK, `{"status":"ok","service":"gasoline-bridge","version":"1.0.0"}`, false},
		{"other service on port", http.StatusOK, `{"status":"ok","service":"something-else"}`, true},
		{"not json", http.StatusOK, `<html>`, true},
		{"server error", http.StatusInternalServerError, `{}`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := healthServer(t, tc.status, tc.body)
			h, err := ProbeHealth(context.Background(), srv.URL)
			if tc.wantErr {
				require.Error(t, err, "%+v", h)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1.0.0", h.Version)
		})
	}
}

func TestIsServerRunning_NothingListening(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()

	assert.False(t, IsServerRunning(context.Background(), "http://"+addr))
}

func TestWaitForServer(t *testing.T) {
	t.Parallel()
	srv := healthServer(t, http.StatusOK, `{"status":"ok","service":"gasoline-bridge"}`)
	require.True(t, WaitForServer(context.Background(), srv.URL, time.Second))

	start := time.Now()
	require.False(t, WaitForServer(context.Background(), "http://127.0.0.1:1", 300*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()
	assert.Equal(t, MinRequestTimeout, RequestTimeout(0))
	assert.Equal(t, 10*time.Second+ResponseGrace, RequestTimeout(10*time.Second))
}
