// middleware.go - HTTP middleware and security helpers.
// Host and Origin validation against DNS rebinding, CORS echo, panic recovery.
package gateway

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
)

// OriginPolicy pins browser-extension origins. Empty IDs accept any
// extension of that browser.
type OriginPolicy struct {
	ChromeExtensionID  string
	FirefoxExtensionID string
}

// allowed checks if an Origin header value is from localhost or a browser extension.
// Returns true for empty origin (CLI/curl), localhost variants, and browser extension origins.
func (p OriginPolicy) allowed(origin string) bool {
	if origin == "" {
		return true
	}
	if id, ok := strings.CutPrefix(origin, "chrome-extension://"); ok {
		return p.ChromeExtensionID == "" || id == p.ChromeExtensionID
	}
	if id, ok := strings.CutPrefix(origin, "moz-extension://"); ok {
		return p.FirefoxExtensionID == "" || id == p.FirefoxExtensionID
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopbackName(u.Hostname())
}

// isAllowedHost checks if the Host header is a localhost variant.
// A browser tricked by DNS rebinding sends Host: attacker.com, which is rejected.
func isAllowedHost(host string) bool {
	if host == "" {
		return true
	}
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	hostname = strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	return isLoopbackName(hostname)
}

func isLoopbackName(hostname string) bool {
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// guard applies Host and Origin validation, then echoes the allowed origin.
func (p OriginPolicy) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAllowedHost(r.Host) {
			http.Error(w, "Invalid Host header", http.StatusForbidden)
			return
		}
		origin := r.Header.Get("Origin")
		if !p.allowed(origin) {
			http.Error(w, `{"error":"forbidden: invalid origin"}`, http.StatusForbidden)
			return
		}
		// Never wildcard.
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns a handler panic into a tool_execution_error
// response. http.ErrAbortHandler is re-raised so net/http can drop the conn.
func recoverMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error("panic in HTTP handler", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
			writeToolError(w, mcp.NewToolError(mcp.ErrToolExecution, "internal error handling %s", r.URL.Path))
		}()
		next.ServeHTTP(w, r)
	})
}
