// server.go - HTTP Gateway: one POST endpoint per tool plus /tools, /health
// and the extension WebSocket upgrade at /ws.
// Each accepted call is validated, registered with the correlator, sent as
// exactly one WireMessage and answered with the correlator's outcome.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/brennhill/gasoline-browser-bridge/internal/bridge"
	"github.com/brennhill/gasoline-browser-bridge/internal/correlator"
	"github.com/brennhill/gasoline-browser-bridge/internal/extension"
	"github.com/brennhill/gasoline-browser-bridge/internal/logging"
	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
	"github.com/brennhill/gasoline-browser-bridge/internal/registry"
	"github.com/brennhill/gasoline-browser-bridge/internal/util"
)

// maxBodySize caps tool request bodies.
const maxBodySize = 10 * 1024 * 1024

// Extension is the connection manager as seen by the gateway.
type Extension interface {
	http.Handler
	Send(ctx context.Context, correlationID, endpoint string, params map[string]any) error
	Info() extension.SessionInfo
}

// Options configures a Server.
type Options struct {
	Version string
	Origins OriginPolicy
	Logger  *slog.Logger
}

// Server is the HTTP Gateway.
type Server struct {
	reg     *registry.Registry
	corr    *correlator.Correlator
	ext     Extension
	opts    Options
	log     *slog.Logger
	started time.Time
}

// New wires a gateway over the registry, correlator and extension manager.
func New(reg *registry.Registry, corr *correlator.Correlator, ext Extension, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{reg: reg, corr: corr, ext: ext, opts: opts, log: opts.Logger, started: time.Now()}
}

// Handler returns the routed handler with security and recovery middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tools/{name}", s.handleCall)
	mux.HandleFunc("GET /tools", s.handleList)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.ext)
	return recoverMiddleware(s.log, s.opts.Origins.guard(mux))
}

// Serve runs the gateway on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	errCh := make(chan error, 1)
	util.SafeGo(func() { errCh <- srv.Serve(ln) })
	s.log.Info("gateway listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// In-flight calls are abandoned; hijacked WebSocket conns are not tracked by Shutdown.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	return nil
}

// ============================================
// Call path
// ============================================

// CallTool runs one tool call end to end. Every failure is a *mcp.ToolError.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	tool, err := s.reg.Lookup(name)
	if err != nil {
		return nil, mcp.NewToolError(mcp.ErrValidation, "unknown tool %q", name)
	}
	params, err := tool.Validate(args)
	if err != nil {
		return nil, err
	}

	call := s.corr.Register(tool.Name, tool.Timeout(params))
	log := s.log.With("tool", tool.Name, "correlation_id", call.ID)

	// When Abandon loses, the call completed before the send (replaced,
	// timed out) and Wait reports that outcome.
	if err := s.ext.Send(ctx, call.ID, tool.WireEndpoint, params); err != nil && s.corr.Abandon(call.ID, err) {
		te := classify(err, tool.Name, tool.Idempotent)
		te.CorrelationID = call.ID
		log.Debug("send failed", "code", te.Code, "error", err)
		return nil, te
	}

	data, err := call.Wait(ctx)
	if err != nil {
		te := classify(err, tool.Name, tool.Idempotent)
		te.CorrelationID = call.ID
		log.Debug("call failed", "code", te.Code, "elapsed_ms", time.Since(call.CreatedAt).Milliseconds())
		return nil, te
	}
	log.Debug("call completed", "elapsed_ms", time.Since(call.CreatedAt).Milliseconds())
	return data, nil
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.reg.Lookup(name); err != nil {
		te := mcp.NewToolError(mcp.ErrValidation, "unknown tool %q", name)
		util.JSONResponse(w, http.StatusNotFound, CallResponse{Success: false, Error: te})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeToolError(w, mcp.NewToolError(mcp.ErrValidation, "%s: reading request body: %v", name, err))
		return
	}

	data, err := s.CallTool(r.Context(), name, body)
	if err != nil {
		writeToolError(w, mcp.AsToolError(err))
		return
	}
	writeData(w, data)
}

// ============================================
// Introspection
// ============================================

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	util.JSONResponse(w, http.StatusOK, mcp.MCPToolsListResult{Tools: s.reg.MCPTools()})
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string                `json:"status"`
	Service   string                `json:"service"`
	Version   string                `json:"version"`
	UptimeMS  int64                 `json:"uptime_ms"`
	Extension extension.SessionInfo `json:"extension"`
	Calls     correlator.Stats      `json:"calls"`
}

// Health assembles the current health snapshot.
func (s *Server) Health() HealthResponse {
	info := s.ext.Info()
	status := "ok"
	if !info.Connected {
		status = "waiting_for_extension"
	}
	return HealthResponse{
		Status:    status,
		Service:   bridge.ServiceName,
		Version:   s.opts.Version,
		UptimeMS:  time.Since(s.started).Milliseconds(),
		Extension: info,
		Calls:     s.corr.Snapshot(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	util.JSONResponse(w, http.StatusOK, s.Health())
}
