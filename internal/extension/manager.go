// manager.go - Extension Connection Manager: owns the single WebSocket session.
// States: Disconnected -> Connected -> Disconnected. The extension dials in;
// the manager verifies its identity, multiplexes commands over the socket by
// correlation ID and fails every pending call when the session ends.
// Lock order: Manager.mu -> correlator. The correlator never calls back here.
package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/brennhill/gasoline-browser-bridge/internal/correlator"
	"github.com/brennhill/gasoline-browser-bridge/internal/logging"
	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
	"github.com/brennhill/gasoline-browser-bridge/internal/redaction"
	"github.com/brennhill/gasoline-browser-bridge/internal/registry"
	"github.com/brennhill/gasoline-browser-bridge/internal/util"
)

var (
	// ErrNoSession is returned by Send when no extension is connected.
	ErrNoSession = errors.New("browser extension not available: no active session")
	// ErrIdentityMismatch rejects a peer that is not the expected extension.
	ErrIdentityMismatch = errors.New("extension identity mismatch")
	// ErrSendFailed wraps a WebSocket write failure.
	ErrSendFailed = errors.New("failed to send command to extension")
	// ErrReplaced fails calls pending on a session superseded by a new connection.
	ErrReplaced = errors.New("extension session replaced by a new connection")
	// ErrNotPending is returned by Send, without writing, when the call
	// already has an outcome.
	ErrNotPending = errors.New("call is no longer pending; command not sent")
)

// Defaults for zero Options fields.
const (
	DefaultIdentity          = "gasoline-extension"
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	// Screenshots arrive as base64 data URLs; the library default of 32KiB is far too small.
	DefaultReadLimit int64 = 32 << 20
)

// Resolver is the part of the correlator the manager drives.
type Resolver interface {
	Resolve(id string, data json.RawMessage) bool
	Fail(id string, err error) bool
	FailAll(err error) int
	PendingTool(id string) (string, bool)
}

// Options configures a Manager.
type Options struct {
	Identity          string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration // <0 disables pings
	WriteTimeout      time.Duration
	ReadLimit         int64
	// Tools enables the reply-type check against the pending call's tool.
	Tools  *registry.Registry
	Logger *slog.Logger // nil discards
}

func (o *Options) withDefaults() {
	if o.Identity == "" {
		o.Identity = DefaultIdentity
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Session is one live extension connection. Replaced, never mutated.
type Session struct {
	ID          string
	Identity    string
	Version     string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
	ctx     context.Context // ends with the session; bounds command writes
	cancel  context.CancelFunc
}

func (s *Session) write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Session) writeJSON(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, v)
}

// SessionInfo is the health view of the current session.
type SessionInfo struct {
	Connected       bool       `json:"connected"`
	SessionID       string     `json:"session_id,omitempty"`
	Identity        string     `json:"identity,omitempty"`
	Version         string     `json:"version,omitempty"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	Sessions        uint64     `json:"sessions_total"`
	Rejected        uint64     `json:"rejected_total"`
	TransportErrors uint64     `json:"transport_errors"`
}

// Manager owns the extension session pointer.
type Manager struct {
	opts     Options
	resolver Resolver
	log      *slog.Logger

	mu      sync.Mutex
	session *Session

	sessions        atomic.Uint64
	rejected        atomic.Uint64
	transportErrors atomic.Uint64
}

// NewManager creates a manager that routes replies into resolver.
func NewManager(resolver Resolver, opts Options) *Manager {
	opts.withDefaults()
	return &Manager{opts: opts, resolver: resolver, log: opts.Logger}
}

// ============================================
// Connection lifecycle
// ============================================

// ServeHTTP upgrades the request and runs the session until the socket
// closes. Origin and Host checks are done by the gateway middleware.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		m.log.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(m.opts.ReadLimit)
	defer conn.CloseNow()

	hello, err := m.handshake(r.Context(), conn, r.URL.Query().Get("identity"))
	if err != nil {
		m.rejected.Add(1)
		m.log.Warn("extension rejected", "remote", r.RemoteAddr, "error", err)
		status := websocket.StatusPolicyViolation
		if !errors.Is(err, ErrIdentityMismatch) {
			status = websocket.StatusProtocolError
		}
		_ = conn.Close(status, truncateReason(err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s := &Session{
		ID:          uuid.NewString(),
		Identity:    hello.Identity,
		Version:     hello.Version,
		ConnectedAt: time.Now(),
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
	}

	// Attached before the welcome so a peer that has seen it can be sent to.
	m.attach(s)
	defer m.detach(s, correlator.ErrDisconnected)

	welcomeCtx, welcomeCancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	err = s.writeJSON(welcomeCtx, welcomeFrame{Type: typeWelcome, SessionID: s.ID})
	welcomeCancel()
	if err != nil {
		m.log.Warn("welcome write failed", "error", err)
		return
	}

	if m.opts.HeartbeatInterval > 0 {
		util.SafeGo(func() { m.heartbeat(ctx, s) })
	}
	m.readLoop(ctx, s)
}

// handshake reads the hello frame and checks the identity. A ?identity= query
// parameter is accepted when the hello frame omits it.
func (m *Manager) handshake(ctx context.Context, conn *websocket.Conn, queryIdentity string) (*helloFrame, error) {
	hctx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	var hello helloFrame
	if err := wsjson.Read(hctx, conn, &hello); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != typeHello {
		return nil, fmt.Errorf("expected hello frame, got %q", hello.Type)
	}
	if hello.Identity == "" {
		hello.Identity = queryIdentity
	}
	if hello.Identity != m.opts.Identity {
		return nil, fmt.Errorf("%w: got %q", ErrIdentityMismatch, hello.Identity)
	}
	return &hello, nil
}

// attach installs s as the current session. Calls pending on a previous
// session are failed before the swap completes.
func (m *Manager) attach(s *Session) {
	m.mu.Lock()
	old := m.session
	m.session = s
	failed := 0
	if old != nil {
		failed = m.resolver.FailAll(ErrReplaced)
	}
	m.mu.Unlock()
	m.sessions.Add(1)

	if old != nil {
		// Close waits for the peer's close frame; do not hold up the new session.
		util.SafeGo(func() {
			_ = old.conn.Close(websocket.StatusGoingAway, "replaced by new connection")
			old.cancel()
		})
		m.log.Info("extension session replaced", "old_session", old.ID, "session", s.ID, "failed_calls", failed)
	}
	m.log.Info("extension connected", "session", s.ID, "version", s.Version)
}

// detach clears s if it is still current and fails every pending call.
func (m *Manager) detach(s *Session, reason error) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	m.session = nil
	failed := m.resolver.FailAll(reason)
	m.mu.Unlock()

	s.cancel()
	m.log.Info("extension disconnected", "session", s.ID, "failed_calls", failed, "reason", reason)
}

func (m *Manager) readLoop(ctx context.Context, s *Session) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				m.log.Debug("extension closed socket", "session", s.ID, "status", status)
			} else if ctx.Err() == nil {
				m.log.Debug("extension read failed", "session", s.ID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			m.transportErrors.Add(1)
			m.log.Warn("dropping binary frame from extension", "session", s.ID, "bytes", len(data))
			continue
		}
		m.HandleMessage(ctx, s, data)
	}
}

func (m *Manager) heartbeat(ctx context.Context, s *Session) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
		err := s.conn.Ping(pctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("extension heartbeat failed, closing session", "session", s.ID, "error", err)
			_ = s.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
			return
		}
	}
}

// ============================================
// Message routing
// ============================================

// HandleMessage routes one inbound frame. Malformed frames are logged and
// dropped; they never affect unrelated pending calls.
func (m *Manager) HandleMessage(ctx context.Context, s *Session, data []byte) {
	msg, err := decodeInbound(data)
	if err != nil {
		m.transportErrors.Add(1)
		m.log.Warn("dropping malformed extension message", "session", s.ID, "error", err,
			"preview", redaction.Preview(string(data), 200))
		return
	}

	switch {
	case msg.Type == typePing:
		wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
		defer cancel()
		if err := s.writeJSON(wctx, controlFrame{Type: typePong}); err != nil {
			m.log.Debug("pong write failed", "session", s.ID, "error", err)
		}
		return
	case msg.Type == typePong || msg.Type == typeHello:
		return
	case !msg.isReply():
		m.transportErrors.Add(1)
		m.log.Warn("dropping extension message of unknown type", "session", s.ID, "type", msg.Type)
		return
	case msg.CorrelationID == "":
		m.transportErrors.Add(1)
		m.log.Warn("dropping reply without correlationId", "session", s.ID, "type", msg.Type)
		return
	}

	if msg.Type != typeError {
		m.checkReplyType(s, msg)
	}

	if text, failed := msg.failure(); failed {
		te := mcp.NewToolError(mcp.ErrToolExecution, "%s", text)
		te.CorrelationID = msg.CorrelationID
		if !m.resolver.Fail(msg.CorrelationID, te) {
			m.log.Debug("late or duplicate error reply", "correlation_id", msg.CorrelationID)
		}
		return
	}
	if !m.resolver.Resolve(msg.CorrelationID, msg.payload()) {
		m.log.Debug("late or duplicate reply", "correlation_id", msg.CorrelationID, "type", msg.Type)
	}
}

// checkReplyType counts a reply whose type does not answer the pending
// call's tool. The reply is still routed by correlation ID.
func (m *Manager) checkReplyType(s *Session, msg *inbound) {
	if m.opts.Tools == nil {
		return
	}
	name, ok := m.resolver.PendingTool(msg.CorrelationID)
	if !ok {
		return
	}
	tool, err := m.opts.Tools.Lookup(name)
	if err != nil || tool.ResultType() == msg.Type {
		return
	}
	m.transportErrors.Add(1)
	m.log.Warn("reply type does not match pending call", "session", s.ID,
		"correlation_id", msg.CorrelationID, "type", msg.Type, "want", tool.ResultType())
}

// ============================================
// Outbound
// ============================================

// Send writes one command frame to the current session. It returns
// ErrNoSession immediately when nothing is connected and ErrNotPending when
// the call was completed (replaced, timed out, abandoned) before the write.
// A cancelled ctx fails only this call. A socket write failure tears the
// session down and returns an error wrapping ErrSendFailed.
func (m *Manager) Send(ctx context.Context, correlationID, endpoint string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeCommand(correlationID, endpoint, params)
	if err != nil {
		return err
	}

	// Session choice and the pending check share the critical section attach
	// uses to fail calls, so a replaced call is never sent to the new peer.
	m.mu.Lock()
	s := m.session
	_, pending := m.resolver.PendingTool(correlationID)
	m.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	if !pending {
		return ErrNotPending
	}

	// Bounded by the session, not the caller: the socket is shared.
	wctx, cancel := context.WithTimeout(s.ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := s.write(wctx, data); err != nil {
		m.log.Warn("command write failed, dropping session", "session", s.ID, "endpoint", endpoint, "error", err)
		m.detach(s, fmt.Errorf("%w: %v", ErrSendFailed, err))
		_ = s.conn.CloseNow()
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	m.log.Debug("command sent", "session", s.ID, "endpoint", endpoint, "correlation_id", correlationID)
	return nil
}

// Connected reports whether a session is live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Info returns a snapshot of the session state and counters.
func (m *Manager) Info() SessionInfo {
	info := SessionInfo{
		Sessions:        m.sessions.Load(),
		Rejected:        m.rejected.Load(),
		TransportErrors: m.transportErrors.Load(),
	}
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		connectedAt := s.ConnectedAt
		info.Connected = true
		info.SessionID = s.ID
		info.Identity = s.Identity
		info.Version = s.Version
		info.ConnectedAt = &connectedAt
	}
	return info
}

// Close ends the current session, failing its pending calls.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return
	}
	_ = s.conn.Close(websocket.StatusGoingAway, "bridge shutting down")
	m.detach(s, correlator.ErrDisconnected)
}

// truncateReason keeps close reasons inside the 123-byte control frame limit.
func truncateReason(s string) string {
	const maxReason = 120
	if len(s) > maxReason {
		return s[:maxReason]
	}
	return s
}
