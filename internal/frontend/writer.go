// writer.go - The only stdout emitter. Every write is exactly one JSON
// payload plus exactly one newline, serialized across goroutines.
package frontend

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/brennhill/gasoline-browser-bridge/internal/logging"
	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
)

// Writer serializes JSON-RPC messages onto the protocol stream.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	closed bool
	log    *slog.Logger
}

// NewWriter wraps out. Nothing else may write to out.
func NewWriter(out io.Writer, log *slog.Logger) *Writer {
	if log == nil {
		log = logging.Discard()
	}
	return &Writer{out: out, log: log}
}

// WriteResponse marshals and writes resp.
func (w *Writer) WriteResponse(resp mcp.JSONRPCResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		w.log.Error("marshal JSON-RPC response failed", "error", err)
		payload = nil
	}
	w.Write(payload)
}

// Write emits payload as one line. Invalid JSON is replaced by an internal
// error response so the stream stays parseable. Writes after Close are dropped.
func (w *Writer) Write(payload []byte) {
	normalized := w.normalize(payload)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.log.Debug("dropping write after shutdown", "bytes", len(normalized))
		return
	}
	line := make([]byte, 0, len(normalized)+1)
	line = append(line, normalized...)
	line = append(line, '\n')
	// One Write call per message so a pipe never sees a torn line from us.
	if _, err := w.out.Write(line); err != nil {
		w.log.Warn("stdout write failed", "error", err)
	}
	if f, ok := w.out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

// Close makes all further writes no-ops.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// normalize trims outer whitespace and guarantees a valid single-line JSON payload.
func (w *Writer) normalize(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		if bytes.IndexByte(trimmed, '\n') < 0 {
			return trimmed
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err == nil {
			return compact.Bytes()
		}
	}

	w.log.Error("stdout invariant violation: invalid JSON payload", "len", len(payload))
	// Error impossible: simple struct with no circular refs or unsupported types
	respJSON, _ := json.Marshal(mcp.NewError(nil, mcp.CodeInternalError, "bridge emitted invalid JSON payload"))
	return respJSON
}
