// correlator.go - In-flight tool call table keyed by correlation ID.
// The only shared mutable state on the call path. Every completion path
// (reply, explicit failure, timer, disconnect, abandon) goes through complete(),
// which deletes the entry under mu, so an outcome is assigned at most once.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brennhill/gasoline-browser-bridge/internal/logging"
)

var (
	// ErrTimeout is returned by Wait when the call deadline elapses without a reply.
	ErrTimeout = errors.New("timed out waiting for extension reply")
	// ErrDisconnected is the FailAll reason used when the extension session ends.
	ErrDisconnected = errors.New("extension disconnected")
)

// Outcome kinds, used for counters and logs.
const (
	kindResolved     = "resolved"
	kindFailed       = "failed"
	kindTimedOut     = "timed_out"
	kindDisconnected = "disconnected"
	kindAbandoned    = "abandoned"
)

type outcome struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	call  *Call
	timer *time.Timer
	done  chan outcome // buffered(1); written exactly once by complete()
}

// Call is the caller's handle on one registered correlation ID.
type Call struct {
	ID        string
	Tool      string
	CreatedAt time.Time
	Deadline  time.Time

	c    *Correlator
	done <-chan outcome
}

// Stats is a point-in-time view of the correlator counters.
type Stats struct {
	Pending        int    `json:"pending"`
	Registered     uint64 `json:"registered"`
	Completed      uint64 `json:"completed"`
	Failed         uint64 `json:"failed"`
	TimedOut       uint64 `json:"timed_out"`
	Disconnected   uint64 `json:"disconnected"`
	Abandoned      uint64 `json:"abandoned"`
	DroppedReplies uint64 `json:"dropped_replies"`
}

// Correlator matches asynchronous extension replies to registered calls.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
	stats   Stats

	prefix string
	seq    atomic.Uint64
	logger *slog.Logger
}

// New creates an empty correlator. IDs carry a per-process random nonce so a
// reply addressed to a previous process can never match. A nil logger
// discards.
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = logging.Discard()
	}
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return &Correlator{
		pending: make(map[string]*pendingCall),
		prefix:  "c" + nonce + "-",
		logger:  logger,
	}
}

func (c *Correlator) nextID() string {
	return c.prefix + strconv.FormatUint(c.seq.Add(1), 10)
}

// Register allocates a fresh correlation ID and starts its deadline timer.
// It never blocks on I/O.
func (c *Correlator) Register(tool string, timeout time.Duration) *Call {
	now := time.Now()
	done := make(chan outcome, 1)
	call := &Call{
		ID:        c.nextID(),
		Tool:      tool,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
		c:         c,
		done:      done,
	}
	p := &pendingCall{call: call, done: done}

	c.mu.Lock()
	c.pending[call.ID] = p
	c.stats.Registered++
	// Armed under mu so complete() always sees a non-nil timer.
	p.timer = time.AfterFunc(timeout, func() {
		c.complete(call.ID, outcome{err: fmt.Errorf("%w after %dms", ErrTimeout, timeout.Milliseconds())}, kindTimedOut)
	})
	c.mu.Unlock()
	return call
}

// Resolve completes id with a success payload. It reports false and counts a
// dropped reply when id is unknown or already completed.
func (c *Correlator) Resolve(id string, data json.RawMessage) bool {
	return c.completeReply(id, outcome{data: data}, kindResolved)
}

// Fail completes id with err. Same no-op semantics as Resolve.
func (c *Correlator) Fail(id string, err error) bool {
	return c.completeReply(id, outcome{err: err}, kindFailed)
}

func (c *Correlator) completeReply(id string, out outcome, kind string) bool {
	if c.complete(id, out, kind) {
		return true
	}
	c.mu.Lock()
	c.stats.DroppedReplies++
	c.mu.Unlock()
	c.logger.Debug("dropped reply for unknown or completed call", "correlation_id", id, "kind", kind)
	return false
}

// FailAll completes every pending call with err and returns how many it failed.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	victims := make([]*pendingCall, 0, len(c.pending))
	for id, p := range c.pending {
		delete(c.pending, id)
		p.timer.Stop()
		victims = append(victims, p)
	}
	c.stats.Disconnected += uint64(len(victims))
	c.mu.Unlock()

	for _, p := range victims {
		p.done <- outcome{err: err}
	}
	if len(victims) > 0 {
		c.logger.Info("failed all pending calls", "count", len(victims), "reason", err)
	}
	return len(victims)
}

// Abandon removes id without delivering a result to anyone but its own
// waiter. Used when the outbound send fails after registration.
func (c *Correlator) Abandon(id string, err error) bool {
	return c.complete(id, outcome{err: err}, kindAbandoned)
}

// complete is the single-assignment point. Whoever deletes the entry wins.
func (c *Correlator) complete(id string, out outcome, kind string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	p.timer.Stop()
	switch kind {
	case kindResolved:
		c.stats.Completed++
	case kindFailed:
		c.stats.Failed++
	case kindTimedOut:
		c.stats.TimedOut++
	case kindAbandoned:
		c.stats.Abandoned++
	}
	c.mu.Unlock()

	p.done <- out
	if kind == kindTimedOut {
		c.logger.Warn("call timed out", "correlation_id", id, "tool", p.call.Tool,
			"elapsed_ms", time.Since(p.call.CreatedAt).Milliseconds())
	}
	return true
}

// PendingTool returns the tool name of id while it is still in flight.
func (c *Correlator) PendingTool(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return "", false
	}
	return p.call.Tool, true
}

// Pending reports the number of in-flight calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Snapshot returns the current counters.
func (c *Correlator) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = len(c.pending)
	return s
}

// Wait blocks until the call completes or ctx is done. On ctx expiry the call
// is abandoned so its timer and table entry are released immediately.
func (call *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case out := <-call.done:
		return out.data, out.err
	case <-ctx.Done():
	}
	if call.c.Abandon(call.ID, ctx.Err()) {
		return nil, ctx.Err()
	}
	// Lost the race to a concurrent completion; its outcome is already buffered.
	out := <-call.done
	return out.data, out.err
}
