package correlator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitResult(t *testing.T, call *Call) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return call.Wait(ctx)
}

func TestRegister_UniqueIDs(t *testing.T) {
	t.Parallel()
	c := New(nil)
	other := New(nil)

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				call := c.Register("t", time.Minute)
				mu.Lock()
				seen[call.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)

	// A second process (correlator) never produces the same IDs.
	assert.False(t, seen[other.Register("t", time.Minute).ID])
	c.FailAll(ErrDisconnected)
	other.FailAll(ErrDisconnected)
}

func TestResolve_DeliversPayload(t *testing.T) {
	t.Parallel()
	c := New(nil)
	call := c.Register("browser_navigate", time.Minute)
	assert.Equal(t, 1, c.Pending())

	require.True(t, c.Resolve(call.ID, json.RawMessage(`{"url":"https://example.com"}`)))
	data, err := waitResult(t, call)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(data))
	assert.Equal(t, 0, c.Pending())
}

func TestNew_NilLoggerDiscards(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	c := New(nil)
	call := c.Register("browser_wait", time.Millisecond)
	_, err := waitResult(t, call)
	require.ErrorIs(t, err, ErrTimeout)
	c.Register("browser_wait", time.Minute)
	c.FailAll(ErrDisconnected)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, buf.String())
}

func TestPendingTool(t *testing.T) {
	t.Parallel()
	c := New(nil)
	call := c.Register("browser_click", time.Minute)

	tool, ok := c.PendingTool(call.ID)
	require.True(t, ok)
	assert.Equal(t, "browser_click", tool)

	require.True(t, c.Resolve(call.ID, json.RawMessage(`{}`)))
	_, ok = c.PendingTool(call.ID)
	assert.False(t, ok)
	_, ok = c.PendingTool("c0-unknown")
	assert.False(t, ok)
}

func TestResolve_DuplicateIsNoop(t *testing.T) {
	t.Parallel()
	c := New(nil)
	call := c.Register("t", time.Minute)

	assert.True(t, c.Resolve(call.ID, json.RawMessage(`1`)))
	assert.False(t, c.Resolve(call.ID, json.RawMessage(`2`)))
	assert.False(t, c.Fail(call.ID, errors.New("late")))

	data, err := waitResult(t, call)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	s := c.Snapshot()
	assert.Equal(t, uint64(1), s.Completed)
	assert.Equal(t, uint64(0), s.Failed)
	assert.Equal(t, uint64(2), s.DroppedReplies)
}

func TestResolve_UnknownID(t *testing.T) {
	t.Parallel()
	c := New(nil)
	assert.False(t, c.Resolve("nope", nil))
	assert.Equal(t, uint64(1), c.Snapshot().DroppedReplies)
}

func TestFail_DeliversError(t *testing.T) {
	t.Parallel()
	c := New(nil)
	call := c.Register("t", time.Minute)
	boom := errors.New("element not found")
	require.True(t, c.Fail(call.ID, boom))

	_, err := waitResult(t, call)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), c.Snapshot().Failed)
}

func TestTimeout_FiresNearDeadline(t *testing.T) {
	t.Parallel()
	c := New(nil)
	start := time.Now()
	call := c.Register("t", 200*time.Millisecond)

	_, err := waitResult(t, call)
	elapsed := time.Since(start)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "200ms")
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	// Late reply after the timer is dropped and the entry is gone.
	assert.False(t, c.Resolve(call.ID, json.RawMessage(`{}`)))
	s := c.Snapshot()
	assert.Equal(t, 0, s.Pending)
	assert.Equal(t, uint64(1), s.TimedOut)
	assert.Equal(t, uint64(1), s.DroppedReplies)
}

func TestFailAll_FailsEveryPendingCall(t *testing.T) {
	t.Parallel()
	c := New(nil)
	calls := make([]*Call, 5)
	for i := range calls {
		calls[i] = c.Register(fmt.Sprintf("t%d", i), time.Minute)
	}

	start := time.Now()
	assert.Equal(t, 5, c.FailAll(ErrDisconnected))
	for _, call := range calls {
		_, err := waitResult(t, call)
		assert.ErrorIs(t, err, ErrDisconnected)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, uint64(5), c.Snapshot().Disconnected)
	assert.Equal(t, 0, c.FailAll(ErrDisconnected))
}

func TestOutOfOrderReplies(t *testing.T) {
	t.Parallel()
	c := New(nil)
	a := c.Register("a", time.Minute)
	b := c.Register("b", time.Minute)
	cc := c.Register("c", time.Minute)

	for _, call := range []*Call{cc, a, b} {
		payload, err := json.Marshal(map[string]string{"tool": call.Tool})
		require.NoError(t, err)
		require.True(t, c.Resolve(call.ID, payload))
	}
	for _, call := range []*Call{a, b, cc} {
		data, err := waitResult(t, call)
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"tool":%q}`, call.Tool), string(data))
	}
}

func TestRace_TimerVersusReply(t *testing.T) {
	t.Parallel()
	c := New(nil)
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		call := c.Register("t", time.Millisecond)
		wg.Add(2)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			if c.Resolve(call.ID, json.RawMessage(`{}`)) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := waitResult(t, call)
			if err != nil {
				assert.ErrorIs(t, err, ErrTimeout)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, 0, s.Pending)
	assert.Equal(t, uint64(200), s.Completed+s.TimedOut)
	assert.Equal(t, uint64(wins.Load()), s.Completed)
}

func TestWait_ContextCancelAbandons(t *testing.T) {
	t.Parallel()
	c := New(nil)
	call := c.Register("t", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
	assert.False(t, c.Resolve(call.ID, nil))
	assert.Equal(t, uint64(1), c.Snapshot().Abandoned)
}
