package frontend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
)

// countingWriter records each Write call separately.
type countingWriter struct {
	mu     sync.Mutex
	writes [][]byte
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func TestWriter_OneLinePerWrite(t *testing.T) {
	t.Parallel()
	out := &countingWriter{}
	w := NewWriter(out, nil)

	w.Write([]byte("  {\n  \"jsonrpc\": \"2.0\",\n  \"id\": 1,\n  \"result\": {}\n}\n\n"))
	require.Len(t, out.writes, 1)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":{}}`+"\n", string(out.writes[0]))
}

func TestWriter_InvalidJSONReplaced(t *testing.T) {
	t.Parallel()
	out := &countingWriter{}
	w := NewWriter(out, nil)

	w.Write([]byte(`{"broken":`))
	w.Write(nil)
	require.Len(t, out.writes, 2)
	for _, line := range out.writes {
		var resp mcp.JSONRPCResponse
		require.NoError(t, json.Unmarshal(bytes.TrimSuffix(line, []byte("\n")), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, mcp.CodeInternalError, resp.Error.Code)
		assert.Nil(t, resp.ID)
	}
}

func TestWriter_ConcurrentWritesNeverInterleave(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.WriteResponse(mcp.NewResult(float64(i), mcp.TextResponse(strings.Repeat("x", 4096))))
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 50)
	seen := make(map[string]bool)
	for _, line := range lines {
		var resp mcp.JSONRPCResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		seen[fmt.Sprint(resp.ID)] = true
	}
	assert.Len(t, seen, 50)
}

func TestWriter_CloseDropsLaterWrites(t *testing.T) {
	t.Parallel()
	out := &countingWriter{}
	w := NewWriter(out, nil)

	w.Write([]byte(`{"a":1}`))
	w.Close()
	w.Write([]byte(`{"b":2}`))
	assert.Len(t, out.writes, 1)
}
