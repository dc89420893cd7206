// stdio_test.go - Tests for the stdio message Reader.
package bridge

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameMessage(payload string) string {
	return fmt.Sprintf("Content-Length: %d\r\nContent-Type: application/json\r\n\r\n%s", len(payload), payload)
}

// readAll drains r and checks it ends at EOF.
func readAll(t *testing.T, r *Reader, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		msg, err := r.Next()
		require.NoError(t, err)
		out = append(out, string(msg))
	}
	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
	return out
}

func TestReader_LineDelimitedJSON(t *testing.T) {
	t.Parallel()
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n"
	r := NewReader(strings.NewReader(input), 0)

	assert.Equal(t, []string{`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`}, readAll(t, r, 1))
}

func TestReader_SkipsBlankLinesAndCRLF(t *testing.T) {
	t.Parallel()
	input := "\n\r\n  \n{\"id\":1}\r\n\n{\"id\":2}"
	r := NewReader(strings.NewReader(input), 0)

	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`}, readAll(t, r, 2))
}

func TestReader_ContentLengthFramedJSON(t *testing.T) {
	t.Parallel()
	first := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	second := `{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`
	r := NewReader(strings.NewReader(frameMessage(first)+frameMessage(second)), 0)

	assert.Equal(t, []string{first, second}, readAll(t, r, 2))
}

func TestReader_OversizedLineIsSkipped(t *testing.T) {
	t.Parallel()
	big := `{"pad":"` + strings.Repeat("x", 200*1024) + `"}`
	input := big + "\n" + `{"id":2}` + "\n"
	r := NewReader(strings.NewReader(input), 1024)

	_, err := r.Next()
	require.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Equal(t, []string{`{"id":2}`}, readAll(t, r, 1))
}

func TestReader_OversizedFrameIsSkipped(t *testing.T) {
	t.Parallel()
	big := strings.Repeat("y", 4096)
	input := frameMessage(big) + `{"id":3}` + "\n"
	r := NewReader(strings.NewReader(input), 1024)

	_, err := r.Next()
	require.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Equal(t, []string{`{"id":3}`}, readAll(t, r, 1))
}
