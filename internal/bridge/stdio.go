// stdio.go - MCP stdio message reader: newline-delimited JSON, with tolerance
// for Content-Length framed messages sent by some clients.
package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxMessageSize caps one inbound stdio message.
const DefaultMaxMessageSize = 10 * 1024 * 1024

// ErrMessageTooLarge is returned for a message over the size cap. The
// offending bytes are consumed, so the next call reads the following message.
var ErrMessageTooLarge = errors.New("stdio message exceeds size limit")

// Reader yields one MCP message per Next call. Not safe for concurrent use;
// the front end reads from a single goroutine.
type Reader struct {
	br      *bufio.Reader
	maxSize int
}

// NewReader wraps r. maxSize <= 0 selects DefaultMaxMessageSize.
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), maxSize: maxSize}
}

// Next returns the next non-blank message with surrounding whitespace
// trimmed. It returns io.EOF once input is exhausted.
func (r *Reader) Next() ([]byte, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if n, ok := contentLength(trimmed); ok {
			return r.readFramed(n)
		}
		return trimmed, nil
	}
}

// readLine reads through the next '\n' (or EOF), never buffering more than
// maxSize bytes of one line.
func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	tooLarge := false
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLarge {
			if len(line)+len(chunk) > r.maxSize+1 {
				tooLarge = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if tooLarge {
					return nil, ErrMessageTooLarge
				}
				if len(line) > 0 {
					return line, nil
				}
			}
			return nil, err
		}
		if tooLarge {
			return nil, ErrMessageTooLarge
		}
		return line, nil
	}
}

func contentLength(line []byte) (int, bool) {
	s := string(line)
	if !strings.HasPrefix(strings.ToLower(s), "content-length:") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[len("content-length:"):]))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// readFramed consumes the remaining headers and an n-byte body.
func (r *Reader) readFramed(n int) ([]byte, error) {
	for {
		header, err := r.readLine()
		if err != nil {
			return nil, fmt.Errorf("read framed headers: %w", err)
		}
		if len(bytes.TrimSpace(header)) == 0 {
			break
		}
	}
	if n > r.maxSize {
		if _, err := io.CopyN(io.Discard, r.br, int64(n)); err != nil {
			return nil, err
		}
		return nil, ErrMessageTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(payload), nil
}
