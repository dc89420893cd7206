// isolation.go - stdio isolation for MCP transport integrity.
package main

import (
	"fmt"
	"os"
	"sync"
)

var (
	isolationMu        sync.Mutex
	isolationTransport *os.File
)

// ensureStdioIsolation gives the protocol writer a private duplicate of the
// original stdout and points fd 1 at stderr, so stray writes from any library
// land in the log stream instead of corrupting JSON-RPC framing.
func ensureStdioIsolation() (*os.File, error) {
	isolationMu.Lock()
	defer isolationMu.Unlock()
	if isolationTransport != nil {
		return isolationTransport, nil
	}

	transport, err := duplicateStdoutForTransport(os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("duplicate transport stdout: %w", err)
	}
	if err := redirectStdout(os.Stderr); err != nil {
		if transport != os.Stdout {
			_ = transport.Close()
		}
		return nil, fmt.Errorf("redirect stdout: %w", err)
	}
	isolationTransport = transport
	return transport, nil
}
