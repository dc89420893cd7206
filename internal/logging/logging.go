// logging.go - slog construction for the bridge.
// Diagnostics go to stderr or a debug file. Never to stdout: in stdio mode
// stdout carries the JSON-RPC stream.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Options selects the log sink and level.
type Options struct {
	Debug     bool
	DebugFile string    // used only when Debug is set
	Stderr    io.Writer // defaults to os.Stderr
}

// New returns a text logger and a close func for the sink. When a debug file
// cannot be opened the logger falls back to stderr and reports why.
func New(opts Options) (*slog.Logger, func() error) {
	sink := opts.Stderr
	if sink == nil {
		sink = os.Stderr
	}
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	closeFn := func() error { return nil }
	var openErr error
	if opts.Debug && opts.DebugFile != "" {
		f, err := os.OpenFile(opts.DebugFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			openErr = err
		} else {
			sink = f
			closeFn = f.Close
		}
	}

	logger := slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level}))
	if openErr != nil {
		logger.Warn("debug file unavailable, logging to stderr", "path", opts.DebugFile, "error", openErr)
	}
	return logger, closeFn
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Fatal prints a one-line error to w in the CLI's format.
func Fatal(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "[gasoline-bridge] error: %v\n", err)
}
