// main.go - Entry point for the gasoline-bridge binary.
// Default mode speaks MCP over stdio; `serve` runs the gateway as a daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/brennhill/gasoline-browser-bridge/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
	if err := root.ExecuteContext(ctx); err != nil {
		logging.Fatal(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
