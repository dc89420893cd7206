// app.go - Process wiring: registry, correlator, extension manager, gateway,
// and the stdio front end, plus the run modes built from them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brennhill/gasoline-browser-bridge/internal/bridge"
	"github.com/brennhill/gasoline-browser-bridge/internal/config"
	"github.com/brennhill/gasoline-browser-bridge/internal/correlator"
	"github.com/brennhill/gasoline-browser-bridge/internal/extension"
	"github.com/brennhill/gasoline-browser-bridge/internal/frontend"
	"github.com/brennhill/gasoline-browser-bridge/internal/gateway"
	"github.com/brennhill/gasoline-browser-bridge/internal/logging"
	"github.com/brennhill/gasoline-browser-bridge/internal/registry"
)

// daemonWait bounds how long stdio mode waits for a daemon that holds the
// port but has not answered /health yet.
const daemonWait = 2 * time.Second

// isolateStdio is replaced in tests.
var isolateStdio = ensureStdioIsolation

func newRegistry(cfg config.Config) (*registry.Registry, error) {
	reg, err := registry.Default(registry.Options{
		Timeouts:   cfg.ToolTimeouts(),
		MaxTimeout: config.Millis(cfg.MaxTimeoutMS),
	})
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}
	return reg, nil
}

// core is one in-process bridge: everything except the stdio front end.
type core struct {
	reg     *registry.Registry
	corr    *correlator.Correlator
	manager *extension.Manager
	gateway *gateway.Server
}

func newCore(cfg config.Config, reg *registry.Registry, log *slog.Logger) *core {
	corr := correlator.New(log.With("component", "correlator"))
	mgr := extension.NewManager(corr, extension.Options{
		Identity:          cfg.ExtensionIdentity,
		HandshakeTimeout:  config.Millis(cfg.HandshakeTimeoutMS),
		HeartbeatInterval: config.Millis(cfg.HeartbeatIntervalMS),
		WriteTimeout:      config.Millis(cfg.WriteTimeoutMS),
		Tools:             reg,
		Logger:            log.With("component", "extension"),
	})
	gw := gateway.New(reg, corr, mgr, gateway.Options{
		Version: version,
		Origins: gateway.OriginPolicy{
			ChromeExtensionID:  cfg.ChromeExtensionID,
			FirefoxExtensionID: cfg.FirefoxExtensionID,
		},
		Logger: log.With("component", "gateway"),
	})
	return &core{reg: reg, corr: corr, manager: mgr, gateway: gw}
}

// serve runs the gateway on ln until ctx ends, then drops the extension session.
func (c *core) serve(ctx context.Context, ln net.Listener) error {
	defer c.manager.Close()
	return c.gateway.Serve(ctx, ln)
}

func runServe(ctx context.Context, cfg config.Config, s streams) error {
	log, closeLog := logging.New(logging.Options{Debug: cfg.Debug, DebugFile: cfg.DebugFile, Stderr: s.err})
	defer func() { _ = closeLog() }()

	baseURL := bridge.BaseURL(cfg.Port)
	if h, err := bridge.ProbeHealth(ctx, baseURL); err == nil {
		return fmt.Errorf("a bridge daemon (version %s) is already running on port %d", h.Version, cfg.Port)
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	c := newCore(cfg, reg, log)
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	log.Info("bridge daemon starting", "version", version, "addr", cfg.Addr(),
		"ws", "ws://"+cfg.Addr()+"/ws", "identity", cfg.ExtensionIdentity)
	return c.serve(ctx, ln)
}

// runStdio serves MCP on the process's stdio. If a bridge daemon already owns
// the port, tool calls are forwarded to it over loopback HTTP; otherwise the
// gateway runs in this process on that port.
func runStdio(ctx context.Context, cfg config.Config, s streams) error {
	log, closeLog := logging.New(logging.Options{Debug: cfg.Debug, DebugFile: cfg.DebugFile, Stderr: s.err})
	defer func() { _ = closeLog() }()

	out := s.out
	if f, ok := out.(*os.File); ok && f == os.Stdout {
		transport, err := isolateStdio()
		if err != nil {
			// Keep going on the unisolated stdout; the writer still frames correctly.
			log.Warn("stdio isolation unavailable, using stdout directly", "error", err)
		} else {
			out = transport
		}
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	caller, err := resolveCaller(gctx, g, cfg, reg, log)
	if err != nil {
		return err
	}

	front := frontend.New(reg, caller, out, frontend.Options{Version: version, Logger: log.With("component", "frontend")})
	g.Go(func() error {
		// The front end ending (EOF or shutdown) ends the process.
		defer cancel()
		return front.Run(gctx, s.in)
	})
	return g.Wait()
}

// resolveCaller picks the tool-call path for stdio mode. When it starts an
// in-process gateway, the serve loop joins g.
func resolveCaller(ctx context.Context, g *errgroup.Group, cfg config.Config, reg *registry.Registry, log *slog.Logger) (frontend.ToolCaller, error) {
	baseURL := bridge.BaseURL(cfg.Port)
	if h, err := bridge.ProbeHealth(ctx, baseURL); err == nil {
		log.Info("forwarding to existing bridge daemon", "url", baseURL, "daemon_version", h.Version)
		return gateway.NewClient(baseURL, reg), nil
	}

	c := newCore(cfg, reg, log)
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		// Lost a startup race with another bridge, or the port belongs to something else.
		if bridge.WaitForServer(ctx, baseURL, daemonWait) {
			log.Info("forwarding to bridge daemon that started concurrently", "url", baseURL)
			return gateway.NewClient(baseURL, reg), nil
		}
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	log.Info("gateway running in-process", "addr", cfg.Addr(), "identity", cfg.ExtensionIdentity)
	g.Go(func() error {
		err := c.serve(ctx, ln)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return c.gateway, nil
}

// Ensure both call paths satisfy the front end's contract.
var (
	_ frontend.ToolCaller = (*gateway.Server)(nil)
	_ frontend.ToolCaller = (*gateway.Client)(nil)
)
