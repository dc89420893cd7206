// cli.go - cobra command tree and flag-to-config wiring.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brennhill/gasoline-browser-bridge/internal/bridge"
	"github.com/brennhill/gasoline-browser-bridge/internal/config"
	"github.com/brennhill/gasoline-browser-bridge/internal/gateway"
)

// streams are the process's standard streams, injectable for tests.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

type globalFlags struct {
	port       int
	debug      bool
	debugFile  string
	identity   string
	maxTimeout int
	projectDir string
}

func newRootCmd(s streams) *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:   "gasoline-bridge",
		Short: "MCP stdio bridge to the Gasoline browser extension",
		Long: "gasoline-bridge exposes browser automation tools over MCP (JSON-RPC on stdio)\n" +
			"and forwards each call to the Gasoline browser extension over a local WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.err)

	pf := root.PersistentFlags()
	pf.IntVar(&gf.port, "port", 0, "loopback port for the HTTP gateway and extension WebSocket (default 7890)")
	pf.BoolVar(&gf.debug, "debug", false, "enable debug logging")
	pf.StringVar(&gf.debugFile, "debug-file", "", "write debug logs to this file instead of stderr")
	pf.StringVar(&gf.identity, "identity", "", "expected extension identity")
	pf.IntVar(&gf.maxTimeout, "max-timeout-ms", 0, "upper bound on per-call timeouts")
	pf.StringVar(&gf.projectDir, "config-dir", ".", "directory searched for .gasoline-bridge.yaml and .env")

	loadConfig := func(cmd *cobra.Command) (config.Config, error) {
		return config.Load(gf.projectDir, flagOverrides(cmd, &gf))
	}

	stdioCmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP over stdin/stdout (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStdio(cmd.Context(), cfg, s)
		},
	}
	root.RunE = stdioCmd.RunE

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and extension endpoint as a daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, s)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the health of a running bridge daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStatus(cmd, cfg)
		},
	}

	var toolsJSON bool
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the browser tools this bridge exposes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runTools(cmd, cfg, toolsJSON)
		},
	}
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the MCP tools/list payload")

	root.AddCommand(stdioCmd, serveCmd, statusCmd, toolsCmd)
	return root
}

// flagOverrides returns pointers only for flags the user actually set.
func flagOverrides(cmd *cobra.Command, gf *globalFlags) *config.FlagOverrides {
	fo := &config.FlagOverrides{}
	flags := cmd.Flags()
	if flags.Changed("port") {
		fo.Port = &gf.port
	}
	if flags.Changed("debug") {
		fo.Debug = &gf.debug
	}
	if flags.Changed("debug-file") {
		fo.DebugFile = &gf.debugFile
	}
	if flags.Changed("identity") {
		fo.ExtensionIdentity = &gf.identity
	}
	if flags.Changed("max-timeout-ms") {
		fo.MaxTimeoutMS = &gf.maxTimeout
	}
	return fo
}

func runStatus(cmd *cobra.Command, cfg config.Config) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	client := gateway.NewClient(bridge.BaseURL(cfg.Port), reg)
	health, err := client.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("no bridge daemon on port %d: %w", cfg.Port, err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(health)
}

func runTools(cmd *cobra.Command, cfg config.Config, asJSON bool) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"tools": reg.MCPTools()})
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tENDPOINT\tTIMEOUT\tIDEMPOTENT")
	for _, t := range reg.Tools() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", t.Name, t.WireEndpoint, t.Timeout(nil), t.Idempotent)
	}
	return tw.Flush()
}
