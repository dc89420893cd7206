// loader.go - Configuration loading with priority cascade.
// Priority: defaults < global YAML < project YAML < .env < env vars < flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// File names searched by Load.
const (
	GlobalFile  = "bridge.yaml"           // under ~/.gasoline
	ProjectFile = ".gasoline-bridge.yaml" // in the project directory
	DotEnvFile  = ".env"
)

// Config holds all resolved configuration values. Durations are milliseconds.
type Config struct {
	Port                int            `yaml:"port"`
	Debug               bool           `yaml:"debug"`
	DebugFile           string         `yaml:"debug_file"`
	ExtensionIdentity   string         `yaml:"extension_identity"`
	ChromeExtensionID   string         `yaml:"chrome_extension_id"`
	FirefoxExtensionID  string         `yaml:"firefox_extension_id"`
	MaxTimeoutMS        int            `yaml:"max_timeout_ms"`
	ToolTimeoutsMS      map[string]int `yaml:"tool_timeouts_ms"`
	HandshakeTimeoutMS  int            `yaml:"handshake_timeout_ms"`
	HeartbeatIntervalMS int            `yaml:"heartbeat_interval_ms"`
	WriteTimeoutMS      int            `yaml:"write_timeout_ms"`
}

// FlagOverrides holds values explicitly set via command-line flags.
// Nil pointer means the flag was not set (so lower-priority values are kept).
type FlagOverrides struct {
	Port              *int
	Debug             *bool
	DebugFile         *string
	ExtensionIdentity *string
	MaxTimeoutMS      *int
}

// Defaults returns the base configuration.
func Defaults() Config {
	return Config{
		Port:                7890,
		ExtensionIdentity:   "gasoline-extension",
		MaxTimeoutMS:        60000,
		HandshakeTimeoutMS:  5000,
		HeartbeatIntervalMS: 15000,
		WriteTimeoutMS:      5000,
	}
}

// Load builds the final configuration by applying the priority cascade:
// defaults < ~/.gasoline/bridge.yaml < <projectDir>/.gasoline-bridge.yaml <
// <projectDir>/.env < env vars < flags.
func Load(projectDir string, flags *FlagOverrides) (Config, error) {
	home, _ := os.UserHomeDir()
	return load(home, projectDir, os.LookupEnv, flags)
}

func load(home, projectDir string, lookupEnv func(string) (string, bool), flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if home != "" {
		if err := loadYAMLFile(&cfg, filepath.Join(home, ".gasoline", GlobalFile)); err != nil {
			return cfg, fmt.Errorf("global config: %w", err)
		}
	}
	if err := loadYAMLFile(&cfg, filepath.Join(projectDir, ProjectFile)); err != nil {
		return cfg, fmt.Errorf("project config: %w", err)
	}

	dotenv, err := readDotEnv(filepath.Join(projectDir, DotEnvFile))
	if err != nil {
		return cfg, fmt.Errorf("dotenv: %w", err)
	}
	// Real environment wins over .env.
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := loadEnvVars(&cfg, lookup); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// fileConfig uses pointers to distinguish "not set" from zero values.
type fileConfig struct {
	Port                *int           `yaml:"port"`
	Debug               *bool          `yaml:"debug"`
	DebugFile           *string        `yaml:"debug_file"`
	ExtensionIdentity   *string        `yaml:"extension_identity"`
	ChromeExtensionID   *string        `yaml:"chrome_extension_id"`
	FirefoxExtensionID  *string        `yaml:"firefox_extension_id"`
	MaxTimeoutMS        *int           `yaml:"max_timeout_ms"`
	ToolTimeoutsMS      map[string]int `yaml:"tool_timeouts_ms"`
	HandshakeTimeoutMS  *int           `yaml:"handshake_timeout_ms"`
	HeartbeatIntervalMS *int           `yaml:"heartbeat_interval_ms"`
	WriteTimeoutMS      *int           `yaml:"write_timeout_ms"`
}

// loadYAMLFile reads a YAML config file and merges explicitly set values into cfg.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Missing config file is fine
		}
		return err
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setInt(&cfg.Port, fc.Port)
	setBool(&cfg.Debug, fc.Debug)
	setString(&cfg.DebugFile, fc.DebugFile)
	setString(&cfg.ExtensionIdentity, fc.ExtensionIdentity)
	setString(&cfg.ChromeExtensionID, fc.ChromeExtensionID)
	setString(&cfg.FirefoxExtensionID, fc.FirefoxExtensionID)
	setInt(&cfg.MaxTimeoutMS, fc.MaxTimeoutMS)
	setInt(&cfg.HandshakeTimeoutMS, fc.HandshakeTimeoutMS)
	setInt(&cfg.HeartbeatIntervalMS, fc.HeartbeatIntervalMS)
	setInt(&cfg.WriteTimeoutMS, fc.WriteTimeoutMS)
	if len(fc.ToolTimeoutsMS) > 0 {
		if cfg.ToolTimeoutsMS == nil {
			cfg.ToolTimeoutsMS = make(map[string]int, len(fc.ToolTimeoutsMS))
		}
		for name, ms := range fc.ToolTimeoutsMS {
			cfg.ToolTimeoutsMS[name] = ms
		}
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// readDotEnv parses a .env file without touching the process environment.
func readDotEnv(path string) (map[string]string, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return vals, nil
}

// loadEnvVars applies environment variable overrides.
func loadEnvVars(cfg *Config, lookup func(string) (string, bool)) error {
	intVars := []struct {
		key string
		dst *int
	}{
		{"GASOLINE_PORT", &cfg.Port},
		{"GASOLINE_MAX_TIMEOUT_MS", &cfg.MaxTimeoutMS},
		{"GASOLINE_HANDSHAKE_TIMEOUT_MS", &cfg.HandshakeTimeoutMS},
		{"GASOLINE_HEARTBEAT_INTERVAL_MS", &cfg.HeartbeatIntervalMS},
		{"GASOLINE_WRITE_TIMEOUT_MS", &cfg.WriteTimeoutMS},
	}
	for _, iv := range intVars {
		v, ok := lookup(iv.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", iv.key, v)
		}
		*iv.dst = n
	}

	if v, ok := lookup("GASOLINE_DEBUG"); ok && v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := lookup("GASOLINE_DEBUG_FILE"); ok && v != "" {
		cfg.DebugFile = v
	}
	if v, ok := lookup("GASOLINE_EXTENSION_IDENTITY"); ok && v != "" {
		cfg.ExtensionIdentity = v
	}
	if v, ok := lookup("GASOLINE_CHROME_EXTENSION_ID"); ok && v != "" {
		cfg.ChromeExtensionID = v
	}
	if v, ok := lookup("GASOLINE_FIREFOX_EXTENSION_ID"); ok && v != "" {
		cfg.FirefoxExtensionID = v
	}
	return nil
}

// applyFlags applies command-line flag overrides (highest priority).
func applyFlags(cfg *Config, flags *FlagOverrides) {
	setInt(&cfg.Port, flags.Port)
	setBool(&cfg.Debug, flags.Debug)
	setString(&cfg.DebugFile, flags.DebugFile)
	setString(&cfg.ExtensionIdentity, flags.ExtensionIdentity)
	setInt(&cfg.MaxTimeoutMS, flags.MaxTimeoutMS)
}

// Validate checks that configuration values are within acceptable ranges.
// Tool names in ToolTimeoutsMS are checked by the registry.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.ExtensionIdentity) == "" {
		return errors.New("extension_identity must not be empty")
	}
	positive := []struct {
		name string
		ms   int
	}{
		{"max_timeout_ms", c.MaxTimeoutMS},
		{"handshake_timeout_ms", c.HandshakeTimeoutMS},
		{"write_timeout_ms", c.WriteTimeoutMS},
	}
	for _, p := range positive {
		if p.ms <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.ms)
		}
	}
	// Zero would silently mean "use the default"; -1 disables heartbeats.
	if c.HeartbeatIntervalMS == 0 || c.HeartbeatIntervalMS < -1 {
		return fmt.Errorf("heartbeat_interval_ms must be positive or -1, got %d", c.HeartbeatIntervalMS)
	}
	for name, ms := range c.ToolTimeoutsMS {
		if ms <= 0 {
			return fmt.Errorf("tool_timeouts_ms.%s must be positive, got %d", name, ms)
		}
		if ms > c.MaxTimeoutMS {
			return fmt.Errorf("tool_timeouts_ms.%s (%d) exceeds max_timeout_ms (%d)", name, ms, c.MaxTimeoutMS)
		}
	}
	return nil
}

// Millis converts a millisecond setting to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ToolTimeouts returns ToolTimeoutsMS as durations.
func (c Config) ToolTimeouts() map[string]time.Duration {
	if len(c.ToolTimeoutsMS) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(c.ToolTimeoutsMS))
	for name, ms := range c.ToolTimeoutsMS {
		out[name] = Millis(ms)
	}
	return out
}

// Addr is the loopback listen address.
func (c Config) Addr() string {
	return "127.0.0.1:" + strconv.Itoa(c.Port)
}
