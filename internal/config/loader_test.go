// loader_test.go - Tests for the configuration cascade.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := Defaults()

	assert.Equal(t, 7890, cfg.Port)
	assert.Equal(t, "gasoline-extension", cfg.ExtensionIdentity)
	assert.Equal(t, 60000, cfg.MaxTimeoutMS)
	assert.False(t, cfg.Debug, "debug off by default")
	assert.NoError(t, cfg.Validate(), "defaults must validate")
	assert.Equal(t, "127.0.0.1:7890", cfg.Addr())
}

func TestLoad_MissingFilesKeepDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := load(t.TempDir(), t.TempDir(), noEnv, nil)
	require.NoError(t, err)
	assert.Equal(t, 7890, cfg.Port)
	assert.Equal(t, 15000, cfg.HeartbeatIntervalMS)
}

func TestLoad_Cascade(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	project := t.TempDir()

	writeFile(t, filepath.Join(home, ".gasoline", GlobalFile), `
port: 9000
debug: true
extension_identity: global-ext
tool_timeouts_ms:
  browser_audit: 45000
  browser_wait: 20000
`)
	writeFile(t, filepath.Join(project, ProjectFile), `
port: 9100
tool_timeouts_ms:
  browser_wait: 25000
`)
	writeFile(t, filepath.Join(project, DotEnvFile), "GASOLINE_PORT=9200\nGASOLINE_EXTENSION_IDENTITY=dotenv-ext\nGASOLINE_WRITE_TIMEOUT_MS=7000\n")

	env := envMap(map[string]string{
		"GASOLINE_PORT":  "9300",
		"GASOLINE_DEBUG": "0",
	})
	port := 9400
	cfg, err := load(home, project, env, &FlagOverrides{Port: &port})
	require.NoError(t, err)

	assert.Equal(t, 9400, cfg.Port, "flag wins")
	assert.False(t, cfg.Debug, "env GASOLINE_DEBUG=0 overrides global debug: true")
	assert.Equal(t, "dotenv-ext", cfg.ExtensionIdentity, ".env overrides YAML")
	assert.Equal(t, 7000, cfg.WriteTimeoutMS)
	assert.Equal(t, map[string]int{"browser_audit": 45000, "browser_wait": 25000}, cfg.ToolTimeoutsMS,
		"tool timeouts merge per key")
	assert.Equal(t, 25*time.Second, cfg.ToolTimeouts()["browser_wait"])
}

func TestLoad_RealEnvBeatsDotEnv(t *testing.T) {
	t.Parallel()
	project := t.TempDir()
	writeFile(t, filepath.Join(project, DotEnvFile), "GASOLINE_PORT=9200\n")

	cfg, err := load("", project, envMap(map[string]string{"GASOLINE_PORT": "9300"}), nil)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Port)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		project string
		env     map[string]string
		wantErr string
	}{
		{"unknown yaml field", "prot: 1\n", nil, "parse"},
		{"bad yaml", "port: [\n", nil, "parse"},
		{"non-integer env", "", map[string]string{"GASOLINE_PORT": "abc"}, "not an integer"},
		{"port range", "port: 70000\n", nil, "port must be"},
		{"non-positive timeout", "handshake_timeout_ms: 0\n", nil, "handshake_timeout_ms"},
		{"tool timeout above max", "max_timeout_ms: 1000\ntool_timeouts_ms:\n  browser_audit: 5000\n", nil, "exceeds max_timeout_ms"},
		{"zero heartbeat", "heartbeat_interval_ms: 0\n", nil, "heartbeat_interval_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			project := t.TempDir()
			if tt.project != "" {
				writeFile(t, filepath.Join(project, ProjectFile), tt.project)
			}
			_, err := load("", project, envMap(tt.env), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_HeartbeatDisabled(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	cfg.HeartbeatIntervalMS = -1
	assert.NoError(t, cfg.Validate(), "-1 disables heartbeats")
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	debug := true
	file := "/tmp/bridge.log"
	identity := "flag-ext"
	applyFlags(&cfg, &FlagOverrides{Debug: &debug, DebugFile: &file, ExtensionIdentity: &identity})

	assert.True(t, cfg.Debug)
	assert.Equal(t, file, cfg.DebugFile)
	assert.Equal(t, identity, cfg.ExtensionIdentity)
	assert.Equal(t, 7890, cfg.Port, "unset flags keep lower-priority values")
}
