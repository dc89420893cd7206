package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelsAndSink(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, closeFn := New(Options{Stderr: &buf})
	defer closeFn()

	log.Debug("hidden")
	log.Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	debugLog, closeFn2 := New(Options{Debug: true, Stderr: &buf})
	defer closeFn2()
	debugLog.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_DebugFile(t *testing.T) {
	t.Parallel()
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "bridge.log")
	log, closeFn := New(Options{Debug: true, DebugFile: path, Stderr: &stderr})
	log.Debug("to file")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Empty(t, stderr.String())
}

func TestNew_DebugFileFallsBack(t *testing.T) {
	t.Parallel()
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing-dir", "bridge.log")
	log, closeFn := New(Options{Debug: true, DebugFile: path, Stderr: &stderr})
	defer closeFn()
	log.Info("still logged")
	assert.Contains(t, stderr.String(), "debug file unavailable")
	assert.Contains(t, stderr.String(), "still logged")
}

func TestFatal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Fatal(&buf, errors.New("port in use"))
	assert.Equal(t, "[gasoline-bridge] error: port in use\n", buf.String())
}
