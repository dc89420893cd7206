//go:build !windows

package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDuplicateStdoutForTransportSetsCloseOnExec(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
		_ = w.Close()
	}()

	dup, err := duplicateStdoutForTransport(w)
	require.NoError(t, err)
	defer func() { _ = dup.Close() }()

	flags, err := unix.FcntlInt(dup.Fd(), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.FD_CLOEXEC, "duplicated transport fd missing FD_CLOEXEC: flags=%#x", flags)
}

func TestDuplicateStdoutForTransportSharesPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	dup, err := duplicateStdoutForTransport(w)
	require.NoError(t, err)
	_ = w.Close()

	_, err = dup.Write([]byte("{}\n"))
	require.NoError(t, err)
	_ = dup.Close()

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(buf[:n]))
}
