//go:build !windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func duplicateStdoutForTransport(stdout *os.File) (*os.File, error) {
	fd, err := unix.Dup(int(stdout.Fd()))
	if err != nil {
		return nil, err
	}
	// Do not leak the transport fd into child processes; an inherited copy
	// keeps the client's pipe open after we exit.
	unix.CloseOnExec(fd)
	dup := os.NewFile(uintptr(fd), "mcp-transport")
	if dup == nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("os.NewFile returned nil for duplicated stdout")
	}
	return dup, nil
}

func redirectStdout(target *os.File) error {
	return unix.Dup2(int(target.Fd()), int(os.Stdout.Fd()))
}
