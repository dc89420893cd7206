//go:build windows

package main

import "os"

func duplicateStdoutForTransport(stdout *os.File) (*os.File, error) {
	// Windows fallback: keep the existing stdout handle as the transport and
	// rely on process-level stream reassignment below.
	return stdout, nil
}

func redirectStdout(target *os.File) error {
	os.Stdout = target
	return nil
}
