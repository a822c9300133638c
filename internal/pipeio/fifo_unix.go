//go:build darwin || linux

package pipeio

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MakeFIFO creates a named pipe at path. An existing FIFO is reused; any
// other existing file is an error.
func MakeFIFO(path string) error {
	if err := unix.Mkfifo(path, 0600); err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("mkfifo %s: %w", path, err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			return fmt.Errorf("stat %s: %w", path, statErr)
		}
		if info.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a fifo", path)
		}
	}
	return nil
}

// OpenFIFO opens a named pipe for reading without waiting for a writer.
// The handle is opened read-write so that it never sees EOF when writers
// come and go; reads are pollable and honour SetReadDeadline.
func OpenFIFO(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open fifo %s: %w", path, err)
	}
	return f, nil
}
