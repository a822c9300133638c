//go:build !darwin && !linux

package pipeio

import (
	"errors"
	"os"
)

// ErrUnsupported is returned where named pipes are not available.
var ErrUnsupported = errors.New("pipeio: named pipes are not supported on this platform")

func MakeFIFO(string) error { return ErrUnsupported }

func OpenFIFO(string) (*os.File, error) { return nil, ErrUnsupported }
