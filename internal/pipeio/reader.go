// Package pipeio implements newline-delimited control messages over a
// byte-stream handle such as a named pipe.
package pipeio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var (
	// ErrTimeout means no complete line arrived within the reader's timeout.
	ErrTimeout = errors.New("pipeio: timed out waiting for line")
	// ErrStopped means the stop predicate asked the reader to give up.
	ErrStopped = errors.New("pipeio: stopped")
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond

	readChunk = 1024
)

// DeadlineReader is a reader whose blocking reads can be bounded.
// *os.File satisfies it for pipes and FIFOs.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// PipeReader reads one line at a time, keeping any partial line between
// calls.
type PipeReader struct {
	Name         string
	Timeout      time.Duration
	PollInterval time.Duration

	src  DeadlineReader
	data []byte
}

// NewPipeReader creates a reader over src with default timing.
func NewPipeReader(name string, src DeadlineReader) *PipeReader {
	return &PipeReader{
		Name:         name,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		src:          src,
	}
}

// ReadLine returns the next line without its trailing newline.
//
// It returns ErrTimeout once Timeout elapses without a complete line and
// ErrStopped when stop reports true; both leave buffered bytes intact, so a
// later call resumes where this one left off. Any other read failure,
// including EOF, is returned wrapped.
func (r *PipeReader) ReadLine(stop func() bool) (string, error) {
	if line, ok := r.takeLine(); ok {
		return line, nil
	}

	poll := r.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	buf := make([]byte, readChunk)
	for {
		if stop != nil && stop() {
			return "", ErrStopped
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		wait := poll
		if remaining < wait {
			wait = remaining
		}

		if err := r.src.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return "", fmt.Errorf("pipeio: %s: set deadline: %w", r.Name, err)
		}

		n, err := r.src.Read(buf)
		if n > 0 {
			r.data = append(r.data, buf[:n]...)
			if line, ok := r.takeLine(); ok {
				return line, nil
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return "", fmt.Errorf("pipeio: %s: read: %w", r.Name, err)
		}
	}
}

// Buffered returns the bytes of an incomplete line held for the next call.
func (r *PipeReader) Buffered() int {
	return len(r.data)
}

func (r *PipeReader) takeLine() (string, bool) {
	i := bytes.IndexByte(r.data, '\n')
	if i < 0 {
		return "", false
	}
	line := string(r.data[:i])
	r.data = r.data[i+1:]
	return line, true
}

// WriteLine writes line followed by a newline, retrying short writes.
func WriteLine(w io.Writer, line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return fmt.Errorf("pipeio: write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}
