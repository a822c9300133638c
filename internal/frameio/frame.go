// Package frameio provides synchronous frame-level I/O over a message
// channel: keepalive-transparent reads, a blocking dispatch loop and a
// best-effort shutdown.
package frameio

import (
	"context"
	"fmt"
)

// Opcode identifies the kind of a frame.
type Opcode int

const (
	OpText Opcode = iota + 1
	OpBinary
	OpClose
	OpPing
	OpPong
)

func (o Opcode) String() string {
	switch o {
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%d)", int(o))
	}
}

// IsControl reports whether the opcode is a keepalive control frame.
func (o Opcode) IsControl() bool {
	return o == OpPing || o == OpPong
}

// Frame is one discrete message unit on the transport.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// Conn is a bidirectional frame channel.
//
// ReadFrame blocks until a frame arrives, the context is done or the
// channel fails. Implementations must surface PING and PONG control frames
// to the caller instead of answering them themselves.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}
