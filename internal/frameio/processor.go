package frameio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval bounds each blocking read in the dispatch loop.
const DefaultPollInterval = 5 * time.Second

// ReceiveFrame reads the next frame that is not a keepalive. A PING is
// answered with a PONG carrying the same payload; a PONG is dropped.
// Everything else, including empty and close frames, is returned as is.
func ReceiveFrame(ctx context.Context, conn Conn) (Frame, error) {
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return Frame{}, err
		}

		switch f.Op {
		case OpPing:
			if err := conn.WriteFrame(ctx, Frame{Op: OpPong, Payload: f.Payload}); err != nil {
				return Frame{}, fmt.Errorf("reply to ping: %w", err)
			}
		case OpPong:
		default:
			return f, nil
		}
	}
}

// Processor synchronously reads frames from a Conn and dispatches
// application payloads to Handler until told to stop.
type Processor struct {
	// Handler receives each application payload. Returning false ends
	// the loop as a close.
	Handler func(payload []byte) bool

	// OnClose is invoked exactly once when the channel closes, the
	// handler declines more input, or the transport fails.
	OnClose func()

	// Stop is polled once per iteration. Optional.
	Stop func() bool

	PollInterval time.Duration
	Logger       *zap.Logger
}

// Run drives the dispatch loop until Stop reports true, ctx is done, or the
// channel closes. It returns nil for a graceful close and the transport
// error otherwise. Stop and cancellation are not closes: OnClose is not
// called for them.
func (p *Processor) Run(ctx context.Context, conn Conn) (err error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	closed := false
	closeOnce := func() {
		if closed {
			return
		}
		closed = true
		if p.OnClose != nil {
			p.OnClose()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame processor: %v", r)
			logger.Error("frame processor panicked", zap.Any("panic", r))
			closeOnce()
		}
	}()

	for {
		if p.Stop != nil && p.Stop() {
			logger.Debug("termination flagged, finishing")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		readCtx, cancel := context.WithTimeout(ctx, poll)
		f, rerr := ReceiveFrame(readCtx, conn)
		cancel()

		if rerr != nil {
			if errors.Is(rerr, context.DeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Debug("transport failed, closing", zap.Error(rerr))
			closeOnce()
			return rerr
		}

		if f.Op == OpClose {
			closeOnce()
			return nil
		}

		if p.Handler != nil && !p.Handler(f.Payload) {
			closeOnce()
			return nil
		}
	}
}

// Shutdown performs a best-effort protocol close and releases conn. Errors
// from the transport are discarded.
func Shutdown(ctx context.Context, conn Conn) {
	if conn == nil {
		return
	}
	_ = conn.WriteFrame(ctx, Frame{Op: OpClose})
	_ = conn.Close()
}
