// Package wsconn adapts a gorilla WebSocket connection to frameio.Conn.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/FairForge/docstress/internal/frameio"
	"github.com/gorilla/websocket"
)

const (
	defaultQueueSize = 64
	writeWait        = 10 * time.Second
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("wsconn: connection closed")

// Options configures Dial.
type Options struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	// ReadLimit caps one message in bytes. Zero means no limit.
	ReadLimit int64
	// QueueSize is the number of frames buffered ahead of the reader.
	QueueSize int
}

// Conn is a frameio.Conn over a WebSocket. A single goroutine owns the
// socket's read side and queues frames, so a read timeout on the caller's
// side never breaks the socket.
type Conn struct {
	ws     *websocket.Conn
	frames chan frameio.Frame
	stop   chan struct{}
	err    error // terminal read error, valid once frames is closed

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Dial performs the HTTP upgrade against rawURL.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, *http.Response, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	ws, resp, err := d.DialContext(ctx, rawURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, resp, fmt.Errorf("websocket handshake with %s: %s: %w", rawURL, resp.Status, err)
		}
		return nil, nil, fmt.Errorf("websocket dial %s: %w", rawURL, err)
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return New(ws, opts.QueueSize), resp, nil
}

// New wraps an established WebSocket and starts its reader.
func New(ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	c := &Conn{
		ws:     ws,
		frames: make(chan frameio.Frame, queueSize),
		stop:   make(chan struct{}),
	}

	// Keepalive frames are surfaced rather than answered here; the reply
	// policy lives in frameio.ReceiveFrame.
	ws.SetPingHandler(func(data string) error {
		c.push(frameio.Frame{Op: frameio.OpPing, Payload: []byte(data)})
		return nil
	})
	ws.SetPongHandler(func(data string) error {
		c.push(frameio.Frame{Op: frameio.OpPong, Payload: []byte(data)})
		return nil
	})
	ws.SetCloseHandler(func(code int, text string) error {
		msg := websocket.FormatCloseMessage(code, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return nil
	})

	go c.pump()
	return c
}

func (c *Conn) push(f frameio.Frame) {
	select {
	case c.frames <- f:
	case <-c.stop:
	}
}

func (c *Conn) pump() {
	defer close(c.frames)

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.push(frameio.Frame{Op: frameio.OpClose, Payload: []byte(ce.Text)})
			}
			c.err = err
			return
		}

		op := frameio.OpText
		if mt == websocket.BinaryMessage {
			op = frameio.OpBinary
		}
		c.push(frameio.Frame{Op: op, Payload: data})
	}
}

// ReadFrame returns the next queued frame.
func (c *Conn) ReadFrame(ctx context.Context) (frameio.Frame, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			if c.err == nil {
				return frameio.Frame{}, ErrClosed
			}
			return frameio.Frame{}, c.err
		}
		return f, nil
	case <-ctx.Done():
		return frameio.Frame{}, ctx.Err()
	}
}

// WriteFrame writes f. Data frames are serialized; control frames may be
// written concurrently with them.
func (c *Conn) WriteFrame(ctx context.Context, f frameio.Frame) error {
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}

	switch f.Op {
	case frameio.OpText, frameio.OpBinary:
		mt := websocket.TextMessage
		if f.Op == frameio.OpBinary {
			mt = websocket.BinaryMessage
		}
		c.wmu.Lock()
		defer c.wmu.Unlock()
		if err := c.ws.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return c.ws.WriteMessage(mt, f.Payload)
	case frameio.OpPing:
		return c.ws.WriteControl(websocket.PingMessage, f.Payload, deadline)
	case frameio.OpPong:
		return c.ws.WriteControl(websocket.PongMessage, f.Payload, deadline)
	case frameio.OpClose:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(f.Payload))
		return c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	default:
		return fmt.Errorf("wsconn: unsupported opcode %s", f.Op)
	}
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		err = c.ws.Close()
	})
	return err
}
