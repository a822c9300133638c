// Package sessiontest provides a deterministic in-memory document server
// for exercising sessions without a network.
package sessiontest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/docstress/internal/frameio"
)

// ErrClosed is returned by a closed Conn.
var ErrClosed = errors.New("sessiontest: closed")

// Message is one frame the server received from a client.
type Message struct {
	URL     string
	Payload string
	At      time.Time
}

// Server answers the load, key and tilecombine commands. The first
// tilecombine after a key press renders for RenderDelay; repeats are
// served from cache immediately.
type Server struct {
	RenderDelay time.Duration
	// PingFirst injects a PING ahead of every response.
	PingFirst bool
	// DropTiles suppresses tile responses so that clients time out.
	DropTiles bool
	// DialErr makes every dial fail.
	DialErr error

	mu       sync.Mutex
	dials    []string
	messages []Message
	pongs    int
	conns    []*Conn
}

// Dial opens a new in-memory session. Its signature matches
// session.DialFunc.
func (s *Server) Dial(_ context.Context, url string) (frameio.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DialErr != nil {
		return nil, s.DialErr
	}
	s.dials = append(s.dials, url)

	c := &Conn{
		server: s,
		url:    url,
		out:    make(chan frameio.Frame, 256),
		closed: make(chan struct{}),
	}
	s.conns = append(s.conns, c)
	return c, nil
}

// Dials returns the URLs dialed so far, in order.
func (s *Server) Dials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dials...)
}

// Messages returns every text frame received, in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Pongs counts PONG frames received from clients.
func (s *Server) Pongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pongs
}

// OpenConns counts sessions not yet closed by the client.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conns {
		select {
		case <-c.closed:
		default:
			n++
		}
	}
	return n
}

// Push sends payload to every open session, as unsolicited server output.
func (s *Server) Push(payload string) {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.emit(frameio.Frame{Op: frameio.OpText, Payload: []byte(payload)})
	}
}

// Conn is the client end of one in-memory session.
type Conn struct {
	server *Server
	url    string
	out    chan frameio.Frame

	mu        sync.Mutex
	cached    bool
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *Conn) ReadFrame(ctx context.Context) (frameio.Frame, error) {
	select {
	case f := <-c.out:
		return f, nil
	case <-c.closed:
		return frameio.Frame{}, ErrClosed
	case <-ctx.Done():
		return frameio.Frame{}, ctx.Err()
	}
}

func (c *Conn) WriteFrame(_ context.Context, f frameio.Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	switch f.Op {
	case frameio.OpPong:
		c.server.mu.Lock()
		c.server.pongs++
		c.server.mu.Unlock()
		return nil
	case frameio.OpPing, frameio.OpClose:
		return nil
	}

	payload := string(f.Payload)
	c.server.mu.Lock()
	c.server.messages = append(c.server.messages, Message{URL: c.url, Payload: payload, At: time.Now()})
	c.server.mu.Unlock()

	c.respond(payload)
	return nil
}

func (c *Conn) respond(payload string) {
	cmd, _, _ := strings.Cut(payload, " ")
	switch cmd {
	case "load":
		c.reply("status: type=text parts=1 current=0 width=12240 height=15840")
	case "key":
		c.mu.Lock()
		c.cached = false
		c.mu.Unlock()
		c.reply("invalidatetiles: part=0 x=0 y=0 width=3840 height=3840")
	case "tilecombine":
		if c.server.DropTiles {
			return
		}
		c.mu.Lock()
		fresh := !c.cached
		c.cached = true
		c.mu.Unlock()
		if fresh && c.server.RenderDelay > 0 {
			time.Sleep(c.server.RenderDelay)
		}
		c.reply("tile: part=0 width=256 height=256 tileposx=0 tileposy=0 tilewidth=3840 tileheight=3840")
	}
}

func (c *Conn) reply(payload string) {
	if c.server.PingFirst {
		c.emit(frameio.Frame{Op: frameio.OpPing, Payload: []byte("ka")})
	}
	c.emit(frameio.Frame{Op: frameio.OpText, Payload: []byte(payload)})
}

func (c *Conn) emit(f frameio.Frame) {
	select {
	case c.out <- f:
	case <-c.closed:
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
