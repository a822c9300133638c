// Package session manages logical client sessions against the document
// server: serialized handshakes, command sends and prefix-matched
// receives.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/docstress/internal/frameio"
	"github.com/FairForge/docstress/internal/metrics"
	"github.com/FairForge/docstress/internal/wsconn"
	"go.uber.org/zap"
)

// ErrHandshake is wrapped by Connect failures.
var ErrHandshake = errors.New("session: handshake failed")

const (
	DefaultPathPrefix     = "/lool/ws/"
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// DialFunc opens a frame channel to url.
type DialFunc func(ctx context.Context, url string) (frameio.Conn, error)

// Options configures a Connector.
type Options struct {
	PathPrefix     string
	Timeout        time.Duration // per receive
	ConnectTimeout time.Duration
	Dial           DialFunc
	Logger         *zap.Logger
	Metrics        *metrics.Collector
}

// Connector creates sessions. Handshakes through one Connector never
// overlap; share a single Connector across workers.
type Connector struct {
	serverURI string
	opts      Options

	mu sync.Mutex
}

// NewConnector returns a Connector for serverURI.
func NewConnector(serverURI string, opts Options) *Connector {
	if opts.PathPrefix == "" {
		opts.PathPrefix = DefaultPathPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dial == nil {
		opts.Dial = WebSocketDialer(opts.ConnectTimeout)
	}
	return &Connector{serverURI: serverURI, opts: opts}
}

// WebSocketDialer dials with gorilla/websocket.
func WebSocketDialer(handshakeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, target string) (frameio.Conn, error) {
		conn, _, err := wsconn.Dial(ctx, target, wsconn.Options{HandshakeTimeout: handshakeTimeout})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// URL returns the upgrade URL for documentURL: the server URI with its
// scheme mapped to ws or wss, then the path prefix and the document URL.
func (c *Connector) URL(documentURL string) (string, error) {
	u, err := url.Parse(c.serverURI)
	if err != nil {
		return "", fmt.Errorf("server uri: %w", err)
	}

	scheme := u.Scheme
	switch scheme {
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server uri %q: unsupported scheme %q", c.serverURI, u.Scheme)
	}

	base := strings.TrimRight(u.Path, "/")
	return scheme + "://" + u.Host + base + c.opts.PathPrefix + documentURL, nil
}

// Connect performs the handshake for one session of documentURL. It does
// not retry.
func (c *Connector) Connect(ctx context.Context, documentURL, sessionID string) (*Conn, error) {
	target, err := c.URL(documentURL)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s: %w", ErrHandshake, sessionID, err)
	}

	logger := c.opts.Logger.With(zap.String("session", sessionID))

	c.mu.Lock()
	defer c.mu.Unlock()

	logger.Info("NewSession", zap.String("uri", c.serverURI), zap.String("doc", documentURL))

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	start := time.Now()
	ws, err := c.opts.Dial(dialCtx, target)
	cancel()
	c.opts.Metrics.RecordHandshake(time.Since(start), err)
	if err != nil {
		logger.Error("handshake failed", zap.String("url", target), zap.Error(err))
		return nil, fmt.Errorf("%w: session %s: %w", ErrHandshake, sessionID, err)
	}

	logger.Info("connected")
	return &Conn{
		documentURL: documentURL,
		sessionID:   sessionID,
		name:        sessionID + " ",
		ws:          ws,
		timeout:     c.opts.Timeout,
		logger:      logger,
		metrics:     c.opts.Metrics,
	}, nil
}

// Conn is one logical session bound to one document. Its methods are not
// safe for concurrent use except Close, and Receive must not be used once
// Drain has started.
type Conn struct {
	documentURL string
	sessionID   string
	name        string
	ws          frameio.Conn
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *metrics.Collector

	received  atomic.Int64
	stop      atomic.Bool
	drainDone chan struct{}
	closeOnce sync.Once
}

func (c *Conn) DocumentURL() string { return c.documentURL }
func (c *Conn) SessionID() string   { return c.sessionID }

// Name is the session id with a trailing space, used as a log prefix.
func (c *Conn) Name() string { return c.name }

// Received counts application frames read so far.
func (c *Conn) Received() int64 { return c.received.Load() }

// Send writes one text frame. Nothing is awaited.
func (c *Conn) Send(ctx context.Context, data string) error {
	c.logger.Debug("send", zap.String("data", data))
	if err := c.ws.WriteFrame(ctx, frameio.Frame{Op: frameio.OpText, Payload: []byte(data)}); err != nil {
		return fmt.Errorf("session %s: send: %w", c.sessionID, err)
	}
	c.metrics.RecordSend()
	return nil
}

// Receive reads frames until one starts with prefix and returns its
// payload. Other frames are discarded. It returns nil when the timeout
// expires, ctx ends or the server closes the session.
func (c *Conn) Receive(ctx context.Context, prefix string) []byte {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	p := []byte(prefix)
	for {
		f, err := frameio.ReceiveFrame(rctx, c.ws)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				c.metrics.RecordReceiveTimeout()
				c.logger.Warn("timed out waiting for response", zap.String("prefix", prefix), zap.Duration("timeout", c.timeout))
			} else if ctx.Err() == nil {
				c.logger.Error("receive failed", zap.String("prefix", prefix), zap.Error(err))
			}
			return nil
		}
		if f.Op == frameio.OpClose {
			c.logger.Warn("session closed while waiting", zap.String("prefix", prefix))
			return nil
		}

		c.received.Add(1)
		c.metrics.RecordReceive()
		if bytes.HasPrefix(f.Payload, p) {
			return f.Payload
		}
		c.logger.Debug("discarding", zap.ByteString("payload", truncate(f.Payload, 80)))
	}
}

// Load requests the document and waits for its status.
func (c *Conn) Load(ctx context.Context) bool {
	if err := c.Send(ctx, "load url="+c.documentURL); err != nil {
		c.logger.Error("load failed", zap.Error(err))
		return false
	}
	return c.Receive(ctx, "status:") != nil
}

// Drain consumes server output in the background, answering keepalives,
// until Close. It is a no-op after the first call.
func (c *Conn) Drain(ctx context.Context) {
	if c.drainDone != nil {
		return
	}
	c.drainDone = make(chan struct{})

	p := &frameio.Processor{
		Handler: func([]byte) bool {
			c.received.Add(1)
			c.metrics.RecordReceive()
			return true
		},
		OnClose:      func() { c.logger.Debug("server closed session") },
		Stop:         c.stop.Load,
		PollInterval: time.Second,
		Logger:       c.logger,
	}

	go func() {
		defer close(c.drainDone)
		if err := p.Run(ctx, c.ws); err != nil {
			c.logger.Debug("drain ended", zap.Error(err))
		}
	}()
}

// Close stops draining and shuts the channel down. It is safe to call more
// than once.
func (c *Conn) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.stop.Store(true)
		frameio.Shutdown(ctx, c.ws)
		if c.drainDone != nil {
			<-c.drainDone
		}
		c.metrics.RecordClose()
	})
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
