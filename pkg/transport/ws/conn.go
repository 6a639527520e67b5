// Package ws implements the transport.Connection contract over a websocket,
// using binary messages as frames.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomwire-dev/roomwire/pkg/transport"
)

// ErrClosed is returned by Send after the connection has closed.
var ErrClosed = errors.New("ws: connection closed")

// Conn is a websocket-backed transport connection. Inbound frames are
// delivered from a single reader goroutine, so callbacks observe frames in
// arrival order.
type Conn struct {
	endpoint string
	config   *Config
	logger   *slog.Logger
	cb       transport.Callbacks

	mu     sync.Mutex // guards ws writes and closed
	ws     *websocket.Conn
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Conn.
type Option func(*Conn)

// WithConfig sets the connection config.
func WithConfig(cfg *Config) Option {
	return func(c *Conn) {
		if cfg != nil {
			c.config = cfg.Clone()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a connection to the given ws:// or wss:// endpoint.
// The connection is not opened until Open is called.
func New(endpoint string, opts ...Option) *Conn {
	c := &Conn{
		endpoint: endpoint,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind installs the callbacks. Must be called before Open.
func (c *Conn) Bind(cb transport.Callbacks) {
	c.cb = cb
}

// Open dials the endpoint and starts the reader. Transport-level failures
// after this point are reported through the bound callbacks; Open itself
// only fails on dial errors.
func (c *Conn) Open(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.DialTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("ws: dial %s: %w", c.endpoint, err)
	}

	ws.SetReadLimit(c.config.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	go c.readPump()
	go c.pingLoop()

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}
	return nil
}

// Send transmits one binary frame.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ws == nil {
		return ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Close tears the connection down. Safe to call more than once; the first
// call attempts a clean close handshake.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	close(c.done)

	if ws == nil {
		c.fireClose("")
		return nil
	}

	ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ws.Close()
}

func (c *Conn) readPump() {
	reason := ""
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.fireClose(reason)
	}()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				reason = ce.Text
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Error("ws read error", "error", err)
				if c.cb.OnError != nil {
					// The byte stream alone cannot distinguish the root
					// cause; common ones are authorization rejection and
					// room capacity limits.
					c.cb.OnError(fmt.Errorf("ws: connection failure (possible causes: authorization rejected, room capacity reached): %w", err))
				}
			}
			return
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(frame)
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed || c.ws == nil {
				c.mu.Unlock()
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("ws ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Conn) fireClose(reason string) {
	c.closeOnce.Do(func() {
		if c.cb.OnClose != nil {
			c.cb.OnClose(reason)
		}
	})
}
