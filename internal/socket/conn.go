package socket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn represents a single WebSocket connection to the gateway.
type Conn interface {
	// Connect establishes the WebSocket connection. A Conn is single-use:
	// once it has been closed it cannot be connected again.
	Connect(ctx context.Context) error

	// Close starts a closing handshake with the given close code. The
	// connection is fully torn down once the peer's close reply (or a
	// grace timeout) is observed, at which point Closed delivers.
	Close(code int, reason string) error

	// Send writes raw bytes to the connection as a text frame.
	Send(data []byte) error

	// Messages returns a channel of all raw inbound frames.
	Messages() <-chan Message

	// Errors returns a channel of transport errors. Orderly closes are
	// not errors; they are reported via Closed.
	Errors() <-chan error

	// Closed delivers exactly one CloseInfo when the connection ends,
	// however it ends.
	Closed() <-chan CloseInfo

	// IsConnected returns the current connection state.
	IsConnected() bool
}

// conn implements the Conn interface.
type conn struct {
	cfg    Config
	logger *slog.Logger

	ws *websocket.Conn

	// Output channels
	messages chan Message
	errors   chan error
	closed   chan CloseInfo
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu          sync.RWMutex
	connected   bool
	closing     bool
	terminated  bool
	closeCode   int
	closeReason string
	lastAlive   time.Time

	finishOnce sync.Once
	graceTimer *time.Timer
}

// New creates a new connection for the given endpoint.
func New(cfg Config, logger *slog.Logger) Conn {
	if logger == nil {
		logger = slog.Default()
	}

	return &conn{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan Message, cfg.BufferSize),
		errors:   make(chan error, 1),
		closed:   make(chan CloseInfo, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.terminated || c.connected {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.lastAlive = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong and record liveness.
	ws.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastAlive = time.Now()
		c.mu.Unlock()

		return ws.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our ping.
	ws.SetPongHandler(func(data string) error {
		c.mu.Lock()
		c.lastAlive = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.keepaliveLoop()
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close starts the closing handshake. The read loop observes the peer's
// close reply and completes the teardown; a grace timer forces the
// transport shut if the peer never replies.
func (c *conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.terminated || c.closing {
		c.mu.Unlock()
		return nil
	}
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.closing = true
	c.closeCode = code
	c.closeReason = reason
	ws := c.ws
	c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	err := ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		deadline,
	)

	grace := c.cfg.WriteTimeout
	if grace <= 0 {
		grace = 5 * time.Second
	}
	c.mu.Lock()
	c.graceTimer = time.AfterFunc(grace, func() {
		ws.Close()
	})
	c.mu.Unlock()

	return err
}

// Send writes raw bytes to the connection.
func (c *conn) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected || c.closing {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *conn) Messages() <-chan Message {
	return c.messages
}

// Errors returns the errors channel.
func (c *conn) Errors() <-chan error {
	return c.errors
}

// Closed returns the close-notification channel.
func (c *conn) Closed() <-chan CloseInfo {
	return c.closed
}

// IsConnected returns the current connection state.
func (c *conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && !c.closing
}

// readLoop reads frames from the WebSocket and sends them to the messages
// channel. Every exit path funnels through finish, so Closed always fires.
func (c *conn) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.finish(err)
			return
		}

		msg := Message{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping frame")
		}
	}
}

// finish tears the connection down and delivers the CloseInfo exactly once.
func (c *conn) finish(readErr error) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.terminated = true
		localClose := c.closing
		code, reason := c.closeCode, c.closeReason
		if c.graceTimer != nil {
			c.graceTimer.Stop()
		}
		c.mu.Unlock()

		info := CloseInfo{Code: websocket.CloseAbnormalClosure}
		var ce *websocket.CloseError
		switch {
		case errors.As(readErr, &ce):
			info = CloseInfo{Code: ce.Code, Reason: ce.Text}
		case localClose:
			info = CloseInfo{Code: code, Reason: reason}
		default:
			info.Reason = readErr.Error()
			select {
			case c.errors <- readErr:
			default:
			}
		}

		close(c.done)
		c.ws.Close()

		c.logger.Debug("websocket closed", "code", info.Code, "reason", info.Reason)
		c.closed <- info
	})
}

// keepaliveLoop sends periodic pings and watches for stale connections.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			ws := c.ws
			c.mu.RUnlock()

			if ws != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			c.mu.RLock()
			lastAlive := c.lastAlive
			c.mu.RUnlock()

			if time.Since(lastAlive) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_alive", lastAlive,
					"timeout", c.cfg.PingTimeout,
				)
				select {
				case c.errors <- ErrStale:
				default:
				}
				// Kill the transport; the read loop observes the
				// failure and completes the teardown.
				ws.Close()
				return
			}
		}
	}
}
