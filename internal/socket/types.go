package socket

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrStale         = errors.New("connection stale (no ping)")
	ErrAlreadyClosed = errors.New("already closed")
)

// Message wraps raw frame data with a receive timestamp.
type Message struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// CloseInfo describes how a connection ended. Code is the WebSocket close
// code observed on the wire, or 1006 when the transport died without a
// close frame.
type CloseInfo struct {
	Code   int
	Reason string
}

// Normal reports whether the close was a normal closure (code 1000).
func (ci CloseInfo) Normal() bool {
	return ci.Code == websocket.CloseNormalClosure
}

// Config configures a single connection.
type Config struct {
	URL          string             // Full ws:// or wss:// URL including any query string
	Dialer       *websocket.Dialer  // Optional custom dialer (nil = default with 10s handshake timeout)
	PingInterval time.Duration      // Keepalive ping interval (0 disables the keepalive loop)
	PingTimeout  time.Duration      // Max time without ping/pong traffic before the peer is considered stale
	WriteTimeout time.Duration      // Write deadline for sends
	BufferSize   int                // Message channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}
