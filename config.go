package botlink

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Config configures a Bot. The zero value plus defaults targets a local
// gateway with reconnection off; start from DefaultConfig for the usual
// reconnecting setup.
type Config struct {
	// Host and Port locate the gateway when BaseURL is unset.
	Host string
	Port int

	// BaseURL overrides Host/Port with a full ws:// or wss:// URL,
	// without trailing slash or query string.
	BaseURL string

	// AccessToken is appended to every endpoint URL as the access_token
	// query parameter. Empty sends no token.
	AccessToken string

	// SelfID is the bot's own account id, used to recognize mentions of
	// itself. Zero resolves it via get_login_info once the command
	// channel connects.
	SelfID int64

	// DisableCommand and DisableEvent exclude the respective channel
	// from the lifecycle entirely.
	DisableCommand bool
	DisableEvent   bool

	// Reconnect governs automatic reconnection after abnormal closes
	// and failed connection attempts.
	Reconnect ReconnectConfig

	// RequestTimeout bounds Call by default. Zero waits indefinitely.
	RequestTimeout time.Duration

	// Dialer tunes the WebSocket transport, passed through to every
	// dial unmodified. Nil uses a default with a 10s handshake timeout.
	Dialer *websocket.Dialer

	// Socket keepalive and buffering. A negative PingInterval disables
	// the keepalive loop.
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// ReconnectConfig is the reconnection policy applied per channel.
type ReconnectConfig struct {
	Enabled     bool          // reconnect automatically after abnormal closes
	MaxAttempts int           // consecutive failed attempts before giving up
	Delay       time.Duration // wait between attempts
}

// DefaultConfig returns the configuration for a local gateway with
// reconnection on.
func DefaultConfig() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 6700,
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MaxAttempts: 10,
			Delay:       3 * time.Second,
		},
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseURL == "" {
		if c.Host == "" {
			c.Host = def.Host
		}
		if c.Port == 0 {
			c.Port = def.Port
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = def.Reconnect.MaxAttempts
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = def.Reconnect.Delay
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
	return c
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	if c.BaseURL != "" {
		if !strings.HasPrefix(c.BaseURL, "ws://") && !strings.HasPrefix(c.BaseURL, "wss://") {
			return fmt.Errorf("base url must start with ws:// or wss://, got %q", c.BaseURL)
		}
	} else {
		if c.Host == "" {
			return fmt.Errorf("host is required")
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("port must be 1-65535, got %d", c.Port)
		}
	}
	if c.DisableCommand && c.DisableEvent {
		return fmt.Errorf("at least one channel must be enabled")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect max attempts cannot be negative")
	}
	if c.Reconnect.Delay < 0 {
		return fmt.Errorf("reconnect delay cannot be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	return nil
}

// endpoint builds the URL for one channel.
func (c Config) endpoint(ch Channel) string {
	base := c.BaseURL
	if base == "" {
		base = fmt.Sprintf("ws://%s:%d", c.Host, c.Port)
	}

	var suffix string
	switch ch {
	case ChannelCommand:
		suffix = "/api"
	case ChannelEvent:
		suffix = "/event"
	}

	u := base + suffix
	if c.AccessToken != "" {
		u += "?access_token=" + url.QueryEscape(c.AccessToken)
	}
	return u
}
