package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 6700
	DefaultMaxAttempts    = 10
	DefaultDelay          = 3 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

func (c *BotConfig) applyDefaults() {
	// Gateway defaults
	if c.Gateway.URL == "" {
		if c.Gateway.Host == "" {
			c.Gateway.Host = DefaultHost
		}
		if c.Gateway.Port == 0 {
			c.Gateway.Port = DefaultPort
		}
	}

	// Reconnect defaults
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultDelay
	}

	// Request defaults
	if c.Request.Timeout == 0 {
		c.Request.Timeout = DefaultRequestTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
