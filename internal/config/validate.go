package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *BotConfig) Validate() error {
	if c.Gateway.URL != "" {
		if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
			return fmt.Errorf("gateway.url must start with ws:// or wss://, got %q", c.Gateway.URL)
		}
	} else {
		if c.Gateway.Host == "" {
			return errors.New("gateway.host is required")
		}
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
		}
	}

	if c.Gateway.DisableCommand && c.Gateway.DisableEvent {
		return errors.New("gateway cannot disable both channels")
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.Delay < 0 {
		return errors.New("reconnect.delay must be >= 0")
	}

	if c.Request.Timeout < 0 {
		return errors.New("request.timeout must be >= 0")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}
