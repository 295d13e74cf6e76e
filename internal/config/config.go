package config

import (
	"io"
	"log/slog"
	"time"

	"github.com/codaki/botlink"
)

// BotConfig is the top-level configuration shared by the botlink commands.
type BotConfig struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Request   RequestConfig   `yaml:"request"`
	Log       LogConfig       `yaml:"log"`
}

// GatewayConfig locates the OneBot gateway and carries its credentials.
type GatewayConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	URL         string `yaml:"url"` // overrides host/port when set
	AccessToken string `yaml:"access_token"`

	DisableCommand bool `yaml:"disable_command"`
	DisableEvent   bool `yaml:"disable_event"`
}

// ReconnectConfig controls automatic reconnection after abnormal closes.
type ReconnectConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxAttempts int  `yaml:"max_attempts"`

	Delay    time.Duration `yaml:"-"`
	DelayRaw string        `yaml:"delay"` // e.g. "3s"
}

// RequestConfig bounds API calls issued over the command channel.
type RequestConfig struct {
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"` // e.g. "30s"
}

// LogConfig controls command logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Client converts the file configuration into a client configuration.
// Fields the file does not cover keep the client library defaults.
func (c *BotConfig) Client() botlink.Config {
	cfg := botlink.DefaultConfig()
	cfg.Host = c.Gateway.Host
	cfg.Port = c.Gateway.Port
	cfg.BaseURL = c.Gateway.URL
	cfg.AccessToken = c.Gateway.AccessToken
	cfg.DisableCommand = c.Gateway.DisableCommand
	cfg.DisableEvent = c.Gateway.DisableEvent
	cfg.Reconnect = botlink.ReconnectConfig{
		Enabled:     c.Reconnect.Enabled,
		MaxAttempts: c.Reconnect.MaxAttempts,
		Delay:       c.Reconnect.Delay,
	}
	cfg.RequestTimeout = c.Request.Timeout
	return cfg
}

// SlogLevel maps the configured level name to a slog level. Unknown
// names fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler builds a slog handler writing to w in the configured format.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
