package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*BotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg BotConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*BotConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*BotConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// parseDurations converts duration strings into their time.Duration
// fields. yaml.v3 does not parse "3s" style values on its own.
func (c *BotConfig) parseDurations() error {
	if c.Reconnect.DelayRaw != "" {
		d, err := time.ParseDuration(c.Reconnect.DelayRaw)
		if err != nil {
			return fmt.Errorf("parse reconnect.delay: %w", err)
		}
		c.Reconnect.Delay = d
	}
	if c.Request.TimeoutRaw != "" {
		d, err := time.ParseDuration(c.Request.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parse request.timeout: %w", err)
		}
		c.Request.Timeout = d
	}
	return nil
}
