package config

import (
	"os"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultDialTimeout          = 10 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultBatchInterval        = 16 * time.Millisecond
	DefaultHealthPort           = 8080
)

// Environment variables consulted when the YAML omits the endpoints.
const (
	EnvWSURL      = "QUOTEFEED_WS_URL"
	EnvAPIBaseURL = "QUOTEFEED_API_URL"
)

func (c *Config) applyDefaults() {
	if c.Stream.WSURL == "" {
		c.Stream.WSURL = os.Getenv(EnvWSURL)
	}
	if c.Stream.DialTimeout == 0 {
		c.Stream.DialTimeout = DefaultDialTimeout
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = os.Getenv(EnvAPIBaseURL)
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	if c.Feed.BatchInterval == 0 {
		c.Feed.BatchInterval = DefaultBatchInterval
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
