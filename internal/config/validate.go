package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Stream.WSURL == "" {
		return errors.New("stream.ws_url is required (or set " + EnvWSURL + ")")
	}
	if !strings.HasPrefix(c.Stream.WSURL, "ws://") && !strings.HasPrefix(c.Stream.WSURL, "wss://") {
		return fmt.Errorf("stream.ws_url must be a ws:// or wss:// URL, got %q", c.Stream.WSURL)
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required (or set " + EnvAPIBaseURL + ")")
	}

	if c.Stream.MaxReconnectAttempts < 1 {
		return errors.New("stream.max_reconnect_attempts must be >= 1")
	}
	if c.Stream.ReconnectBaseDelay > c.Stream.ReconnectMaxDelay {
		return errors.New("stream.reconnect_base_delay must be <= stream.reconnect_max_delay")
	}

	if c.Feed.BatchInterval < 0 {
		// Zero means "use the default window".
		return errors.New("feed.batch_interval must not be negative")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}
