// Package config loads and validates quotefeed configuration from YAML
// with environment variable expansion.
package config

import "time"

// Config is the root configuration for a quotefeed instance.
type Config struct {
	Stream     StreamConfig     `yaml:"stream"`
	API        APIConfig        `yaml:"api"`
	Feed       FeedConfig       `yaml:"feed"`
	Credential CredentialConfig `yaml:"credential"`
	Health     HealthConfig     `yaml:"health"`
}

// StreamConfig holds the WebSocket endpoint and reconnection settings.
type StreamConfig struct {
	WSURL                string        `yaml:"ws_url"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// APIConfig holds the REST collaborator settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// FeedConfig holds update batching settings.
type FeedConfig struct {
	BatchInterval time.Duration `yaml:"batch_interval"`
}

// CredentialConfig selects the trading credential the stream is scoped
// to at startup. The id may change at runtime via the subscription
// manager; this is only the initial selection.
type CredentialConfig struct {
	ID string `yaml:"id"`
}

// HealthConfig holds the health/stats HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
