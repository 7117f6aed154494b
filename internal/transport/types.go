package transport

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrExhausted        = errors.New("reconnect attempts exhausted")
)

// ConnectionState describes where a Conn is in its lifecycle.
// It is owned exclusively by the Conn; consumers read it via State().
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
	StateReconnecting
	StateExhausted
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Handlers receive transport events. Callbacks are invoked from the
// Conn's read goroutine and must not block; hand work off to another
// goroutine if it can take more than a moment.
type Handlers struct {
	// OnMessage receives every inbound frame, after OnObserved.
	OnMessage func(data []byte)

	// OnObserved fires for every inbound frame before any parsing.
	// Used for liveness and diagnostics.
	OnObserved func()

	// OnError receives transport-level errors. Errors never drive
	// reconnection themselves; only the closing of the socket does.
	OnError func(err error)

	// OnReconnect fires after every successful open except the first
	// one for this Conn, so dependents can re-arm subscriptions
	// without redundant work at startup.
	OnReconnect func()

	// OnExhausted fires once when reconnect attempts run out. This is
	// fatal to the stream but not to the process.
	OnExhausted func(err error)
}

// Config controls dialing and reconnection for a Conn.
type Config struct {
	URL                  string        // WebSocket endpoint
	DialTimeout          time.Duration // Handshake timeout per attempt
	ReconnectBaseDelay   time.Duration // First backoff delay
	ReconnectMaxDelay    time.Duration // Backoff cap
	MaxReconnectAttempts int           // Attempts before Exhausted
}

// DefaultConfig returns sensible defaults: 1s base delay doubling up to
// 30s, five attempts before giving up.
func DefaultConfig() Config {
	return Config{
		DialTimeout:          10 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}
