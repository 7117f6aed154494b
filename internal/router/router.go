// Package router dispatches inbound stream frames to registered
// handlers by their "type" discriminant. It keeps no domain state: each
// price or status concern registers independently, and new server-side
// message types show up as counted unknowns rather than errors.
package router

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// HandlerFunc consumes one routed frame. The raw frame is passed whole
// so each handler can unmarshal its own wire shape.
type HandlerFunc func(frame json.RawMessage)

// envelope is used for fast type extraction.
type envelope struct {
	Type string `json:"type"`
}

// Stats contains runtime counters.
type Stats struct {
	Received    int64
	Dispatched  int64
	ParseErrors int64
	Unknown     int64
}

// Router maps frame type tags to handlers. The table is built at setup
// time via Register; Dispatch never needs modification when the server
// adds message types.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	statsMu sync.Mutex
	stats   Stats
}

// New creates an empty Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a frame type tag, replacing any previous
// binding for that tag.
func (r *Router) Register(msgType string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
}

// Dispatch parses the frame's discriminant and invokes the registered
// handler. Malformed frames and unknown tags are logged and dropped;
// nothing here can tear down the transport.
func (r *Router) Dispatch(data []byte) {
	r.statsMu.Lock()
	r.stats.Received++
	r.statsMu.Unlock()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		r.logger.Warn("dropping malformed frame", "error", err)
		r.statsMu.Lock()
		r.stats.ParseErrors++
		r.statsMu.Unlock()
		return
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("unknown frame type", "type", env.Type)
		r.statsMu.Lock()
		r.stats.Unknown++
		r.statsMu.Unlock()
		return
	}

	h(data)

	r.statsMu.Lock()
	r.stats.Dispatched++
	r.statsMu.Unlock()
}

// Stats returns current counters.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}
