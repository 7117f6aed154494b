// Package transport implements the reconnecting WebSocket client that
// feeds the quote stream.
//
// Each Conn:
//   - Owns one live socket connection to the stream endpoint
//   - Recovers from drops with bounded exponential backoff (5 attempts)
//   - Suppresses the reconnect callback on the first successful open
//   - Broadcasts a process-wide "reconnected" signal so independent
//     consumers can re-arm their own subscriptions
//
// All reconnect bookkeeping is instance state on the Conn, so multiple
// independent streams can coexist in one process.
package transport
