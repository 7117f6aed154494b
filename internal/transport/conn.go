package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is a self-healing WebSocket connection. A Conn may be connected,
// disconnected, and connected again; reconnect bookkeeping resets across
// manual cycles.
type Conn struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger
	session  string // correlates log lines across redials

	mu                sync.Mutex
	ws                *websocket.Conn
	state             ConnectionState
	dialCtx           context.Context
	attempts          int
	manualDisconnect  bool
	initialConnection bool
	reconnectTimer    *time.Timer

	subMu         sync.Mutex
	reconnectSubs []chan struct{}
}

// New creates a Conn. Connect must be called to open it.
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	session := uuid.NewString()[:8]
	return &Conn{
		cfg:               cfg,
		handlers:          handlers,
		logger:            logger.With("session", session),
		session:           session,
		state:             StateClosed,
		initialConnection: true,
	}
}

// Connect opens the connection. The context is retained and governs the
// handshake of every later reconnect attempt as well. A failure of this
// first dial is returned to the caller and does not start backoff.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.manualDisconnect = false
	c.state = StateConnecting
	c.dialCtx = ctx
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect.
// The Conn can be connected again later; that open counts as an initial
// connection and does not fire OnReconnect.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.manualDisconnect = true
	c.initialConnection = true
	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	ws := c.ws
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return ws.Close()
}

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeReconnect returns a channel that receives a signal after
// every non-initial successful open. The channel has capacity 1 and
// coalesces; consumers that only need "something happened" never fall
// behind.
func (c *Conn) SubscribeReconnect() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.subMu.Lock()
	c.reconnectSubs = append(c.reconnectSubs, ch)
	c.subMu.Unlock()
	return ch
}

// dial performs one handshake attempt and, on success, resets reconnect
// bookkeeping and starts the read loop.
func (c *Conn) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.manualDisconnect {
		// Disconnect raced the handshake; drop the socket.
		c.mu.Unlock()
		ws.Close()
		return nil
	}
	c.ws = ws
	c.state = StateOpen
	c.attempts = 0
	first := c.initialConnection
	c.initialConnection = false
	c.mu.Unlock()

	go c.readLoop(ws)

	if first {
		c.logger.Info("websocket connected", "url", c.cfg.URL)
		return nil
	}

	c.logger.Info("websocket reconnected", "url", c.cfg.URL)
	if h := c.handlers.OnReconnect; h != nil {
		h()
	}
	c.broadcastReconnect()
	return nil
}

// readLoop reads frames until the socket dies, invoking the observed
// hook before any handler sees the data.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}

		if h := c.handlers.OnObserved; h != nil {
			h()
		}
		if h := c.handlers.OnMessage; h != nil {
			h(data)
		}
	}
}

// handleClose runs when a read loop exits. Manual disconnects stop
// here; anything else forwards the error and enters backoff. The ws
// argument is the socket whose loop is exiting: a close from a socket
// that is no longer the current one (a Disconnect/Connect cycle has
// moved on) must not touch the new cycle's state.
func (c *Conn) handleClose(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.manualDisconnect || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.mu.Unlock()

	c.logger.Warn("websocket closed", "error", err)
	if h := c.handlers.OnError; h != nil && err != nil {
		h(err)
	}

	c.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt, or
// surfaces the terminal exhausted condition.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.manualDisconnect {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateExhausted
		c.mu.Unlock()

		c.logger.Error("reconnect attempts exhausted",
			"attempts", c.cfg.MaxReconnectAttempts,
			"url", c.cfg.URL,
		)
		if h := c.handlers.OnExhausted; h != nil {
			h(ErrExhausted)
		}
		return
	}

	delay := backoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, c.attempts)
	c.attempts++
	c.state = StateReconnecting
	c.reconnectTimer = time.AfterFunc(delay, c.redial)
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("scheduling reconnect",
		"attempt", attempt,
		"max_attempts", c.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
}

// redial fires from the backoff timer.
func (c *Conn) redial() {
	c.mu.Lock()
	if c.manualDisconnect {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.reconnectTimer = nil
	ctx := c.dialCtx
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.dial(ctx); err != nil {
		c.logger.Warn("reconnect attempt failed", "error", err)
		c.scheduleReconnect()
	}
}

// broadcastReconnect signals every subscriber without blocking.
func (c *Conn) broadcastReconnect() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.reconnectSubs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// backoffDelay returns min(base * 2^attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}
