package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server. The handler runs once
// per accepted connection.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// testConfig returns a Config with short delays suitable for tests.
func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for attempt, w := range want {
		if got := backoffDelay(base, max, attempt); got != w {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", attempt, got, w)
		}
	}

	// Past the cap.
	if got := backoffDelay(base, max, 5); got != max {
		t.Errorf("backoffDelay(attempt=5) = %v, want %v", got, max)
	}
	if got := backoffDelay(base, max, 40); got != max {
		t.Errorf("backoffDelay(attempt=40) = %v, want cap %v", got, max)
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{StateReconnecting, "reconnecting"},
		{StateExhausted, "exhausted"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestConn_ConnectAndReceive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_established"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var observed, received atomic.Int64
	var got atomic.Value

	c := New(testConfig(wsURL(server)), Handlers{
		OnObserved: func() { observed.Add(1) },
		OnMessage: func(data []byte) {
			received.Add(1)
			got.Store(string(data))
		},
	}, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if c.State() != StateOpen {
		t.Errorf("State() = %v, want %v", c.State(), StateOpen)
	}

	waitFor(t, time.Second, func() bool { return received.Load() == 1 })

	// The observed hook fires for every frame, before the handler.
	if observed.Load() != 1 {
		t.Errorf("observed hook fired %d times, want 1", observed.Load())
	}
	if s, _ := got.Load().(string); s != `{"type":"connection_established"}` {
		t.Errorf("unexpected frame: %s", s)
	}
}

func TestConn_ConnectTwice(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	c := New(testConfig(wsURL(server)), Handlers{}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != ErrAlreadyConnected {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestConn_OnReconnectSuppressedOnFirstOpen(t *testing.T) {
	var opens atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := opens.Add(1)
		if n <= 2 {
			// Kill the first two connections to force reconnects.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var reconnects atomic.Int64
	signals := make(chan struct{}, 4)

	c := New(testConfig(wsURL(server)), Handlers{
		OnReconnect: func() { reconnects.Add(1) },
	}, nil)
	sub := c.SubscribeReconnect()
	go func() {
		for range sub {
			signals <- struct{}{}
		}
	}()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, 2*time.Second, func() bool { return c.State() == StateOpen && opens.Load() == 3 })

	// Three opens total, but only the 2nd and 3rd count as reconnects.
	waitFor(t, time.Second, func() bool { return reconnects.Load() == 2 })

	// The broadcast channel coalesces, so at least one signal arrived.
	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Error("expected a reconnect broadcast signal")
	}
}

func TestConn_ManualDisconnectCancelsReconnect(t *testing.T) {
	var opens atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		opens.Add(1)
		conn.Close()
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.ReconnectBaseDelay = 100 * time.Millisecond

	c := New(cfg, Handlers{}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Wait until the backoff timer is armed, then disconnect inside
	// the backoff window.
	waitFor(t, time.Second, func() bool { return c.State() == StateReconnecting })
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	if n := opens.Load(); n != 1 {
		t.Errorf("server saw %d connections, want 1 (reconnect should have been cancelled)", n)
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want %v", c.State(), StateClosed)
	}
}

func TestConn_ExhaustsAfterMaxAttempts(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})

	var errors atomic.Int64
	var exhausted atomic.Int64

	cfg := testConfig(wsURL(server))
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	cfg.ReconnectMaxDelay = 20 * time.Millisecond

	c := New(cfg, Handlers{
		OnError:     func(err error) { errors.Add(1) },
		OnExhausted: func(err error) { exhausted.Add(1) },
	}, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	// Take the server away so every reconnect attempt fails to dial.
	server.Close()

	waitFor(t, 3*time.Second, func() bool { return c.State() == StateExhausted })

	if exhausted.Load() != 1 {
		t.Errorf("OnExhausted fired %d times, want 1", exhausted.Load())
	}
	if errors.Load() == 0 {
		t.Error("expected at least one OnError from the dropped connection")
	}

	// Terminal: no further attempts are scheduled.
	time.Sleep(100 * time.Millisecond)
	if c.State() != StateExhausted {
		t.Errorf("State() = %v, want %v after exhaustion", c.State(), StateExhausted)
	}
}

func TestConn_ReconnectAfterManualCycle(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var mu sync.Mutex
	var reconnects int

	c := New(testConfig(wsURL(server)), Handlers{
		OnReconnect: func() {
			mu.Lock()
			reconnects++
			mu.Unlock()
		},
	}, nil)

	// Every open after a manual disconnect counts as an initial
	// connection again. Cycle quickly so the new connection is live
	// before the previous cycle's read loop has seen its socket die;
	// that stale close must not drive reconnect state.
	for i := 0; i < 3; i++ {
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect (cycle %d) failed: %v", i, err)
		}
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect (cycle %d) failed: %v", i, err)
		}
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("final Connect failed: %v", err)
	}
	defer c.Disconnect()

	time.Sleep(100 * time.Millisecond)

	if c.State() != StateOpen {
		t.Errorf("State() = %v, want %v", c.State(), StateOpen)
	}
	mu.Lock()
	defer mu.Unlock()
	if reconnects != 0 {
		t.Errorf("OnReconnect fired %d times across manual cycles, want 0", reconnects)
	}
}
