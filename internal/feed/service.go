// Package feed wires the quote stream together: one transport
// connection feeding the frame router, whose price handlers stage
// updates in per-namespace batchers that flush into the two price
// caches. Consumers observe the caches; nothing downstream sees a raw
// frame.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kmorrill/quotefeed/internal/batch"
	"github.com/kmorrill/quotefeed/internal/model"
	"github.com/kmorrill/quotefeed/internal/pricecache"
	"github.com/kmorrill/quotefeed/internal/router"
	"github.com/kmorrill/quotefeed/internal/subscription"
	"github.com/kmorrill/quotefeed/internal/transport"
)

// Config holds feed service settings.
type Config struct {
	Transport     transport.Config
	BatchInterval time.Duration // Coalescing window; defaults to one 60 Hz frame
}

// Stats is a point-in-time view of the whole stream.
type Stats struct {
	State          string
	ProviderStatus model.ProviderStatus
	ClientID       string
	Frames         int64
	LastFrameAt    time.Time
	Router         router.Stats
	OptionBatcher  batch.Stats
	SpotBatcher    batch.Stats
	OptionCache    pricecache.Stats
	SpotCache      pricecache.Stats
	Subscribed     bool
}

// Service owns the stream composition. Start connects; Stop tears down
// the connection and cancels pending flushes so no late callback writes
// into an unobserved cache.
type Service struct {
	cfg    Config
	logger *slog.Logger

	conn        *transport.Conn
	frameRouter *router.Router
	optionBatch *batch.Batcher[model.PriceUpdate]
	spotBatch   *batch.Batcher[model.PriceUpdate]
	optionCache *pricecache.Cache
	spotCache   *pricecache.Cache
	subs        *subscription.Manager

	mu             sync.Mutex
	ctx            context.Context
	providerStatus model.ProviderStatus
	clientID       string
	frames         int64
	lastFrameAt    time.Time
}

// New assembles a Service. The caches are shared with the callers that
// display prices; the subscription manager is shared with whatever
// drives credential selection.
func New(cfg Config, subs *subscription.Manager, optionCache, spotCache *pricecache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = batch.DefaultTick
	}

	s := &Service{
		cfg:         cfg,
		logger:      logger,
		optionCache: optionCache,
		spotCache:   spotCache,
		subs:        subs,
	}

	sched := batch.TickScheduler{Interval: cfg.BatchInterval}
	s.optionBatch = batch.New(sched, func(snap map[string]model.PriceUpdate) {
		s.optionCache.ApplyBatch(snap)
	})
	s.spotBatch = batch.New(sched, func(snap map[string]model.PriceUpdate) {
		s.spotCache.ApplyBatch(snap)
	})

	r := router.New(logger)
	r.Register(router.TypeOptionPriceUpdate, s.handleOptionPrice)
	r.Register(router.TypeOptionPriceBatch, s.handleOptionPriceBatch)
	r.Register(router.TypeSpotPriceUpdate, s.handleSpotPrice)
	r.Register(router.TypePositionUpdate, s.handlePositionUpdate)
	r.Register(router.TypeProviderStatus, s.handleProviderStatus)
	r.Register(router.TypeError, s.handleErrorFrame)
	r.Register(router.TypeConnectionEstablished, s.handleConnectionEstablished)
	s.frameRouter = r

	s.conn = transport.New(cfg.Transport, transport.Handlers{
		OnObserved:  s.markObserved,
		OnMessage:   r.Dispatch,
		OnError:     s.handleTransportError,
		OnReconnect: s.handleReconnect,
		OnExhausted: s.handleExhausted,
	}, logger)

	return s
}

// Start opens the stream connection. The context is retained for the
// subscribe calls the service issues on reconnects.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.conn.Connect(ctx); err != nil {
		return err
	}

	s.logger.Info("feed started", "batch_interval", s.cfg.BatchInterval)
	return nil
}

// Stop disconnects and cancels any pending batcher flush.
func (s *Service) Stop() error {
	err := s.conn.Disconnect()
	s.optionBatch.Clear()
	s.spotBatch.Clear()
	s.logger.Info("feed stopped")
	return err
}

// SetCredential switches the active credential for the stream.
func (s *Service) SetCredential(ctx context.Context, credentialID string) error {
	return s.subs.SetCredential(ctx, credentialID)
}

// OptionPrices returns the option price cache.
func (s *Service) OptionPrices() *pricecache.Cache { return s.optionCache }

// SpotPrices returns the spot price cache.
func (s *Service) SpotPrices() *pricecache.Cache { return s.spotCache }

// ReconnectSignals exposes the transport's process-wide reconnected
// broadcast so consumers beyond the subscription manager can re-arm
// without coupling to transport internals.
func (s *Service) ReconnectSignals() <-chan struct{} {
	return s.conn.SubscribeReconnect()
}

// State returns the transport connection state.
func (s *Service) State() transport.ConnectionState {
	return s.conn.State()
}

// Stats returns a snapshot across all stream components.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	status := s.providerStatus
	clientID := s.clientID
	frames := s.frames
	lastFrameAt := s.lastFrameAt
	s.mu.Unlock()

	return Stats{
		State:          s.conn.State().String(),
		ProviderStatus: status,
		ClientID:       clientID,
		Frames:         frames,
		LastFrameAt:    lastFrameAt,
		Router:         s.frameRouter.Stats(),
		OptionBatcher:  s.optionBatch.Stats(),
		SpotBatcher:    s.spotBatch.Stats(),
		OptionCache:    s.optionCache.Stats(),
		SpotCache:      s.spotCache.Stats(),
		Subscribed:     s.subs.Subscribed(),
	}
}

// markObserved is the pre-parse liveness hook for every inbound frame.
func (s *Service) markObserved() {
	s.mu.Lock()
	s.frames++
	s.lastFrameAt = time.Now()
	s.mu.Unlock()
}

func (s *Service) handleOptionPrice(frame json.RawMessage) {
	var f router.OptionPriceFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		s.logger.Warn("bad option price frame", "error", err)
		return
	}
	if f.Update.Symbol == "" {
		return
	}
	s.optionBatch.Add(f.Update.Symbol, f.Update.ToModel())
}

func (s *Service) handleOptionPriceBatch(frame json.RawMessage) {
	var f router.OptionPriceBatchFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		s.logger.Warn("bad option price batch frame", "error", err)
		return
	}
	for _, u := range f.Updates {
		if u.Symbol == "" {
			continue
		}
		s.optionBatch.Add(u.Symbol, u.ToModel())
	}
}

func (s *Service) handleSpotPrice(frame json.RawMessage) {
	var f router.SpotPriceFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		s.logger.Warn("bad spot price frame", "error", err)
		return
	}
	if f.Update.Symbol == "" {
		return
	}
	s.spotBatch.Add(f.Update.Symbol, f.Update.ToModel())
}

func (s *Service) handlePositionUpdate(frame json.RawMessage) {
	var f router.PositionFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		s.logger.Warn("bad position frame", "error", err)
		return
	}
	if f.Position.Symbol == "" {
		return
	}
	p := f.Position.ToModel()
	go s.subs.UpdatePosition(s.runCtx(), p)
}

func (s *Service) handleProviderStatus(frame json.RawMessage) {
	var f router.ProviderStatusFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		s.logger.Warn("bad provider status frame", "error", err)
		return
	}

	status := model.ProviderStatus(f.Status)
	s.mu.Lock()
	prev := s.providerStatus
	s.providerStatus = status
	s.mu.Unlock()

	if prev != status {
		s.logger.Info("provider status changed",
			"from", string(prev),
			"to", string(status),
			"details", f.Details,
		)
	}
}

func (s *Service) handleErrorFrame(frame json.RawMessage) {
	var f router.ErrorFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		s.logger.Warn("bad error frame", "error", err)
		return
	}
	s.logger.Warn("stream error frame",
		"code", f.Code,
		"message", f.Message,
	)
}

func (s *Service) handleConnectionEstablished(frame json.RawMessage) {
	var f router.ConnectionEstablishedFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		s.logger.Warn("bad connection_established frame", "error", err)
		return
	}
	s.mu.Lock()
	s.clientID = f.ClientID
	s.mu.Unlock()
	s.logger.Info("stream session established", "client_id", f.ClientID)
}

func (s *Service) handleTransportError(err error) {
	s.logger.Warn("transport error", "error", err)
}

// handleReconnect runs off the read goroutine: the re-arm issues HTTP
// calls and must not stall frame delivery.
func (s *Service) handleReconnect() {
	go s.subs.OnReconnect(s.runCtx())
}

func (s *Service) handleExhausted(err error) {
	s.logger.Error("stream is down permanently", "error", err)
}

func (s *Service) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
