// Package subscription binds the quote stream to the active trading
// credential. It derives the option-symbol and underlying-ticker sets
// from the credential's positions, registers them server-side, and
// re-arms after reconnects and credential switches.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kmorrill/quotefeed/internal/model"
	"github.com/kmorrill/quotefeed/internal/pricecache"
)

// PositionsAPI is the REST collaborator used to list positions and
// register price subscriptions.
type PositionsAPI interface {
	ListPositions(ctx context.Context, credentialID string) ([]model.Position, error)
	SubscribePrices(ctx context.Context, symbols []string) error
}

// Manager owns the subscription set: which symbols and underlyings are
// believed subscribed server-side, and under which credential. The set
// never outlives its credential; switching always clears before any
// subscribe for the new one.
type Manager struct {
	api         PositionsAPI
	optionCache *pricecache.Cache
	spotCache   *pricecache.Cache
	logger      *slog.Logger

	mu           sync.Mutex
	credentialID string
	positions    map[string]model.Position
	symbols      []string
	underlyings  []string
	fetched      bool // positions loaded for the current credential
	subscribed   bool
}

// NewManager creates a Manager around the REST collaborator and the two
// price caches it invalidates.
func NewManager(api PositionsAPI, optionCache, spotCache *pricecache.Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:         api,
		optionCache: optionCache,
		spotCache:   spotCache,
		logger:      logger,
		positions:   make(map[string]model.Position),
	}
}

// FetchAndSubscribe loads positions for a credential, derives the
// symbol sets, and registers subscriptions. A no-op when already
// subscribed under the same credential, so mount and reconnect firing
// close together cannot double-subscribe. Only a failed positions fetch
// is returned as an error; a failed subscribe call is logged and left
// for the next reconnect or credential cycle.
func (m *Manager) FetchAndSubscribe(ctx context.Context, credentialID string) error {
	m.mu.Lock()
	if m.subscribed && m.credentialID == credentialID {
		m.mu.Unlock()
		return nil
	}
	if m.credentialID != credentialID {
		m.fetched = false
	}
	m.credentialID = credentialID
	m.mu.Unlock()

	positions, err := m.api.ListPositions(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	m.mu.Lock()
	if m.credentialID != credentialID {
		// The credential switched while the fetch was in flight;
		// this result belongs to a dead subscription set.
		m.mu.Unlock()
		return nil
	}
	m.positions = make(map[string]model.Position, len(positions))
	for _, p := range positions {
		m.positions[p.Symbol] = p
	}
	m.symbols, m.underlyings = deriveSets(m.positions)
	m.fetched = true
	symbols, underlyings := m.symbols, m.underlyings
	m.mu.Unlock()

	m.logger.Info("positions loaded",
		"credential", credentialID,
		"positions", len(positions),
		"symbols", len(symbols),
		"underlyings", len(underlyings),
	)

	m.subscribeSets(ctx, credentialID, symbols, underlyings)
	return nil
}

// Resubscribe re-issues subscriptions for the currently known sets,
// assuming provider-side state was lost. Guarded by the subscribed
// flag like FetchAndSubscribe. When the positions fetch itself never
// succeeded for this credential there are no known sets to re-issue,
// so this cycle retries the fetch instead.
func (m *Manager) Resubscribe(ctx context.Context) {
	m.mu.Lock()
	if m.subscribed || m.credentialID == "" {
		m.mu.Unlock()
		return
	}
	credentialID := m.credentialID
	fetched := m.fetched
	symbols, underlyings := m.symbols, m.underlyings
	m.mu.Unlock()

	if !fetched {
		if err := m.FetchAndSubscribe(ctx, credentialID); err != nil {
			m.logger.Warn("positions refetch failed",
				"credential", credentialID,
				"error", err,
			)
		}
		return
	}

	m.subscribeSets(ctx, credentialID, symbols, underlyings)
}

// OnReconnect reacts to a transport-level reconnect: the provider-side
// subscription state is gone, so drop the subscribed flag and re-issue.
func (m *Manager) OnReconnect(ctx context.Context) {
	m.mu.Lock()
	m.subscribed = false
	m.mu.Unlock()

	m.logger.Info("transport reconnected, re-arming subscriptions")
	m.Resubscribe(ctx)
}

// SetCredential switches the active credential. Both caches and the
// subscribed flag are cleared before any subscribe call for the new
// credential is issued. An empty id means "no credential selected":
// state is cleared and no subscribe is attempted.
func (m *Manager) SetCredential(ctx context.Context, credentialID string) error {
	m.mu.Lock()
	if m.credentialID == credentialID && (m.subscribed || credentialID == "") {
		m.mu.Unlock()
		return nil
	}
	m.credentialID = ""
	m.subscribed = false
	m.fetched = false
	m.positions = make(map[string]model.Position)
	m.symbols = nil
	m.underlyings = nil
	m.mu.Unlock()

	m.optionCache.Clear()
	m.spotCache.Clear()

	if credentialID == "" {
		m.logger.Info("credential cleared")
		return nil
	}

	m.logger.Info("credential changed", "credential", credentialID)
	return m.FetchAndSubscribe(ctx, credentialID)
}

// UpdatePosition merges a streamed position update into the known set
// and subscribes to any symbols it introduces, so a newly opened
// position starts receiving quotes without a full refetch.
func (m *Manager) UpdatePosition(ctx context.Context, p model.Position) {
	m.mu.Lock()
	if m.credentialID == "" {
		m.mu.Unlock()
		return
	}
	m.positions[p.Symbol] = p

	before := make(map[string]struct{}, len(m.symbols)+len(m.underlyings))
	for _, s := range m.symbols {
		before[s] = struct{}{}
	}
	for _, s := range m.underlyings {
		before[s] = struct{}{}
	}

	m.symbols, m.underlyings = deriveSets(m.positions)

	var added []string
	for _, s := range m.symbols {
		if _, ok := before[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range m.underlyings {
		if _, ok := before[s]; !ok {
			added = append(added, s)
		}
	}
	m.mu.Unlock()

	if len(added) == 0 {
		return
	}
	if err := m.api.SubscribePrices(ctx, added); err != nil {
		m.logger.Warn("subscribe failed for new position symbols",
			"symbols", added,
			"error", err,
		)
	}
}

// Subscribed reports whether the current sets are believed registered
// server-side.
func (m *Manager) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed
}

// CredentialID returns the active credential, or "" for none.
func (m *Manager) CredentialID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentialID
}

// Symbols returns the current option-symbol set.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.symbols...)
}

// Underlyings returns the current underlying-ticker set.
func (m *Manager) Underlyings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.underlyings...)
}

// subscribeSets issues the subscribe calls for both sets and marks the
// subscription established only if every call resolved. Failures are
// non-fatal: trading is not blocked by missing quotes, so the next
// reconnect or credential cycle retries.
func (m *Manager) subscribeSets(ctx context.Context, credentialID string, symbols, underlyings []string) {
	if err := m.api.SubscribePrices(ctx, symbols); err != nil {
		m.logger.Warn("option price subscription failed",
			"credential", credentialID,
			"symbols", len(symbols),
			"error", err,
		)
		return
	}
	if err := m.api.SubscribePrices(ctx, underlyings); err != nil {
		m.logger.Warn("spot price subscription failed",
			"credential", credentialID,
			"underlyings", len(underlyings),
			"error", err,
		)
		return
	}

	m.mu.Lock()
	// Only a credential whose positions actually loaded can be marked
	// subscribed; an empty set from a failed fetch must keep retrying.
	if m.credentialID == credentialID && m.fetched {
		m.subscribed = true
	}
	m.mu.Unlock()

	m.logger.Info("subscriptions established",
		"credential", credentialID,
		"symbols", len(symbols),
		"underlyings", len(underlyings),
	)
}

// deriveSets computes the unique, sorted option-symbol and
// underlying-ticker sets from a position map.
func deriveSets(positions map[string]model.Position) (symbols, underlyings []string) {
	symSet := make(map[string]struct{}, len(positions))
	undSet := make(map[string]struct{}, len(positions))

	for _, p := range positions {
		if p.Symbol != "" {
			symSet[p.Symbol] = struct{}{}
		}
		underlying := p.Underlying
		if underlying == "" {
			underlying = model.UnderlyingFromOCC(p.Symbol)
		}
		if underlying != "" {
			undSet[underlying] = struct{}{}
		}
	}

	symbols = make([]string, 0, len(symSet))
	for s := range symSet {
		symbols = append(symbols, s)
	}
	underlyings = make([]string, 0, len(undSet))
	for s := range undSet {
		underlyings = append(underlyings, s)
	}
	sort.Strings(symbols)
	sort.Strings(underlyings)
	return symbols, underlyings
}
