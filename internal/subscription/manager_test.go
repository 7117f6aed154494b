package subscription

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/kmorrill/quotefeed/internal/model"
	"github.com/kmorrill/quotefeed/internal/pricecache"
)

// fakeAPI records calls and returns canned positions per credential.
type fakeAPI struct {
	mu             sync.Mutex
	positions      map[string][]model.Position
	listErr        error
	subscribeErr   error
	listCalls      []string
	subscribeCalls [][]string
}

func (f *fakeAPI) ListPositions(_ context.Context, credentialID string) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, credentialID)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.positions[credentialID], nil
}

func (f *fakeAPI) SubscribePrices(_ context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls = append(f.subscribeCalls, append([]string(nil), symbols...))
	return f.subscribeErr
}

func (f *fakeAPI) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribeCalls)
}

func position(symbol string) model.Position {
	return model.Position{
		Symbol:     symbol,
		Underlying: model.UnderlyingFromOCC(symbol),
		Quantity:   1,
		Side:       "long",
	}
}

func newTestManager(api *fakeAPI) (*Manager, *pricecache.Cache, *pricecache.Cache) {
	optionCache := pricecache.New("options", nil)
	spotCache := pricecache.New("spot", nil)
	return NewManager(api, optionCache, spotCache, nil), optionCache, spotCache
}

func TestManager_FetchAndSubscribeDerivesSets(t *testing.T) {
	api := &fakeAPI{positions: map[string][]model.Position{
		"cred-a": {
			position("SPY260117C00695000"),
			position("SPY260117P00650000"),
			position("AAPL250620C00200000"),
			position("SPY260117C00695000"), // duplicate position, same symbol
		},
	}}
	m, _, _ := newTestManager(api)

	if err := m.FetchAndSubscribe(context.Background(), "cred-a"); err != nil {
		t.Fatalf("FetchAndSubscribe failed: %v", err)
	}

	wantSymbols := []string{
		"AAPL250620C00200000",
		"SPY260117C00695000",
		"SPY260117P00650000",
	}
	if got := m.Symbols(); !reflect.DeepEqual(got, wantSymbols) {
		t.Errorf("Symbols() = %v, want %v", got, wantSymbols)
	}

	wantUnderlyings := []string{"AAPL", "SPY"}
	if got := m.Underlyings(); !reflect.DeepEqual(got, wantUnderlyings) {
		t.Errorf("Underlyings() = %v, want %v", got, wantUnderlyings)
	}

	if !m.Subscribed() {
		t.Error("expected subscribed after successful calls")
	}
	// One call for the option set, one for the underlying set.
	if api.subscribeCount() != 2 {
		t.Errorf("subscribe calls = %d, want 2", api.subscribeCount())
	}
}

func TestManager_FetchAndSubscribeIdempotent(t *testing.T) {
	api := &fakeAPI{positions: map[string][]model.Position{
		"cred-a": {position("SPY260117C00695000")},
	}}
	m, _, _ := newTestManager(api)

	ctx := context.Background()
	if err := m.FetchAndSubscribe(ctx, "cred-a"); err != nil {
		t.Fatalf("FetchAndSubscribe failed: %v", err)
	}
	calls := api.subscribeCount()

	// Mount and reconnect firing close together must not double-subscribe.
	if err := m.FetchAndSubscribe(ctx, "cred-a"); err != nil {
		t.Fatalf("second FetchAndSubscribe failed: %v", err)
	}
	if api.subscribeCount() != calls {
		t.Errorf("subscribe calls grew from %d to %d on idempotent refetch", calls, api.subscribeCount())
	}

	m.Resubscribe(ctx)
	if api.subscribeCount() != calls {
		t.Errorf("Resubscribe while subscribed issued calls")
	}
}

func TestManager_SubscribeFailureNonFatal(t *testing.T) {
	api := &fakeAPI{
		positions:    map[string][]model.Position{"cred-a": {position("SPY260117C00695000")}},
		subscribeErr: errors.New("stream backend down"),
	}
	m, _, _ := newTestManager(api)

	// No error surfaced: prices simply will not arrive.
	if err := m.FetchAndSubscribe(context.Background(), "cred-a"); err != nil {
		t.Fatalf("FetchAndSubscribe surfaced a subscribe failure: %v", err)
	}
	if m.Subscribed() {
		t.Error("subscribed flag must stay false after a failed subscribe")
	}

	// The next reconnect retries.
	api.mu.Lock()
	api.subscribeErr = nil
	api.mu.Unlock()

	m.OnReconnect(context.Background())
	if !m.Subscribed() {
		t.Error("expected subscription established after reconnect retry")
	}
}

func TestManager_FetchFailureRetriedOnReconnect(t *testing.T) {
	api := &fakeAPI{
		positions: map[string][]model.Position{
			"cred-a": {position("SPY260117C00695000")},
		},
		listErr: errors.New("positions service unavailable"),
	}
	m, _, _ := newTestManager(api)

	ctx := context.Background()
	if err := m.SetCredential(ctx, "cred-a"); err == nil {
		t.Fatal("expected error for failed positions fetch")
	}

	// While the fetch keeps failing, a reconnect must not mark the
	// empty set as established.
	m.OnReconnect(ctx)
	if m.Subscribed() {
		t.Fatal("subscribed flag set with no positions fetched")
	}

	// The service recovers; the next reconnect refetches and subscribes.
	api.mu.Lock()
	api.listErr = nil
	api.mu.Unlock()

	m.OnReconnect(ctx)

	wantSymbols := []string{"SPY260117C00695000"}
	if got := m.Symbols(); !reflect.DeepEqual(got, wantSymbols) {
		t.Errorf("Symbols() = %v after recovery, want %v", got, wantSymbols)
	}
	if !m.Subscribed() {
		t.Error("expected subscribed after recovered refetch")
	}

	// Selecting the same credential again is now a no-op, not a wedge.
	calls := api.subscribeCount()
	if err := m.SetCredential(ctx, "cred-a"); err != nil {
		t.Fatalf("SetCredential after recovery failed: %v", err)
	}
	if got := m.Symbols(); !reflect.DeepEqual(got, wantSymbols) {
		t.Errorf("Symbols() = %v after reselect, want %v", got, wantSymbols)
	}
	if api.subscribeCount() != calls {
		t.Errorf("subscribe calls grew from %d to %d on reselect", calls, api.subscribeCount())
	}
}

func TestManager_FetchFailureSurfaced(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("positions service unavailable")}
	m, _, _ := newTestManager(api)

	if err := m.FetchAndSubscribe(context.Background(), "cred-a"); err == nil {
		t.Fatal("expected error for failed positions fetch")
	}
}

func TestManager_CredentialSwitchClearsState(t *testing.T) {
	api := &fakeAPI{positions: map[string][]model.Position{
		"cred-a": {position("SPY260117C00695000")},
		"cred-b": {position("QQQ260220C00520000")},
	}}
	m, optionCache, spotCache := newTestManager(api)

	ctx := context.Background()
	if err := m.SetCredential(ctx, "cred-a"); err != nil {
		t.Fatalf("SetCredential(a) failed: %v", err)
	}

	// Prices arrive for A.
	optionCache.ApplyBatch(map[string]model.PriceUpdate{
		"SPY260117C00695000": {Symbol: "SPY260117C00695000", MidPrice: 3.25},
	})
	spotCache.ApplyBatch(map[string]model.PriceUpdate{
		"SPY": {Symbol: "SPY", MidPrice: 688.12},
	})

	if err := m.SetCredential(ctx, "cred-b"); err != nil {
		t.Fatalf("SetCredential(b) failed: %v", err)
	}

	// B never sees A's cached prices.
	if optionCache.Len() != 0 || spotCache.Len() != 0 {
		t.Errorf("caches not cleared on credential switch: options=%d spot=%d",
			optionCache.Len(), spotCache.Len())
	}
	if got := m.Symbols(); !reflect.DeepEqual(got, []string{"QQQ260220C00520000"}) {
		t.Errorf("Symbols() = %v after switch, want cred-b's set", got)
	}
	if m.CredentialID() != "cred-b" {
		t.Errorf("CredentialID() = %q, want cred-b", m.CredentialID())
	}
}

func TestManager_NoCredentialClearsWithoutSubscribe(t *testing.T) {
	api := &fakeAPI{positions: map[string][]model.Position{
		"cred-a": {position("SPY260117C00695000")},
	}}
	m, optionCache, _ := newTestManager(api)

	ctx := context.Background()
	if err := m.SetCredential(ctx, "cred-a"); err != nil {
		t.Fatalf("SetCredential(a) failed: %v", err)
	}
	calls := api.subscribeCount()
	listCalls := len(api.listCalls)

	if err := m.SetCredential(ctx, ""); err != nil {
		t.Fatalf("SetCredential(\"\") failed: %v", err)
	}

	if optionCache.Len() != 0 {
		t.Error("option cache not cleared")
	}
	if m.Subscribed() {
		t.Error("subscribed flag not cleared")
	}
	if api.subscribeCount() != calls || len(api.listCalls) != listCalls {
		t.Error("no API calls expected when clearing the credential")
	}
	if len(m.Symbols()) != 0 {
		t.Errorf("Symbols() = %v, want empty", m.Symbols())
	}
}

func TestManager_OnReconnectResubscribesKnownSets(t *testing.T) {
	api := &fakeAPI{positions: map[string][]model.Position{
		"cred-a": {position("SPY260117C00695000")},
	}}
	m, _, _ := newTestManager(api)

	ctx := context.Background()
	if err := m.FetchAndSubscribe(ctx, "cred-a"); err != nil {
		t.Fatalf("FetchAndSubscribe failed: %v", err)
	}
	listCalls := len(api.listCalls)
	calls := api.subscribeCount()

	m.OnReconnect(ctx)

	// Reconnect re-issues the known sets without refetching positions.
	if len(api.listCalls) != listCalls {
		t.Errorf("positions refetched on reconnect: %d calls, want %d", len(api.listCalls), listCalls)
	}
	if api.subscribeCount() != calls+2 {
		t.Errorf("subscribe calls = %d, want %d", api.subscribeCount(), calls+2)
	}
	if !m.Subscribed() {
		t.Error("expected subscribed after reconnect re-arm")
	}
}

func TestManager_OnReconnectWithoutCredentialIsNoop(t *testing.T) {
	api := &fakeAPI{}
	m, _, _ := newTestManager(api)

	m.OnReconnect(context.Background())

	if api.subscribeCount() != 0 {
		t.Error("no subscribe calls expected without a credential")
	}
}

func TestManager_UpdatePositionSubscribesNewSymbols(t *testing.T) {
	api := &fakeAPI{positions: map[string][]model.Position{
		"cred-a": {position("SPY260117C00695000")},
	}}
	m, _, _ := newTestManager(api)

	ctx := context.Background()
	if err := m.FetchAndSubscribe(ctx, "cred-a"); err != nil {
		t.Fatalf("FetchAndSubscribe failed: %v", err)
	}
	calls := api.subscribeCount()

	// A position in a brand-new underlying: both the option symbol and
	// the underlying ticker are new.
	m.UpdatePosition(ctx, position("QQQ260220C00520000"))

	if api.subscribeCount() != calls+1 {
		t.Fatalf("subscribe calls = %d, want %d", api.subscribeCount(), calls+1)
	}
	api.mu.Lock()
	got := api.subscribeCalls[len(api.subscribeCalls)-1]
	api.mu.Unlock()
	want := []string{"QQQ260220C00520000", "QQQ"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("subscribed %v, want %v", got, want)
	}

	// A second update for a known symbol introduces nothing.
	m.UpdatePosition(ctx, position("SPY260117C00695000"))
	if api.subscribeCount() != calls+1 {
		t.Error("no subscribe expected for an already-known symbol")
	}
}
