package model

// PriceUpdate is the latest known quote for a single instrument.
// Instances are value types and never mutated after construction; the
// price cache replaces the whole value when a newer quote arrives.
// Option instruments and underlying spot tickers use the same shape but
// live in separate cache namespaces.
type PriceUpdate struct {
	Symbol    string  // OCC option symbol or underlying ticker
	BidPrice  float64 // Best bid
	AskPrice  float64 // Best ask
	MidPrice  float64 // (bid+ask)/2, the canonical displayed price
	LastPrice float64 // Last trade price; 0 when the provider omitted it
	Volume    int64   // Session volume; 0 for spot updates
	Timestamp string  // Provider timestamp, ISO 8601
}

// Position is the subset of a brokerage position needed to derive quote
// subscriptions: the instrument itself and the underlying it is written on.
type Position struct {
	Symbol     string  // OCC option symbol (or plain equity ticker)
	Underlying string  // Underlying ticker; derived from Symbol when absent
	Quantity   float64 // Signed contract/share count
	Side       string  // "long" or "short"
}

// ProviderStatus mirrors the connectivity states the upstream market-data
// provider reports over the stream.
type ProviderStatus string

const (
	ProviderConnected        ProviderStatus = "connected"
	ProviderDisconnected     ProviderStatus = "disconnected"
	ProviderError            ProviderStatus = "error"
	ProviderStreamingStarted ProviderStatus = "streaming_started"
	ProviderStreamingStopped ProviderStatus = "streaming_stopped"
)
