package router

import "github.com/kmorrill/quotefeed/internal/model"

// Frame type tags produced by the quote stream.
const (
	TypeOptionPriceUpdate     = "option_price_update"
	TypeOptionPriceBatch      = "option_price_batch"
	TypeSpotPriceUpdate       = "spot_price_update"
	TypePositionUpdate        = "position_update"
	TypeProviderStatus        = "alpaca_status"
	TypeError                 = "error"
	TypeConnectionEstablished = "connection_established"
)

// PriceUpdateWire is the wire shape shared by option and spot price
// updates.
type PriceUpdateWire struct {
	Symbol    string   `json:"symbol"`
	BidPrice  float64  `json:"bid_price"`
	AskPrice  float64  `json:"ask_price"`
	MidPrice  float64  `json:"mid_price"`
	LastPrice *float64 `json:"last_price,omitempty"`
	Volume    int64    `json:"volume"`
	Timestamp string   `json:"timestamp"`
}

// ToModel converts a wire update to the internal representation.
func (w PriceUpdateWire) ToModel() model.PriceUpdate {
	u := model.PriceUpdate{
		Symbol:    w.Symbol,
		BidPrice:  w.BidPrice,
		AskPrice:  w.AskPrice,
		MidPrice:  w.MidPrice,
		Volume:    w.Volume,
		Timestamp: w.Timestamp,
	}
	if w.LastPrice != nil {
		u.LastPrice = *w.LastPrice
	}
	return u
}

// OptionPriceFrame is the wire format for option_price_update.
type OptionPriceFrame struct {
	Type   string          `json:"type"`
	Update PriceUpdateWire `json:"update"`
}

// OptionPriceBatchFrame is the wire format for option_price_batch.
type OptionPriceBatchFrame struct {
	Type    string            `json:"type"`
	Updates []PriceUpdateWire `json:"updates"`
	Count   int               `json:"count"`
}

// SpotPriceFrame is the wire format for spot_price_update.
type SpotPriceFrame struct {
	Type   string          `json:"type"`
	Update PriceUpdateWire `json:"update"`
}

// PositionWire is the position payload inside position_update.
type PositionWire struct {
	Symbol           string  `json:"symbol"`
	UnderlyingSymbol string  `json:"underlying_symbol"`
	Quantity         float64 `json:"quantity"`
	Side             string  `json:"side"`
}

// ToModel converts a wire position, deriving the underlying from the
// OCC symbol when the server omitted it.
func (w PositionWire) ToModel() model.Position {
	underlying := w.UnderlyingSymbol
	if underlying == "" {
		underlying = model.UnderlyingFromOCC(w.Symbol)
	}
	return model.Position{
		Symbol:     w.Symbol,
		Underlying: underlying,
		Quantity:   w.Quantity,
		Side:       w.Side,
	}
}

// PositionFrame is the wire format for position_update.
type PositionFrame struct {
	Type     string       `json:"type"`
	Position PositionWire `json:"position"`
}

// ProviderStatusFrame is the wire format for alpaca_status.
type ProviderStatusFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Details string `json:"details"`
}

// ConnectionEstablishedFrame is the wire format for connection_established.
type ConnectionEstablishedFrame struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

// ErrorFrame is the wire format for error frames; the payload is
// provider-defined and logged as-is.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}
