package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kmorrill/quotefeed/internal/model"
)

// positionWire is the wire shape of a position in GET /positions.
type positionWire struct {
	Symbol           string  `json:"symbol"`
	UnderlyingSymbol string  `json:"underlying_symbol"`
	Quantity         float64 `json:"quantity"`
	Side             string  `json:"side"`
}

// ToModel converts a wire position, deriving the underlying from the
// OCC symbol when the server omitted it.
func (w positionWire) ToModel() model.Position {
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

// positionsResponse is the wire shape of GET /positions.
type positionsResponse struct {
	Positions []positionWire `json:"positions"`
}

// ListPositions fetches the positions held under a credential.
func (c *Client) ListPositions(ctx context.Context, credentialID string) ([]model.Position, error) {
	query := url.Values{}
	query.Set("credential_id", credentialID)

	var resp positionsResponse
	if err := c.get(ctx, "/positions", query, &resp); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	positions := make([]model.Position, 0, len(resp.Positions))
	for _, w := range resp.Positions {
		positions = append(positions, w.ToModel())
	}
	return positions, nil
}
