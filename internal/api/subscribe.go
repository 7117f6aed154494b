package api

import (
	"context"
	"fmt"
)

// subscribeRequest is the wire shape of POST /subscribe-prices.
type subscribeRequest struct {
	Symbols []string `json:"symbols"`
}

// SubscribePrices registers server-side price subscriptions for the
// given symbols. An empty set is a no-op.
func (c *Client) SubscribePrices(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	if err := c.post(ctx, "/subscribe-prices", subscribeRequest{Symbols: symbols}, nil); err != nil {
		return fmt.Errorf("subscribe prices: %w", err)
	}

	c.logger.Debug("subscribed prices", "symbols", len(symbols))
	return nil
}
