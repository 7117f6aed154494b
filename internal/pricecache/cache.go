// Package pricecache holds the latest known price per symbol. Two
// independent instances exist in the process: option prices keyed by
// OCC symbol and spot prices keyed by underlying ticker. They never
// share keys and are never merged.
package pricecache

import (
	"log/slog"
	"sync"

	"github.com/kmorrill/quotefeed/internal/model"
)

// Stats contains cache counters.
type Stats struct {
	Size       int   // Symbols currently cached
	Applied    int64 // Writes that changed a value
	Suppressed int64 // Writes skipped because the mid price was unchanged
}

// Cache maps symbol to its latest PriceUpdate. The write path is
// ApplyBatch only, invoked from the batcher flush; readers may call Get
// and Snapshot from any goroutine.
type Cache struct {
	name   string
	logger *slog.Logger

	mu         sync.RWMutex
	prices     map[string]model.PriceUpdate
	applied    int64
	suppressed int64

	notify chan struct{}
}

// New creates an empty cache. The name only scopes log lines.
func New(name string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		name:   name,
		logger: logger.With("cache", name),
		prices: make(map[string]model.PriceUpdate),
		notify: make(chan struct{}, 1),
	}
}

// Get returns the latest update for symbol, if any.
func (c *Cache) Get(symbol string) (model.PriceUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.prices[symbol]
	return u, ok
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// Snapshot returns a copy of the whole cache.
func (c *Cache) Snapshot() map[string]model.PriceUpdate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.PriceUpdate, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

// ApplyBatch stores each update whose mid price differs from the cached
// value; unchanged mids are suppressed entirely. If at least one symbol
// changed, one notification is emitted for the batch as a whole, so a
// burst of N updates costs observers one wakeup. Returns the number of
// symbols that changed.
func (c *Cache) ApplyBatch(updates map[string]model.PriceUpdate) int {
	c.mu.Lock()
	changed := 0
	for symbol, u := range updates {
		cur, ok := c.prices[symbol]
		if ok && cur.MidPrice == u.MidPrice {
			c.suppressed++
			continue
		}
		c.prices[symbol] = u
		changed++
	}
	c.applied += int64(changed)
	c.mu.Unlock()

	if changed > 0 {
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return changed
}

// Notifications returns the change signal channel. It has capacity 1
// and coalesces: however many batches land between two reads, the
// observer wakes once and re-reads whatever it displays.
func (c *Cache) Notifications() <-chan struct{} {
	return c.notify
}

// Clear drops every cached price. Used when the active credential
// changes so a new account never sees the old account's quotes.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.prices)
	c.prices = make(map[string]model.PriceUpdate)
	c.mu.Unlock()

	if n > 0 {
		c.logger.Debug("cache cleared", "dropped", n)
	}
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:       len(c.prices),
		Applied:    c.applied,
		Suppressed: c.suppressed,
	}
}
