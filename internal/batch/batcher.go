// Package batch coalesces bursts of same-key updates into single
// flushes. The upstream feed can emit many quotes per second per
// symbol; consumers only want to be woken once per tick.
package batch

import (
	"sync"
	"time"
)

// DefaultTick approximates one display frame at 60 Hz.
const DefaultTick = 16 * time.Millisecond

// Scheduler arms one deferred callback and returns a cancel func for
// it. The guarantee a Scheduler must provide: the callback fires at
// most once, and never after cancel is called (it may already be
// in flight; Batcher tolerates that).
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// TickScheduler fires callbacks after a fixed interval. It is the
// headless stand-in for a display frame callback.
type TickScheduler struct {
	Interval time.Duration
}

// Schedule arms a one-shot timer.
func (s TickScheduler) Schedule(fn func()) func() {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultTick
	}
	t := time.AfterFunc(interval, fn)
	return func() { t.Stop() }
}

// Stats contains batcher counters.
type Stats struct {
	Pending   int   // Keys waiting for the next flush
	Flushes   int64 // Non-empty flushes fired
	Coalesced int64 // Adds that overwrote a pending value
}

// Batcher coalesces writes between two scheduler ticks. Within a
// window the last Add for a key wins; at the tick the whole pending
// snapshot is handed to the flush callback in one call. At most one
// flush is scheduled at any time, and flushes never overlap.
type Batcher[V any] struct {
	sched Scheduler
	flush func(map[string]V)

	mu        sync.Mutex
	pending   map[string]V
	cancel    func()
	flushes   int64
	coalesced int64
}

// New creates a Batcher that hands flushed snapshots to fn.
func New[V any](sched Scheduler, fn func(map[string]V)) *Batcher[V] {
	return &Batcher[V]{
		sched:   sched,
		flush:   fn,
		pending: make(map[string]V),
	}
}

// Add stages a value for key, replacing any pending value for the same
// key. The first Add since the last flush arms the scheduler; later
// Adds in the same window do not.
func (b *Batcher[V]) Add(key string, v V) {
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.coalesced++
	}
	b.pending[key] = v
	if b.cancel == nil {
		b.cancel = b.sched.Schedule(b.doFlush)
	}
	b.mu.Unlock()
}

// Clear cancels any scheduled flush and discards pending entries. Used
// on teardown so a stale callback cannot fire after the consumer is
// gone.
func (b *Batcher[V]) Clear() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.pending = make(map[string]V)
	b.mu.Unlock()
}

// Stats returns current counters.
func (b *Batcher[V]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Pending:   len(b.pending),
		Flushes:   b.flushes,
		Coalesced: b.coalesced,
	}
}

// doFlush runs at the scheduled tick. An empty pending map (a cancel
// won the race) skips the callback entirely.
func (b *Batcher[V]) doFlush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.cancel = nil
		b.mu.Unlock()
		return
	}
	snap := b.pending
	b.pending = make(map[string]V, len(snap))
	b.flushes++
	b.mu.Unlock()

	// Outside the lock: Adds during the callback stage for the next
	// window. They see a non-nil cancel and do not schedule; the
	// rearm below picks them up, which keeps flushes sequential.
	b.flush(snap)

	b.mu.Lock()
	b.cancel = nil
	if len(b.pending) > 0 {
		b.cancel = b.sched.Schedule(b.doFlush)
	}
	b.mu.Unlock()
}
