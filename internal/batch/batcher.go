// Package batch implements the CSV-mode batching buffer: a size- and
// time-triggered accumulator over merged events, modeled on
// agent/internal/shipper's buffer-plus-ticker shape.
//
// The state machine is empty → filling → draining → empty per flush
// cycle; Flush is the only way to leave "filling", and Add never runs
// concurrently with a drain because both hold the same mutex.
package batch

import (
	"sync"
	"time"

	"github.com/pilot-net/analytics-forwarder/internal/model"
)

// Batcher accumulates merged events and reports whether the caller
// should trigger a flush.
type Batcher struct {
	mu         sync.Mutex
	buffer     []model.MergedEvent
	lastFlush  time.Time
	maxSize    int
	interval   time.Duration
}

// New creates a Batcher with the given size and time triggers.
func New(maxSize int, interval time.Duration) *Batcher {
	return &Batcher{
		buffer:    make([]model.MergedEvent, 0, maxSize),
		lastFlush: time.Now(),
		maxSize:   maxSize,
		interval:  interval,
	}
}

// Add appends an event to the buffer and reports whether a flush
// trigger (size or time) has now been met.
func (b *Batcher) Add(event model.MergedEvent) (shouldFlush bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer = append(b.buffer, event)
	return b.triggeredLocked()
}

// ShouldFlush reports whether a flush trigger (size or time) has been
// met, independent of Add — used by the consumer loop's post-message
// re-check (spec.md §4.7 step 8) so low-volume streams still flush
// within the interval.
func (b *Batcher) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggeredLocked()
}

func (b *Batcher) triggeredLocked() bool {
	if len(b.buffer) == 0 {
		return false
	}
	if len(b.buffer) >= b.maxSize {
		return true
	}
	return time.Since(b.lastFlush) >= b.interval
}

// Flush atomically extracts the buffer and resets last_flush. An
// empty buffer always produces a nil slice, forced or not, matching
// spec.md §4.3 ("a forced flush with an empty buffer is a no-op"),
// so callers can treat a nil/empty result as "nothing to send". A
// non-empty buffer is extracted when force is set or a trigger has
// been met; otherwise Flush returns nil and leaves it untouched.
func (b *Batcher) Flush(force bool) []model.MergedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) == 0 {
		b.lastFlush = time.Now()
		return nil
	}
	if !force && !b.triggeredLocked() {
		return nil
	}

	out := b.buffer
	b.buffer = make([]model.MergedEvent, 0, b.maxSize)
	b.lastFlush = time.Now()
	return out
}

// Len returns the current buffer length, for telemetry/diagnostics.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
