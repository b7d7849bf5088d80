package batch

import (
	"testing"
	"time"

	"github.com/pilot-net/analytics-forwarder/internal/model"
)

func TestForcedFlushOnEmptyBufferIsNoop(t *testing.T) {
	b := New(100, time.Hour)
	got := b.Flush(true)
	if got != nil {
		t.Fatalf("expected nil for forced flush of empty buffer, got %v", got)
	}
}

func TestSizeTriggeredFlush(t *testing.T) {
	// S5: BATCH_MAX_SIZE=3, interval large.
	b := New(3, time.Hour)

	var triggered bool
	for i := 0; i < 3; i++ {
		triggered = b.Add(model.MergedEvent{Type: model.EventCustomerUpdate})
	}
	if !triggered {
		t.Fatal("expected size trigger to fire on the third add")
	}

	events := b.Flush(false)
	if len(events) != 3 {
		t.Fatalf("expected exactly 3 events in the flushed batch, got %d", len(events))
	}
	if b.Len() != 0 {
		t.Fatalf("expected buffer to be empty after flush, got %d", b.Len())
	}
}

func TestTimeTriggeredFlush(t *testing.T) {
	// Modeled on S6 (BATCH_MAX_SIZE=100), with the interval shortened
	// to 50ms to keep the test fast.
	b := New(100, 50*time.Millisecond)

	b.Add(model.MergedEvent{Type: model.EventCustomerUpdate})
	if b.ShouldFlush() {
		t.Fatal("should not trigger immediately")
	}

	time.Sleep(80 * time.Millisecond)
	if !b.ShouldFlush() {
		t.Fatal("expected time trigger to fire after the interval elapsed")
	}

	events := b.Flush(false)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
}

func TestFlushWithoutTriggerReturnsNil(t *testing.T) {
	b := New(10, time.Hour)
	b.Add(model.MergedEvent{Type: model.EventCustomerUpdate})

	if got := b.Flush(false); got != nil {
		t.Fatalf("expected nil when no trigger has fired, got %v", got)
	}
	if b.Len() != 1 {
		t.Fatalf("buffer should be untouched, got len %d", b.Len())
	}
}

func TestOnlyOneDrainAtATime(t *testing.T) {
	b := New(2, time.Hour)
	b.Add(model.MergedEvent{Type: model.EventCustomerUpdate})
	b.Add(model.MergedEvent{Type: model.EventCustomerUpdate})

	first := b.Flush(true)
	second := b.Flush(true)

	if len(first) != 2 {
		t.Fatalf("expected first drain to take both events, got %d", len(first))
	}
	if second != nil {
		t.Fatalf("expected second drain on an already-empty buffer to be a no-op, got %v", second)
	}
}
