package enrich

import (
	"io"
	"log/slog"
	"testing"

	"github.com/pilot-net/analytics-forwarder/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnrichNilPayloadDrops(t *testing.T) {
	e := New("customer_data", "inventory_data", testLogger())
	got, ok := e.Enrich("customer_data", "c1", nil)
	if ok || got != nil {
		t.Fatalf("expected drop for nil payload, got ok=%v event=%v", ok, got)
	}
}

func TestEnrichCustomerEventWithEmptySnapshots(t *testing.T) {
	// S2: a customer event arriving before any inventory data yields a
	// zero-valued inventory summary.
	e := New("customer_data", "inventory_data", testLogger())
	payload := model.RawEvent{"id": "c1", "status": "active"}

	merged, ok := e.Enrich("customer_data", "c1", payload)
	if !ok {
		t.Fatal("expected merge to succeed")
	}
	if merged.Type != model.EventCustomerUpdate {
		t.Errorf("expected customer_update, got %v", merged.Type)
	}
	if merged.InventorySummary.TotalProducts != 0 || merged.InventorySummary.LowStockCount != 0 {
		t.Errorf("expected zero-valued summary, got %+v", merged.InventorySummary)
	}
}

func TestLowStockCountExcludesNonIntegerQty(t *testing.T) {
	e := New("customer_data", "inventory_data", testLogger())

	e.Enrich("inventory_data", "p1", model.RawEvent{"product_id": "p1", "qty": float64(5)})
	e.Enrich("inventory_data", "p2", model.RawEvent{"product_id": "p2", "qty": float64(25)})
	e.Enrich("inventory_data", "p3", model.RawEvent{"product_id": "p3", "qty": "unknown"})
	e.Enrich("inventory_data", "p4", model.RawEvent{"product_id": "p4", "qty": 19.5})

	merged, ok := e.Enrich("customer_data", "c1", model.RawEvent{"id": "c1"})
	if !ok {
		t.Fatal("expected merge to succeed")
	}
	if merged.InventorySummary.TotalProducts != 4 {
		t.Errorf("expected 4 products tracked, got %d", merged.InventorySummary.TotalProducts)
	}
	if merged.InventorySummary.LowStockCount != 1 {
		t.Errorf("expected exactly p1 to count as low stock, got %d", merged.InventorySummary.LowStockCount)
	}
}

func TestOwnStreamInsertPrecedesButExcludesSelfFromOwnSummary(t *testing.T) {
	// Invariant: a brand-new key contributes to its own stream's
	// future sibling summaries, but never to the summary in the
	// merged event it itself produced (since the summary comes from
	// the *other* stream's snapshot).
	e := New("customer_data", "inventory_data", testLogger())

	merged, _ := e.Enrich("customer_data", "c1", model.RawEvent{"id": "c1"})
	if merged.InventorySummary.TotalProducts != 0 {
		t.Fatalf("new customer should not see itself in inventory summary")
	}

	merged2, _ := e.Enrich("inventory_data", "p1", model.RawEvent{"product_id": "p1"})
	if merged2.CustomerSummary.TotalCustomers != 1 {
		t.Fatalf("expected the earlier customer to be reflected in customer_summary, got %d",
			merged2.CustomerSummary.TotalCustomers)
	}
}

func TestUnrecognizedTopicDrops(t *testing.T) {
	e := New("customer_data", "inventory_data", testLogger())
	_, ok := e.Enrich("other_topic", "x", model.RawEvent{"id": "x"})
	if ok {
		t.Fatal("expected drop for unrecognized topic")
	}
}
