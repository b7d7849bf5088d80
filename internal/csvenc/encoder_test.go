package csvenc

import (
	"strings"
	"testing"

	"github.com/pilot-net/analytics-forwarder/internal/model"
)

func TestEncodeMixedBatch(t *testing.T) {
	// S1 from spec.md §8.
	events := []model.MergedEvent{
		{
			Type:             model.EventCustomerUpdate,
			Customer:         model.RawEvent{"id": "c1", "status": "active"},
			InventorySummary: &model.InventorySummary{TotalProducts: 2, LowStockCount: 1},
		},
		{
			Type:            model.EventInventoryUpdate,
			Product:         model.RawEvent{"product_id": "p1", "sku": "SKU-001", "qty": float64(5)},
			CustomerSummary: &model.CustomerSummary{TotalCustomers: 3},
		},
	}

	got := string(Encode(events))
	want := "type,customer_id,product_id,status,sku,qty,total_products,low_stock_count,total_customers\n" +
		"customer_update,c1,,active,,,2,1,\n" +
		"inventory_update,,p1,,SKU-001,5,,,3\n"

	if got != want {
		t.Errorf("unexpected CSV output:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestEncodeRowCountMatchesBatchSize(t *testing.T) {
	var events []model.MergedEvent
	for i := 0; i < 7; i++ {
		events = append(events, model.MergedEvent{
			Type:     model.EventCustomerUpdate,
			Customer: model.RawEvent{"id": "c"},
		})
	}

	lines := strings.Split(strings.TrimRight(string(Encode(events)), "\n"), "\n")
	if len(lines) != len(events)+1 {
		t.Fatalf("expected %d lines (header + rows), got %d", len(events)+1, len(lines))
	}
}

func TestEncodeEmptyBatchIsHeaderOnly(t *testing.T) {
	got := string(Encode(nil))
	want := "type,customer_id,product_id,status,sku,qty,total_products,low_stock_count,total_customers\n"
	if got != want {
		t.Errorf("expected header-only output, got %q", got)
	}
}

func TestEncodeMissingNestedFieldsAreEmpty(t *testing.T) {
	events := []model.MergedEvent{
		{Type: model.EventCustomerUpdate, Customer: model.RawEvent{}},
	}
	got := string(Encode(events))
	want := "type,customer_id,product_id,status,sku,qty,total_products,low_stock_count,total_customers\n" +
		"customer_update,,,,,,,,\n"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
