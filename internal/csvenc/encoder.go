// Package csvenc renders a batch of merged events into the fixed CSV
// wire format consumed by the analytics sink (spec.md §4.4).
package csvenc

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/pilot-net/analytics-forwarder/internal/model"
)

var header = []string{
	"type", "customer_id", "product_id", "status", "sku", "qty",
	"total_products", "low_stock_count", "total_customers",
}

// Encode renders events as a complete CSV document: header line
// followed by one row per event, each terminated with "\n". Row count
// always equals len(events).
func Encode(events []model.MergedEvent) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = false

	_ = w.Write(header)
	for _, ev := range events {
		_ = w.Write(row(ev))
	}
	w.Flush()

	return buf.Bytes()
}

func row(ev model.MergedEvent) []string {
	r := make([]string, len(header))
	r[0] = string(ev.Type)

	switch ev.Type {
	case model.EventCustomerUpdate:
		r[1] = ev.Customer.ID("id")
		r[3] = ev.Customer.ID("status")
		if ev.InventorySummary != nil {
			r[6] = fmt.Sprintf("%d", ev.InventorySummary.TotalProducts)
			r[7] = fmt.Sprintf("%d", ev.InventorySummary.LowStockCount)
		}
	case model.EventInventoryUpdate:
		r[2] = ev.Product.ID("product_id")
		r[4] = ev.Product.ID("sku")
		if qty, ok := ev.Product.Qty(); ok {
			r[5] = fmt.Sprintf("%d", qty)
		}
		if ev.CustomerSummary != nil {
			r[8] = fmt.Sprintf("%d", ev.CustomerSummary.TotalCustomers)
		}
	}
	return r
}
