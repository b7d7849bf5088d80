// Package enrich maintains the two in-memory snapshot stores
// (customer, product) and produces merged events by co-grouping each
// incoming message with a summary of the sibling stream.
//
// Confined to the consumer loop goroutine: no lock is taken because no
// other goroutine ever touches these maps, matching the ownership
// discipline spec.md §5 requires ("touched only by the consumer
// loop — no cross-task mutation").
package enrich

import (
	"log/slog"

	"github.com/pilot-net/analytics-forwarder/internal/model"
)

// lowStockThreshold is the qty below which a product counts as low
// stock (spec.md §3).
const lowStockThreshold = 20

// Enricher owns the customer and product snapshot stores.
type Enricher struct {
	customerTopic  string
	inventoryTopic string

	customers map[string]model.RawEvent
	products  map[string]model.RawEvent
	logger    *slog.Logger
}

// New creates an Enricher with empty snapshot stores, bound to the
// given customer/inventory topic names.
func New(customerTopic, inventoryTopic string, logger *slog.Logger) *Enricher {
	return &Enricher{
		customerTopic:  customerTopic,
		inventoryTopic: inventoryTopic,
		customers:      make(map[string]model.RawEvent),
		products:       make(map[string]model.RawEvent),
		logger:         logger,
	}
}

// Enrich implements spec.md §4.2. A nil payload drops the message. The
// triggering stream's snapshot is mutated before the sibling-stream
// summary is computed, so a brand-new key contributes to summaries of
// later sibling-stream events but never to its own.
func (e *Enricher) Enrich(topic, key string, payload model.RawEvent) (*model.MergedEvent, bool) {
	if payload == nil {
		e.logger.Warn("dropping message with undecodable payload", "topic", topic, "key", key)
		return nil, false
	}

	switch topic {
	case e.customerTopic:
		e.customers[key] = payload
		return &model.MergedEvent{
			Type:             model.EventCustomerUpdate,
			Customer:         payload,
			InventorySummary: e.inventorySummary(),
		}, true
	case e.inventoryTopic:
		e.products[key] = payload
		return &model.MergedEvent{
			Type:            model.EventInventoryUpdate,
			Product:         payload,
			CustomerSummary: e.customerSummary(),
		}, true
	default:
		e.logger.Warn("dropping message on unrecognized topic", "topic", topic, "key", key)
		return nil, false
	}
}

func (e *Enricher) inventorySummary() *model.InventorySummary {
	low := 0
	for _, p := range e.products {
		if qty, isInt := p.Qty(); isInt && qty < lowStockThreshold {
			low++
		}
	}
	return &model.InventorySummary{
		TotalProducts: len(e.products),
		LowStockCount: low,
	}
}

func (e *Enricher) customerSummary() *model.CustomerSummary {
	return &model.CustomerSummary{TotalCustomers: len(e.customers)}
}
