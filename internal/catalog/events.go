package catalog

import "time"

// Event is a domain event emitted by catalog operations. Events are
// returned to the caller; dispatch is the transport/worker layer's job.
type Event interface {
	EventType() string
}

// StockReceivedEvent records an intake of units into the warehouse pool.
type StockReceivedEvent struct {
	ItemID   int64
	SKU      string
	Quantity int64
	At       time.Time
}

// EventType implements Event.
func (StockReceivedEvent) EventType() string { return "catalog.stock_received" }

// ReorderAlertEvent fires when free stock falls to or below the reorder level.
type ReorderAlertEvent struct {
	ItemID       int64
	SKU          string
	Available    int64
	ReorderLevel int64
	At           time.Time
}

// EventType implements Event.
func (ReorderAlertEvent) EventType() string { return "catalog.reorder_alert" }
