package expiry

import "time"

// Event is a domain event emitted by tracking transitions.
type Event interface {
	EventType() string
}

// ExpiringSoonEvent fires when a record enters the warning window.
type ExpiringSoonEvent struct {
	RecordID   int64
	ItemID     int64
	Serial     string
	ExpiryDate time.Time
	At         time.Time
}

func (ExpiringSoonEvent) EventType() string { return "expiry.expiring_soon" }

// ExpiredEvent fires when a record passes its expiry date.
type ExpiredEvent struct {
	RecordID   int64
	ItemID     int64
	Serial     string
	ExpiryDate time.Time
	At         time.Time
}

func (ExpiredEvent) EventType() string { return "expiry.expired" }

// ReplacedEvent fires when a unit is replaced; NewRecordID is the fresh
// tracking record.
type ReplacedEvent struct {
	RecordID    int64
	NewRecordID int64
	ItemID      int64
	At          time.Time
}

func (ReplacedEvent) EventType() string { return "expiry.replaced" }

// DisposedEvent fires on terminal disposal.
type DisposedEvent struct {
	RecordID int64
	ItemID   int64
	Method   string
	At       time.Time
}

func (DisposedEvent) EventType() string { return "expiry.disposed" }
