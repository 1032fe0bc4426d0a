package issuance

import "time"

// Event is a domain event emitted by issuance transitions. Operations
// return events explicitly; nothing is dispatched globally.
type Event interface {
	EventType() string
}

// IssuedEvent records a new allocation awaiting confirmation.
type IssuedEvent struct {
	RecordID    int64
	ItemID      int64
	IssuerID    int64
	RecipientID int64
	Level       Level
	Quantity    int64
	At          time.Time
}

func (IssuedEvent) EventType() string { return "issuance.issued" }

// ReceiptConfirmedEvent records recipient acknowledgement.
type ReceiptConfirmedEvent struct {
	RecordID int64
	At       time.Time
}

func (ReceiptConfirmedEvent) EventType() string { return "issuance.receipt_confirmed" }

// UnitsReturnedEvent records a full or partial return.
type UnitsReturnedEvent struct {
	RecordID  int64
	ItemID    int64
	Quantity  int64
	Remaining int64
	Condition string
	At        time.Time
}

func (UnitsReturnedEvent) EventType() string { return "issuance.units_returned" }

// IncidentReportedEvent records damage/loss/defect reporting.
type IncidentReportedEvent struct {
	RecordID int64
	ItemID   int64
	Type     ReportType
	Severity string
	At       time.Time
}

func (IncidentReportedEvent) EventType() string { return "issuance.incident_reported" }

// IncidentResolvedEvent records a replace/dispose resolution.
type IncidentResolvedEvent struct {
	RecordID int64
	Outcome  Status
	At       time.Time
}

func (IncidentResolvedEvent) EventType() string { return "issuance.incident_resolved" }

// OverdueEvent records a record passing its expected return date.
type OverdueEvent struct {
	RecordID    int64
	ItemID      int64
	RecipientID int64
	Remaining   int64
	DueDate     time.Time
	At          time.Time
}

func (OverdueEvent) EventType() string { return "issuance.overdue" }
