package issuance

import "time"

// Level identifies the custody hop an issuance record covers.
type Level string

const (
	// LevelAdminToManager allocates warehouse stock to a manager.
	LevelAdminToManager Level = "admin_to_manager"
	// LevelManagerToEmployee re-issues a manager's holding to an employee.
	LevelManagerToEmployee Level = "manager_to_employee"
)

// IsValid checks if the level is known.
func (l Level) IsValid() bool {
	return l == LevelAdminToManager || l == LevelManagerToEmployee
}

// Status represents the lifecycle of one issuance record.
type Status string

const (
	StatusPendingConfirmation  Status = "pending_confirmation"
	StatusIssued               Status = "issued"
	StatusOverdue              Status = "overdue"
	StatusDamaged              Status = "damaged"
	StatusReplacementNeeded    Status = "replacement_needed"
	StatusPendingManagerReturn Status = "pending_manager_return"
	StatusReturned             Status = "returned"
	StatusReplaced             Status = "replaced"
	StatusDisposed             Status = "disposed"
)

// IsTerminal reports whether no further transition is legal.
func (s Status) IsTerminal() bool {
	return s == StatusReturned || s == StatusReplaced || s == StatusDisposed
}

// CanConfirm checks if the recipient may acknowledge receipt.
func (s Status) CanConfirm() bool {
	return s == StatusPendingConfirmation
}

// CanReturn checks if units may be returned. Damaged equipment must be
// resolved through replace/dispose before it re-enters circulation.
func (s Status) CanReturn() bool {
	return s == StatusIssued || s == StatusOverdue
}

// CanReport checks if an incident may be filed.
func (s Status) CanReport() bool {
	return s == StatusIssued || s == StatusOverdue
}

// CanResolve checks if an incident resolution (replace/dispose) applies.
func (s Status) CanResolve() bool {
	return s == StatusDamaged || s == StatusReplacementNeeded
}

// CanConfirmDownstream checks if the manager may close an employee return.
func (s Status) CanConfirmDownstream() bool {
	return s == StatusPendingManagerReturn
}

// CanMarkOverdue checks if the scheduler may flag the record.
func (s Status) CanMarkOverdue() bool {
	return s == StatusIssued
}

// ReportType enumerates incident kinds.
type ReportType string

const (
	ReportTypeDamage ReportType = "damage"
	ReportTypeLoss   ReportType = "loss"
	ReportTypeDefect ReportType = "defect"
)

// StatusForReport maps an incident kind to the resulting record status.
// Damage keeps the unit with the holder pending repair/replacement
// assessment; loss and defects require replacement outright.
func (t ReportType) StatusForReport() (Status, bool) {
	switch t {
	case ReportTypeDamage:
		return StatusDamaged, true
	case ReportTypeLoss, ReportTypeDefect:
		return StatusReplacementNeeded, true
	default:
		return "", false
	}
}

// Record is one allocation of quantity units of one item from an issuer to
// a recipient. Quantity is immutable after creation; RemainingQuantity only
// ever decreases.
type Record struct {
	ID                 int64      `json:"id"`
	Code               string     `json:"code"`
	ItemID             int64      `json:"item_id"`
	IssuerID           int64      `json:"issuer_id"`
	RecipientID        int64      `json:"recipient_id"`
	Level              Level      `json:"level"`
	Quantity           int64      `json:"quantity"`
	RemainingQuantity  int64      `json:"remaining_quantity"`
	AssignedSerials    []string   `json:"assigned_serial_numbers,omitempty"`
	ReturnedSerials    []string   `json:"returned_serial_numbers,omitempty"`
	Status             Status     `json:"status"`
	IssuedDate         time.Time  `json:"issued_date"`
	ExpectedReturnDate time.Time  `json:"expected_return_date"`
	ActualReturnDate   *time.Time `json:"actual_return_date,omitempty"`
	ReturnCondition    string     `json:"return_condition,omitempty"`
	ReportType         ReportType `json:"report_type,omitempty"`
	ReportDescription  string     `json:"report_description,omitempty"`
	ReportSeverity     string     `json:"report_severity,omitempty"`
	ReportDate         *time.Time `json:"report_date,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IssueInput describes a request to allocate units.
type IssueInput struct {
	IssuerID    int64     `json:"issuer_id" validate:"required,gt=0"`
	RecipientID int64     `json:"recipient_id" validate:"required,gt=0"`
	ItemID      int64     `json:"item_id" validate:"required,gt=0"`
	Quantity    int64     `json:"quantity" validate:"required,gt=0"`
	Level       Level     `json:"level" validate:"required,oneof=admin_to_manager manager_to_employee"`
	IssuedDate  time.Time `json:"issued_date"`
	DueDate     time.Time `json:"expected_return_date" validate:"required"`
	Serials     []string  `json:"assigned_serial_numbers,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	// IdempotencyKey makes retried submissions safe; empty disables the check.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReturnInput describes a full or partial return of units on a record.
// Quantity zero means "everything outstanding".
type ReturnInput struct {
	RecordID  int64     `json:"-"`
	ActorID   int64     `json:"-"`
	Quantity  int64     `json:"quantity" validate:"gte=0"`
	Serials   []string  `json:"returned_serial_numbers,omitempty"`
	Condition string    `json:"condition" validate:"required,max=120"`
	Date      time.Time `json:"date"`
	Notes     string    `json:"notes,omitempty"`
}

// ReportInput describes an incident report on issued equipment.
type ReportInput struct {
	RecordID    int64      `json:"-"`
	ActorID     int64      `json:"-"`
	Type        ReportType `json:"type" validate:"required,oneof=damage loss defect"`
	Description string     `json:"description" validate:"required,max=2000"`
	Severity    string     `json:"severity" validate:"required,oneof=low medium high critical"`
	Date        time.Time  `json:"date"`
}
