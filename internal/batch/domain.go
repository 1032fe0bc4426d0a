package batch

import (
	"time"

	"github.com/gearledger/gearledger/internal/issuance"
)

// Status is the batch lifecycle. A batch with partial failures still
// finishes completed; failed means every line failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the batch can still be processed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Batch is one named set of issuance requests processed together.
type Batch struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Level        issuance.Level `json:"level"`
	IssuerID     int64          `json:"issuer_id"`
	Status       Status         `json:"status"`
	ErrorSummary string         `json:"error_summary,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Line is one issuance request inside a batch. RecordID and Error are set
// once the line has been attempted.
type Line struct {
	ID          int64     `json:"id"`
	BatchID     int64     `json:"batch_id"`
	RecipientID int64     `json:"recipient_id"`
	ItemID      int64     `json:"item_id"`
	Quantity    int64     `json:"quantity"`
	DueDate     time.Time `json:"due_date"`
	RecordID    int64     `json:"record_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Processed   bool      `json:"processed"`
}

// Progress is the pollable snapshot of a running batch.
type Progress struct {
	BatchID      int64     `json:"batch_id"`
	Total        int       `json:"total_items"`
	Processed    int       `json:"processed_items"`
	Successful   int       `json:"successful_items"`
	Failed       int       `json:"failed_items"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateInput describes a batch submission.
type CreateInput struct {
	Name     string         `json:"name" validate:"required,max=120"`
	Level    issuance.Level `json:"level" validate:"required,oneof=admin_to_manager manager_to_employee"`
	IssuerID int64          `json:"-"`
	Lines    []LineInput    `json:"items" validate:"required,min=1,dive"`
	// IdempotencyKey makes retried submissions safe; empty disables the check.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// LineInput is one requested issuance within a submission.
type LineInput struct {
	RecipientID int64     `json:"recipient_id" validate:"required,gt=0"`
	ItemID      int64     `json:"item_id" validate:"required,gt=0"`
	Quantity    int64     `json:"quantity" validate:"required,gt=0"`
	DueDate     time.Time `json:"due_date" validate:"required"`
}
