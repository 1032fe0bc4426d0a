package expiry

import "time"

// Status is the lifecycle of one tracking record. active/expiring_soon/
// expired are derived from ExpiryDate; replaced and disposed are terminal
// and set explicitly.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
	StatusReplaced     Status = "replaced"
	StatusDisposed     Status = "disposed"
)

// IsTerminal reports whether the record left the tracking pool.
func (s Status) IsTerminal() bool {
	return s == StatusReplaced || s == StatusDisposed
}

// DeriveStatus computes the time-based status for an expiry date. Terminal
// statuses are never derived.
func DeriveStatus(expiryDate, now time.Time, window time.Duration) Status {
	switch {
	case !expiryDate.After(now):
		return StatusExpired
	case expiryDate.Sub(now) <= window:
		return StatusExpiringSoon
	default:
		return StatusActive
	}
}

// TrackingRecord follows one unit (or production batch) of an item from
// intake to replacement or disposal.
type TrackingRecord struct {
	ID                  int64     `json:"id"`
	ItemID              int64     `json:"item_id"`
	SerialNumber        string    `json:"serial_number,omitempty"`
	BatchNumber         string    `json:"batch_number,omitempty"`
	ManufacturingDate   time.Time `json:"manufacturing_date"`
	ExpiryDate          time.Time `json:"expiry_date"`
	Status              Status    `json:"status"`
	DisposalMethod      string    `json:"disposal_method,omitempty"`
	DisposalCertificate string    `json:"disposal_certificate,omitempty"`
	ReplacedByID        int64     `json:"replaced_by_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CreateInput describes an explicit tracking record.
type CreateInput struct {
	ItemID            int64     `json:"item_id" validate:"required,gt=0"`
	SerialNumber      string    `json:"serial_number,omitempty" validate:"max=64"`
	BatchNumber       string    `json:"batch_number,omitempty" validate:"max=64"`
	ManufacturingDate time.Time `json:"manufacturing_date" validate:"required"`
	ExpiryDate        time.Time `json:"expiry_date" validate:"required"`
}

// DisposeInput describes a disposal.
type DisposeInput struct {
	Method      string `json:"method" validate:"required,max=120"`
	Certificate string `json:"certificate,omitempty" validate:"max=120"`
}
