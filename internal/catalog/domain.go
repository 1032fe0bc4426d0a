package catalog

import "time"

// Category groups PPE SKUs and carries the default lifespan used by the
// expiry tracker when a unit has no explicit expiry date.
type Category struct {
	ID             int64  `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	LifespanMonths int    `json:"lifespan_months"`
}

// Item is one PPE SKU. QuantityAvailable is free stock at the warehouse
// tier; QuantityAllocated is committed to open issuances. Version is the
// monotonic stamp guarding every quantity mutation.
type Item struct {
	ID                int64     `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	CategoryID        int64     `json:"category_id"`
	QuantityAvailable int64     `json:"quantity_available"`
	QuantityAllocated int64     `json:"quantity_allocated"`
	ReorderLevel      int64     `json:"reorder_level"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IntakeInput describes a stock intake: either a brand new SKU or extra
// units for an existing one.
type IntakeInput struct {
	SKU          string `json:"sku" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=200"`
	CategoryID   int64  `json:"category_id" validate:"required,gt=0"`
	Quantity     int64  `json:"quantity" validate:"required,gt=0"`
	ReorderLevel int64  `json:"reorder_level" validate:"gte=0"`
	ActorID      int64  `json:"-"`
}

// CreateCategoryInput describes a new category.
type CreateCategoryInput struct {
	Code           string `json:"code" validate:"required,max=32"`
	Name           string `json:"name" validate:"required,max=120"`
	LifespanMonths int    `json:"lifespan_months" validate:"gte=0"`
}

// ListFilter filters item listings.
type ListFilter struct {
	Search  string
	Page    int
	PerPage int
}
