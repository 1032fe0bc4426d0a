package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/gearledger/gearledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	ApplyQuantityDelta(ctx context.Context, itemID, availDelta, allocDelta, version int64) error
	InsertItem(ctx context.Context, it Item) (int64, error)
	FindItemBySKU(ctx context.Context, sku string) (Item, error)
	ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error)
	InsertCategory(ctx context.Context, c Category) (int64, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts engine-level events.
type MetricsPort interface {
	RecordVersionConflict(entity string)
}

// Service owns the Item pooled-quantity fields. Every mutation of
// quantity_available/quantity_allocated goes through ApplyDelta so the
// version-guarded update discipline cannot be bypassed.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// QuantityDelta describes one logical pool mutation.
type QuantityDelta struct {
	ItemID         int64
	AvailableDelta int64
	AllocatedDelta int64
}

// Intake registers new stock: a fresh SKU row, or extra units on an
// existing one.
func (s *Service) Intake(ctx context.Context, input IntakeInput) (Item, []Event, error) {
	if input.Quantity <= 0 {
		return Item{}, nil, fmt.Errorf("%w: intake quantity must be positive", shared.ErrInvalidQuantity)
	}
	if _, err := s.repo.GetCategory(ctx, input.CategoryID); err != nil {
		return Item{}, nil, err
	}

	existing, err := s.repo.FindItemBySKU(ctx, input.SKU)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Item{}, nil, err
	}
	if errors.Is(err, shared.ErrNotFound) {
		it := Item{
			SKU:               input.SKU,
			Name:              input.Name,
			CategoryID:        input.CategoryID,
			QuantityAvailable: input.Quantity,
			ReorderLevel:      input.ReorderLevel,
		}
		id, err := s.repo.InsertItem(ctx, it)
		if err != nil {
			return Item{}, nil, err
		}
		created, err := s.repo.GetItem(ctx, id)
		if err != nil {
			return Item{}, nil, err
		}
		s.recordAudit(ctx, input.ActorID, "catalog:intake", created.ID, input.Quantity)
		events := []Event{StockReceivedEvent{ItemID: created.ID, SKU: created.SKU, Quantity: input.Quantity, At: time.Now().UTC()}}
		return created, events, nil
	}

	updated, events, err := s.ApplyDelta(ctx, QuantityDelta{ItemID: existing.ID, AvailableDelta: input.Quantity})
	if err != nil {
		return Item{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, "catalog:intake", updated.ID, input.Quantity)
	events = append(events, StockReceivedEvent{ItemID: updated.ID, SKU: updated.SKU, Quantity: input.Quantity, At: time.Now().UTC()})
	return updated, events, nil
}

// ApplyDelta mutates an item's pooled quantities under the optimistic
// concurrency contract: read, validate against fresh state, conditionally
// update, retry on conflict with backoff, surface exhaustion.
func (s *Service) ApplyDelta(ctx context.Context, delta QuantityDelta) (Item, []Event, error) {
	var result Item
	err := shared.RetryOptimistic(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetItem(ctx, delta.ItemID)
		if err != nil {
			return err
		}
		newAvail := item.QuantityAvailable + delta.AvailableDelta
		newAlloc := item.QuantityAllocated + delta.AllocatedDelta
		if newAvail < 0 {
			return shared.QuantityError(shared.ErrInsufficientStock, -delta.AvailableDelta, item.QuantityAvailable)
		}
		if newAlloc < 0 {
			return fmt.Errorf("%w: allocated would drop below zero on item %d", shared.ErrInvalidQuantity, item.ID)
		}
		if err := s.repo.ApplyQuantityDelta(ctx, item.ID, delta.AvailableDelta, delta.AllocatedDelta, item.Version); err != nil {
			if errors.Is(err, shared.ErrVersionConflict) && s.metrics != nil {
				s.metrics.RecordVersionConflict("item")
			}
			return err
		}
		item.QuantityAvailable = newAvail
		item.QuantityAllocated = newAlloc
		item.Version++
		result = item
		return nil
	})
	if err != nil {
		return Item{}, nil, err
	}

	var events []Event
	if delta.AvailableDelta < 0 && result.QuantityAvailable <= result.ReorderLevel {
		events = append(events, ReorderAlertEvent{
			ItemID:       result.ID,
			SKU:          result.SKU,
			Available:    result.QuantityAvailable,
			ReorderLevel: result.ReorderLevel,
			At:           time.Now().UTC(),
		})
	}
	return result, events, nil
}

// ApplyDeltas applies each delta independently: one item exhausting its
// retries does not block the others. The combined error reports every
// failed item.
func (s *Service) ApplyDeltas(ctx context.Context, deltas []QuantityDelta) ([]Item, []Event, error) {
	var (
		items  []Item
		events []Event
		errs   error
	)
	for _, d := range deltas {
		item, evts, err := s.ApplyDelta(ctx, d)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("item %d: %w", d.ItemID, err))
			continue
		}
		items = append(items, item)
		events = append(events, evts...)
	}
	return items, events, errs
}

// GetItem returns one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems returns a filtered item listing with pagination metadata.
func (s *Service) ListItems(ctx context.Context, filter ListFilter) ([]Item, shared.Pagination, error) {
	items, total, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// CreateCategory registers a category.
func (s *Service) CreateCategory(ctx context.Context, input CreateCategoryInput) (Category, error) {
	id, err := s.repo.InsertCategory(ctx, Category{Code: input.Code, Name: input.Name, LifespanMonths: input.LifespanMonths})
	if err != nil {
		return Category{}, err
	}
	return s.repo.GetCategory(ctx, id)
}

// GetCategory returns one category.
func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	return s.repo.GetCategory(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, itemID, qty int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "item",
		EntityID: fmt.Sprintf("%d", itemID),
		Meta:     map[string]any{"qty": qty},
	})
}
