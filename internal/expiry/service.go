package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/gearledger/gearledger/internal/catalog"
	"github.com/gearledger/gearledger/internal/issuance"
	"github.com/gearledger/gearledger/internal/shared"
)

// DefaultWarningWindow flags records expiring within 30 days.
const DefaultWarningWindow = 30 * 24 * time.Hour

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Insert(ctx context.Context, rec TrackingRecord) (int64, error)
	Get(ctx context.Context, id int64) (TrackingRecord, error)
	ListByItem(ctx context.Context, itemID int64) ([]TrackingRecord, error)
	ListOpen(ctx context.Context, horizon time.Time) ([]TrackingRecord, error)
	CountOpenByItem(ctx context.Context, itemID int64) (int64, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	MarkReplaced(ctx context.Context, id, replacedByID int64) error
	MarkDisposed(ctx context.Context, id int64, method, certificate string) error
}

// CatalogPort reads item/category data and applies pool mutations through
// the concurrency controller.
type CatalogPort interface {
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
	GetCategory(ctx context.Context, id int64) (catalog.Category, error)
	ApplyDelta(ctx context.Context, delta catalog.QuantityDelta) (catalog.Item, []catalog.Event, error)
}

// IssuancePort closes open incidents when a unit is replaced or disposed.
type IssuancePort interface {
	ResolveIncidentForSerial(ctx context.Context, itemID int64, serial string, outcome issuance.Status) (bool, error)
}

// Service tracks per-unit expiry.
type Service struct {
	repo      RepositoryPort
	catalog   CatalogPort
	issuances IssuancePort
	window    time.Duration
	now       func() time.Time
}

// NewService builds Service. A non-positive window falls back to the
// default 30 days.
func NewService(repo RepositoryPort, cat CatalogPort, issuances IssuancePort, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWarningWindow
	}
	return &Service{
		repo:      repo,
		catalog:   cat,
		issuances: issuances,
		window:    window,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers one tracking record with an explicit expiry date.
func (s *Service) Create(ctx context.Context, input CreateInput) (TrackingRecord, error) {
	if !input.ExpiryDate.After(input.ManufacturingDate) {
		return TrackingRecord{}, fmt.Errorf("%w: expiry date must be after manufacturing date", shared.ErrInvalidState)
	}
	if _, err := s.catalog.GetItem(ctx, input.ItemID); err != nil {
		return TrackingRecord{}, err
	}
	rec := TrackingRecord{
		ItemID:            input.ItemID,
		SerialNumber:      input.SerialNumber,
		BatchNumber:       input.BatchNumber,
		ManufacturingDate: input.ManufacturingDate,
		ExpiryDate:        input.ExpiryDate,
		Status:            DeriveStatus(input.ExpiryDate, s.now(), s.window),
	}
	id, err := s.repo.Insert(ctx, rec)
	if err != nil {
		return TrackingRecord{}, err
	}
	return s.repo.Get(ctx, id)
}

// AutoCreateTracking derives tracking records for the item's untracked
// units, using the category lifespan on top of the manufacturing date.
// Returns the records created; zero missing units is not an error.
func (s *Service) AutoCreateTracking(ctx context.Context, itemID int64, manufacturingDate time.Time, batchNumber string) ([]TrackingRecord, error) {
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	category, err := s.catalog.GetCategory(ctx, item.CategoryID)
	if err != nil {
		return nil, err
	}
	if category.LifespanMonths <= 0 {
		return nil, fmt.Errorf("%w: category %q has no lifespan to derive expiry from", shared.ErrInvalidState, category.Code)
	}

	tracked, err := s.repo.CountOpenByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	missing := item.QuantityAvailable + item.QuantityAllocated - tracked
	if missing <= 0 {
		return nil, nil
	}

	expiryDate := manufacturingDate.AddDate(0, category.LifespanMonths, 0)
	status := DeriveStatus(expiryDate, s.now(), s.window)
	created := make([]TrackingRecord, 0, missing)
	for i := int64(0); i < missing; i++ {
		id, err := s.repo.Insert(ctx, TrackingRecord{
			ItemID:            itemID,
			BatchNumber:       batchNumber,
			ManufacturingDate: manufacturingDate,
			ExpiryDate:        expiryDate,
			Status:            status,
		})
		if err != nil {
			return created, err
		}
		rec, err := s.repo.Get(ctx, id)
		if err != nil {
			return created, err
		}
		created = append(created, rec)
	}
	return created, nil
}

// Get returns one tracking record.
func (s *Service) Get(ctx context.Context, id int64) (TrackingRecord, error) {
	return s.repo.Get(ctx, id)
}

// ListByItem returns the item's tracking records.
func (s *Service) ListByItem(ctx context.Context, itemID int64) ([]TrackingRecord, error) {
	return s.repo.ListByItem(ctx, itemID)
}

// MarkExpired forces a record to expired regardless of its date, for units
// condemned by inspection.
func (s *Service) MarkExpired(ctx context.Context, id int64) (TrackingRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return TrackingRecord{}, err
	}
	if rec.Status.IsTerminal() {
		return TrackingRecord{}, shared.StateError(string(rec.Status), "mark expired")
	}
	if err := s.repo.SetStatus(ctx, id, StatusExpired); err != nil {
		return TrackingRecord{}, err
	}
	return s.repo.Get(ctx, id)
}

// Replace terminates the old unit as replaced, spawns a fresh tracking
// record for the new unit and closes any open incident on the old unit so
// it cannot be reissued.
func (s *Service) Replace(ctx context.Context, oldID int64, newUnit CreateInput) (TrackingRecord, TrackingRecord, []Event, error) {
	old, err := s.repo.Get(ctx, oldID)
	if err != nil {
		return TrackingRecord{}, TrackingRecord{}, nil, err
	}
	if old.Status.IsTerminal() {
		return TrackingRecord{}, TrackingRecord{}, nil, shared.StateError(string(old.Status), "replace")
	}
	if newUnit.ItemID == 0 {
		newUnit.ItemID = old.ItemID
	}

	fresh, err := s.Create(ctx, newUnit)
	if err != nil {
		return TrackingRecord{}, TrackingRecord{}, nil, err
	}
	if err := s.repo.MarkReplaced(ctx, oldID, fresh.ID); err != nil {
		return TrackingRecord{}, TrackingRecord{}, nil, err
	}
	if s.issuances != nil {
		if _, err := s.issuances.ResolveIncidentForSerial(ctx, old.ItemID, old.SerialNumber, issuance.StatusReplaced); err != nil {
			return TrackingRecord{}, TrackingRecord{}, nil, fmt.Errorf("resolve incident for tracking record %d: %w", oldID, err)
		}
	}

	old, err = s.repo.Get(ctx, oldID)
	if err != nil {
		return TrackingRecord{}, TrackingRecord{}, nil, err
	}
	events := []Event{ReplacedEvent{RecordID: old.ID, NewRecordID: fresh.ID, ItemID: old.ItemID, At: s.now()}}
	return old, fresh, events, nil
}

// Dispose terminates the unit with no replacement and removes it from the
// warehouse pool.
func (s *Service) Dispose(ctx context.Context, id int64, input DisposeInput) (TrackingRecord, []Event, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return TrackingRecord{}, nil, err
	}
	if rec.Status.IsTerminal() {
		return TrackingRecord{}, nil, shared.StateError(string(rec.Status), "dispose")
	}
	if err := s.repo.MarkDisposed(ctx, id, input.Method, input.Certificate); err != nil {
		return TrackingRecord{}, nil, err
	}
	if s.issuances != nil {
		if _, err := s.issuances.ResolveIncidentForSerial(ctx, rec.ItemID, rec.SerialNumber, issuance.StatusDisposed); err != nil {
			return TrackingRecord{}, nil, fmt.Errorf("resolve incident for tracking record %d: %w", id, err)
		}
	}
	if _, _, err := s.catalog.ApplyDelta(ctx, catalog.QuantityDelta{ItemID: rec.ItemID, AvailableDelta: -1}); err != nil {
		return TrackingRecord{}, nil, fmt.Errorf("remove disposed unit from pool: %w", err)
	}

	rec, err = s.repo.Get(ctx, id)
	if err != nil {
		return TrackingRecord{}, nil, err
	}
	events := []Event{DisposedEvent{RecordID: rec.ID, ItemID: rec.ItemID, Method: input.Method, At: s.now()}}
	return rec, events, nil
}

// CheckNotifications rescans open records against "now", persists derived
// status changes and returns one event per record that entered
// expiring_soon or expired. The worker cron turns these into notify tasks.
func (s *Service) CheckNotifications(ctx context.Context, window time.Duration) ([]Event, error) {
	if window <= 0 {
		window = s.window
	}
	now := s.now()
	open, err := s.repo.ListOpen(ctx, now.Add(window))
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, rec := range open {
		derived := DeriveStatus(rec.ExpiryDate, now, window)
		if derived == rec.Status {
			continue
		}
		if err := s.repo.SetStatus(ctx, rec.ID, derived); err != nil {
			return events, err
		}
		switch derived {
		case StatusExpiringSoon:
			events = append(events, ExpiringSoonEvent{
				RecordID: rec.ID, ItemID: rec.ItemID, Serial: rec.SerialNumber,
				ExpiryDate: rec.ExpiryDate, At: now,
			})
		case StatusExpired:
			events = append(events, ExpiredEvent{
				RecordID: rec.ID, ItemID: rec.ItemID, Serial: rec.SerialNumber,
				ExpiryDate: rec.ExpiryDate, At: now,
			})
		}
	}
	return events, nil
}
