package expiry

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gearledger/gearledger/internal/catalog"
	"github.com/gearledger/gearledger/internal/issuance"
	"github.com/gearledger/gearledger/internal/shared"
)

type memoryRepo struct {
	records map[int64]TrackingRecord
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[int64]TrackingRecord), nextID: 1}
}

func (m *memoryRepo) Insert(_ context.Context, rec TrackingRecord) (int64, error) {
	rec.ID = m.nextID
	m.nextID++
	rec.CreatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	return rec.ID, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (TrackingRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return TrackingRecord{}, fmt.Errorf("tracking record %d: %w", id, shared.ErrNotFound)
	}
	return rec, nil
}

func (m *memoryRepo) ListByItem(_ context.Context, itemID int64) ([]TrackingRecord, error) {
	var out []TrackingRecord
	for _, rec := range m.records {
		if rec.ItemID == itemID {
			out = append(out, rec)
		}
	}
	sortTracking(out)
	return out, nil
}

func (m *memoryRepo) ListOpen(_ context.Context, horizon time.Time) ([]TrackingRecord, error) {
	var out []TrackingRecord
	for _, rec := range m.records {
		if !rec.Status.IsTerminal() && !rec.ExpiryDate.After(horizon) {
			out = append(out, rec)
		}
	}
	sortTracking(out)
	return out, nil
}

func (m *memoryRepo) CountOpenByItem(_ context.Context, itemID int64) (int64, error) {
	var n int64
	for _, rec := range m.records {
		if rec.ItemID == itemID && !rec.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) SetStatus(_ context.Context, id int64, status Status) error {
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrNotFound)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrInvalidState)
	}
	rec.Status = status
	m.records[id] = rec
	return nil
}

func (m *memoryRepo) MarkReplaced(_ context.Context, id, replacedByID int64) error {
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrNotFound)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrInvalidState)
	}
	rec.Status = StatusReplaced
	rec.ReplacedByID = replacedByID
	m.records[id] = rec
	return nil
}

func (m *memoryRepo) MarkDisposed(_ context.Context, id int64, method, certificate string) error {
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrNotFound)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrInvalidState)
	}
	rec.Status = StatusDisposed
	rec.DisposalMethod = method
	rec.DisposalCertificate = certificate
	m.records[id] = rec
	return nil
}

func sortTracking(records []TrackingRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ExpiryDate.Equal(records[j].ExpiryDate) {
			return records[i].ID < records[j].ID
		}
		return records[i].ExpiryDate.Before(records[j].ExpiryDate)
	})
}

type catalogStub struct {
	item     catalog.Item
	category catalog.Category
	deltas   []catalog.QuantityDelta
}

func (c *catalogStub) GetItem(_ context.Context, id int64) (catalog.Item, error) {
	if id != c.item.ID {
		return catalog.Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return c.item, nil
}

func (c *catalogStub) GetCategory(_ context.Context, id int64) (catalog.Category, error) {
	if id != c.category.ID {
		return catalog.Category{}, fmt.Errorf("category %d: %w", id, shared.ErrNotFound)
	}
	return c.category, nil
}

func (c *catalogStub) ApplyDelta(_ context.Context, delta catalog.QuantityDelta) (catalog.Item, []catalog.Event, error) {
	c.deltas = append(c.deltas, delta)
	c.item.QuantityAvailable += delta.AvailableDelta
	c.item.QuantityAllocated += delta.AllocatedDelta
	return c.item, nil, nil
}

type issuanceStub struct {
	resolved []string
	outcome  issuance.Status
}

func (i *issuanceStub) ResolveIncidentForSerial(_ context.Context, _ int64, serial string, outcome issuance.Status) (bool, error) {
	i.resolved = append(i.resolved, serial)
	i.outcome = outcome
	return true, nil
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newExpiryFixture(lifespanMonths int) (*Service, *memoryRepo, *catalogStub, *issuanceStub) {
	repo := newMemoryRepo()
	cat := &catalogStub{
		item:     catalog.Item{ID: 7, SKU: "HELMET-A", CategoryID: 2, QuantityAvailable: 3, QuantityAllocated: 1},
		category: catalog.Category{ID: 2, Code: "HEAD", LifespanMonths: lifespanMonths},
	}
	iss := &issuanceStub{}
	svc := NewService(repo, cat, iss, 0)
	svc.SetClock(func() time.Time { return testNow })
	return svc, repo, cat, iss
}

func TestDeriveStatus(t *testing.T) {
	window := 30 * 24 * time.Hour
	cases := map[string]struct {
		expiry time.Time
		want   Status
	}{
		"far future":       {testNow.AddDate(0, 6, 0), StatusActive},
		"inside window":    {testNow.Add(10 * 24 * time.Hour), StatusExpiringSoon},
		"window boundary":  {testNow.Add(window), StatusExpiringSoon},
		"exactly now":      {testNow, StatusExpired},
		"already past":     {testNow.Add(-24 * time.Hour), StatusExpired},
		"just over window": {testNow.Add(window + time.Minute), StatusActive},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.expiry, testNow, window))
		})
	}
}

func TestCreateRejectsInvertedDates(t *testing.T) {
	svc, _, _, _ := newExpiryFixture(12)
	_, err := svc.Create(context.Background(), CreateInput{
		ItemID:            7,
		ManufacturingDate: testNow,
		ExpiryDate:        testNow.AddDate(0, -1, 0),
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAutoCreateTrackingDerivesFromLifespan(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newExpiryFixture(12)

	manufactured := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	created, err := svc.AutoCreateTracking(ctx, 7, manufactured, "LOT-9")
	require.NoError(t, err)
	require.Len(t, created, 4) // 3 available + 1 allocated, none tracked

	want := manufactured.AddDate(0, 12, 0)
	for _, rec := range created {
		require.Equal(t, want, rec.ExpiryDate)
		require.Equal(t, "LOT-9", rec.BatchNumber)
		require.Equal(t, StatusActive, rec.Status)
	}

	// A second run finds nothing untracked.
	again, err := svc.AutoCreateTracking(ctx, 7, manufactured, "LOT-9")
	require.NoError(t, err)
	require.Empty(t, again)
	require.Len(t, repo.records, 4)
}

func TestAutoCreateTrackingNeedsLifespan(t *testing.T) {
	svc, _, _, _ := newExpiryFixture(0)
	_, err := svc.AutoCreateTracking(context.Background(), 7, testNow.AddDate(0, -2, 0), "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCheckNotificationsTransitionsAndEmits(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newExpiryFixture(12)

	soon, err := svc.Create(ctx, CreateInput{
		ItemID: 7, SerialNumber: "SN-SOON",
		ManufacturingDate: testNow.AddDate(-1, 0, 0),
		ExpiryDate:        testNow.Add(10 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, StatusExpiringSoon, soon.Status)

	active, err := svc.Create(ctx, CreateInput{
		ItemID: 7, SerialNumber: "SN-FAR",
		ManufacturingDate: testNow,
		ExpiryDate:        testNow.AddDate(0, 6, 0),
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, active.Status)

	// Jump forward: the soon record passes its date, the far one enters
	// the window.
	later := testNow.AddDate(0, 5, 10)
	svc.SetClock(func() time.Time { return later })

	events, err := svc.CheckNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	kinds := map[string]int{}
	for _, e := range events {
		kinds[e.EventType()]++
	}
	require.Equal(t, 1, kinds["expiry.expired"])
	require.Equal(t, 1, kinds["expiry.expiring_soon"])

	got, err := repo.Get(ctx, soon.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)

	// Rescanning emits nothing new.
	events, err = svc.CheckNotifications(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestReplaceSpawnsLineageAndResolvesIncident(t *testing.T) {
	ctx := context.Background()
	svc, _, _, iss := newExpiryFixture(12)

	old, err := svc.Create(ctx, CreateInput{
		ItemID: 7, SerialNumber: "SN-OLD",
		ManufacturingDate: testNow.AddDate(-2, 0, 0),
		ExpiryDate:        testNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, StatusExpired, old.Status)

	replaced, fresh, events, err := svc.Replace(ctx, old.ID, CreateInput{
		SerialNumber:      "SN-NEW",
		ManufacturingDate: testNow,
		ExpiryDate:        testNow.AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	require.Equal(t, StatusReplaced, replaced.Status)
	require.Equal(t, fresh.ID, replaced.ReplacedByID)
	require.Equal(t, replaced.ItemID, fresh.ItemID)
	require.Equal(t, StatusActive, fresh.Status)
	require.Len(t, events, 1)
	require.Equal(t, []string{"SN-OLD"}, iss.resolved)
	require.Equal(t, issuance.StatusReplaced, iss.outcome)

	// Terminal records cannot be replaced again.
	_, _, _, err = svc.Replace(ctx, old.ID, CreateInput{
		ManufacturingDate: testNow, ExpiryDate: testNow.AddDate(1, 0, 0),
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestDisposeRemovesUnitFromPool(t *testing.T) {
	ctx := context.Background()
	svc, _, cat, iss := newExpiryFixture(12)

	rec, err := svc.Create(ctx, CreateInput{
		ItemID: 7, SerialNumber: "SN-GONE",
		ManufacturingDate: testNow.AddDate(-2, 0, 0),
		ExpiryDate:        testNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	disposed, events, err := svc.Dispose(ctx, rec.ID, DisposeInput{Method: "incineration", Certificate: "CERT-77"})
	require.NoError(t, err)
	require.Equal(t, StatusDisposed, disposed.Status)
	require.Equal(t, "incineration", disposed.DisposalMethod)
	require.Len(t, events, 1)
	require.Equal(t, issuance.StatusDisposed, iss.outcome)

	require.Len(t, cat.deltas, 1)
	require.Equal(t, int64(-1), cat.deltas[0].AvailableDelta)
	require.Equal(t, int64(2), cat.item.QuantityAvailable)

	_, _, err = svc.Dispose(ctx, rec.ID, DisposeInput{Method: "incineration"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
