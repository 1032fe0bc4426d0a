package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gearledger/gearledger/internal/shared"
)

type memoryRepo struct {
	items      map[int64]Item
	categories map[int64]Category
	nextItem   int64
	nextCat    int64

	// forcedConflicts injects spurious version conflicts into the next N
	// ApplyQuantityDelta calls.
	forcedConflicts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item), categories: make(map[int64]Category)}
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	it, ok := r.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return it, nil
}

func (r *memoryRepo) ApplyQuantityDelta(ctx context.Context, itemID, availDelta, allocDelta, version int64) error {
	if r.forcedConflicts > 0 {
		r.forcedConflicts--
		return fmt.Errorf("item %d: %w", itemID, shared.ErrVersionConflict)
	}
	it, ok := r.items[itemID]
	if !ok {
		return fmt.Errorf("item %d: %w", itemID, shared.ErrNotFound)
	}
	if it.Version != version {
		return fmt.Errorf("item %d: %w", itemID, shared.ErrVersionConflict)
	}
	it.QuantityAvailable += availDelta
	it.QuantityAllocated += allocDelta
	it.Version++
	r.items[itemID] = it
	return nil
}

func (r *memoryRepo) InsertItem(ctx context.Context, it Item) (int64, error) {
	r.nextItem++
	it.ID = r.nextItem
	it.Version = 1
	r.items[it.ID] = it
	return it.ID, nil
}

func (r *memoryRepo) FindItemBySKU(ctx context.Context, sku string) (Item, error) {
	for _, it := range r.items {
		if it.SKU == sku {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("sku %q: %w", sku, shared.ErrNotFound)
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	var items []Item
	for _, it := range r.items {
		items = append(items, it)
	}
	return items, len(items), nil
}

func (r *memoryRepo) InsertCategory(ctx context.Context, c Category) (int64, error) {
	r.nextCat++
	c.ID = r.nextCat
	r.categories[c.ID] = c
	return c.ID, nil
}

func (r *memoryRepo) GetCategory(ctx context.Context, id int64) (Category, error) {
	c, ok := r.categories[id]
	if !ok {
		return Category{}, fmt.Errorf("category %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func seedCategory(t *testing.T, repo *memoryRepo) int64 {
	t.Helper()
	id, err := repo.InsertCategory(context.Background(), Category{Code: "HELMET", Name: "Safety Helmets", LifespanMonths: 24})
	require.NoError(t, err)
	return id
}

func TestIntakeCreatesAndTopsUp(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	catID := seedCategory(t, repo)

	item, events, err := svc.Intake(ctx, IntakeInput{SKU: "HLM-01", Name: "Hard Hat", CategoryID: catID, Quantity: 50, ReorderLevel: 10})
	require.NoError(t, err)
	require.EqualValues(t, 50, item.QuantityAvailable)
	require.Len(t, events, 1)

	item, _, err = svc.Intake(ctx, IntakeInput{SKU: "HLM-01", Name: "Hard Hat", CategoryID: catID, Quantity: 25})
	require.NoError(t, err)
	require.EqualValues(t, 75, item.QuantityAvailable)
}

func TestIntakeRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	catID := seedCategory(t, repo)

	_, _, err := svc.Intake(context.Background(), IntakeInput{SKU: "HLM-01", Name: "Hard Hat", CategoryID: catID, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestApplyDeltaGuardsNegativeStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	catID := seedCategory(t, repo)

	item, _, err := svc.Intake(ctx, IntakeInput{SKU: "GLV-01", Name: "Gloves", CategoryID: catID, Quantity: 3})
	require.NoError(t, err)

	_, _, err = svc.ApplyDelta(ctx, QuantityDelta{ItemID: item.ID, AvailableDelta: -5})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.QuantityAvailable)
}

func TestApplyDeltaRetriesTransientConflicts(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	catID := seedCategory(t, repo)

	item, _, err := svc.Intake(ctx, IntakeInput{SKU: "VST-01", Name: "Hi-Vis Vest", CategoryID: catID, Quantity: 10})
	require.NoError(t, err)

	repo.forcedConflicts = 3
	updated, _, err := svc.ApplyDelta(ctx, QuantityDelta{ItemID: item.ID, AvailableDelta: -4, AllocatedDelta: 4})
	require.NoError(t, err)
	require.EqualValues(t, 6, updated.QuantityAvailable)
	require.EqualValues(t, 4, updated.QuantityAllocated)
}

func TestApplyDeltaSurfacesExhaustion(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	catID := seedCategory(t, repo)

	item, _, err := svc.Intake(ctx, IntakeInput{SKU: "BTS-01", Name: "Boots", CategoryID: catID, Quantity: 10})
	require.NoError(t, err)

	repo.forcedConflicts = 4
	_, _, err = svc.ApplyDelta(ctx, QuantityDelta{ItemID: item.ID, AvailableDelta: -1})
	require.ErrorIs(t, err, shared.ErrConcurrencyExhausted)

	got, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10, got.QuantityAvailable) // update never silently applied
}

func TestApplyDeltasIsolatesFailures(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	catID := seedCategory(t, repo)

	a, _, err := svc.Intake(ctx, IntakeInput{SKU: "A", Name: "A", CategoryID: catID, Quantity: 10})
	require.NoError(t, err)
	b, _, err := svc.Intake(ctx, IntakeInput{SKU: "B", Name: "B", CategoryID: catID, Quantity: 2})
	require.NoError(t, err)

	items, _, err := svc.ApplyDeltas(ctx, []QuantityDelta{
		{ItemID: a.ID, AvailableDelta: -5},
		{ItemID: b.ID, AvailableDelta: -5}, // would go negative
	})
	require.Error(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 5, items[0].QuantityAvailable)
}

func TestReorderAlertEmittedOnDrawdown(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	catID := seedCategory(t, repo)

	item, _, err := svc.Intake(ctx, IntakeInput{SKU: "RSP-01", Name: "Respirator", CategoryID: catID, Quantity: 12, ReorderLevel: 10})
	require.NoError(t, err)

	_, events, err := svc.ApplyDelta(ctx, QuantityDelta{ItemID: item.ID, AvailableDelta: -3, AllocatedDelta: 3})
	require.NoError(t, err)
	require.Len(t, events, 1)
	alert, ok := events[0].(ReorderAlertEvent)
	require.True(t, ok)
	require.EqualValues(t, 9, alert.Available)
}
