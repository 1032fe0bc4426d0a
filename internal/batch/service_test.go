package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gearledger/gearledger/internal/issuance"
	"github.com/gearledger/gearledger/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	batches map[int64]Batch
	lines   map[int64][]Line
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]Batch), lines: make(map[int64][]Line), nextID: 1}
}

func (m *memoryRepo) CreateBatch(_ context.Context, b Batch, lines []LineInput) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.nextID
	m.nextID++
	b.CreatedAt = time.Now().UTC()
	m.batches[b.ID] = b
	for i, input := range lines {
		m.lines[b.ID] = append(m.lines[b.ID], Line{
			ID:          int64(i + 1),
			BatchID:     b.ID,
			RecipientID: input.RecipientID,
			ItemID:      input.ItemID,
			Quantity:    input.Quantity,
			DueDate:     input.DueDate,
		})
	}
	return b.ID, nil
}

func (m *memoryRepo) GetBatch(_ context.Context, id int64) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
	}
	return b, nil
}

func (m *memoryRepo) ListLines(_ context.Context, batchID int64) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Line, len(m.lines[batchID]))
	copy(out, m.lines[batchID])
	return out, nil
}

func (m *memoryRepo) SetBatchStatus(_ context.Context, id int64, status Status, errorSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
	}
	if b.Status.IsTerminal() {
		return fmt.Errorf("batch %d: %w", id, shared.ErrInvalidState)
	}
	b.Status = status
	b.ErrorSummary = errorSummary
	m.batches[id] = b
	return nil
}

func (m *memoryRepo) SetLineResult(_ context.Context, lineID, recordID int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for batchID, lines := range m.lines {
		for i, line := range lines {
			if line.ID == lineID {
				line.RecordID = recordID
				line.Error = errMsg
				line.Processed = true
				m.lines[batchID][i] = line
				return nil
			}
		}
	}
	return fmt.Errorf("line %d: %w", lineID, shared.ErrNotFound)
}

type memoryProgress struct {
	mu        sync.Mutex
	snapshots map[int64]Progress
	cancelled map[int64]bool
}

func newMemoryProgress() *memoryProgress {
	return &memoryProgress{snapshots: make(map[int64]Progress), cancelled: make(map[int64]bool)}
}

func (m *memoryProgress) Save(_ context.Context, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[p.BatchID] = p
	return nil
}

func (m *memoryProgress) Load(_ context.Context, batchID int64) (Progress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.snapshots[batchID]
	return p, ok, nil
}

func (m *memoryProgress) RequestCancel(_ context.Context, batchID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[batchID] = true
	return nil
}

func (m *memoryProgress) CancelRequested(_ context.Context, batchID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[batchID], nil
}

// issuerStub fails for configured item IDs and records peak concurrency.
type issuerStub struct {
	mu        sync.Mutex
	failItems map[int64]error
	inFlight  int
	peak      int
	issued    int64
	delay     time.Duration
}

func (s *issuerStub) Issue(_ context.Context, input issuance.IssueInput) (issuance.Record, []issuance.Event, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if err, ok := s.failItems[input.ItemID]; ok {
		return issuance.Record{}, nil, err
	}
	s.issued++
	return issuance.Record{ID: s.issued, ItemID: input.ItemID, Quantity: input.Quantity}, nil, nil
}

func newBatchFixture(t *testing.T, failItems map[int64]error) (*Service, *memoryRepo, *memoryProgress, *issuerStub) {
	t.Helper()
	repo := newMemoryRepo()
	progress := newMemoryProgress()
	issuer := &issuerStub{failItems: failItems}
	svc := NewService(slog.Default(), repo, issuer, progress, nil)
	return svc, repo, progress, issuer
}

func submit(t *testing.T, svc *Service, n int) Batch {
	t.Helper()
	lines := make([]LineInput, 0, n)
	for i := 1; i <= n; i++ {
		lines = append(lines, LineInput{
			RecipientID: int64(100 + i),
			ItemID:      int64(i),
			Quantity:    2,
			DueDate:     time.Now().UTC().Add(14 * 24 * time.Hour),
		})
	}
	b, err := svc.Create(context.Background(), CreateInput{
		Name: "q3 allocation", Level: issuance.LevelAdminToManager, IssuerID: 1, Lines: lines,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, b.Status)
	return b
}

func TestCreateRejectsEmptyBatch(t *testing.T) {
	svc, _, _, _ := newBatchFixture(t, nil)
	_, err := svc.Create(context.Background(), CreateInput{
		Name: "empty", Level: issuance.LevelAdminToManager,
	})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestProcessIsolatesLineFailures(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newBatchFixture(t, map[int64]error{
		5: shared.QuantityError(shared.ErrInsufficientStock, 2, 0),
	})
	b := submit(t, svc, 10)

	require.NoError(t, svc.Process(ctx, b.ID, 3))

	got, progress, err := svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 10, progress.Processed)
	require.Equal(t, 9, progress.Successful)
	require.Equal(t, 1, progress.Failed)
	require.Contains(t, got.ErrorSummary, "insufficient stock")

	lines, err := repo.ListLines(ctx, b.ID)
	require.NoError(t, err)
	for _, line := range lines {
		require.True(t, line.Processed)
		if line.ItemID == 5 {
			require.NotEmpty(t, line.Error)
			require.Zero(t, line.RecordID)
		} else {
			require.Empty(t, line.Error)
			require.NotZero(t, line.RecordID)
		}
	}
}

func TestProcessBoundsConcurrency(t *testing.T) {
	svc, _, _, issuer := newBatchFixture(t, nil)
	issuer.delay = 20 * time.Millisecond
	b := submit(t, svc, 12)

	require.NoError(t, svc.Process(context.Background(), b.ID, 3))
	require.LessOrEqual(t, issuer.peak, 3)
	require.Equal(t, int64(12), issuer.issued)
}

func TestProcessFailsWhenEveryLineFails(t *testing.T) {
	ctx := context.Background()
	failAll := make(map[int64]error)
	for i := int64(1); i <= 4; i++ {
		failAll[i] = shared.QuantityError(shared.ErrInsufficientStock, 2, 0)
	}
	svc, _, _, _ := newBatchFixture(t, failAll)
	b := submit(t, svc, 4)

	require.NoError(t, svc.Process(ctx, b.ID, 2))

	got, progress, err := svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 4, progress.Failed)
	require.Zero(t, progress.Successful)
}

func TestProcessRefusesTerminalBatch(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newBatchFixture(t, nil)
	b := submit(t, svc, 2)

	require.NoError(t, svc.Process(ctx, b.ID, 1))
	err := svc.Process(ctx, b.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelSkipsUnstartedLines(t *testing.T) {
	ctx := context.Background()
	svc, repo, progress, issuer := newBatchFixture(t, nil)
	issuer.delay = 30 * time.Millisecond
	b := submit(t, svc, 8)

	// Cancel mid-run from another goroutine once the first lines are in flight.
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = progress.RequestCancel(ctx, b.ID)
	}()
	require.NoError(t, svc.Process(ctx, b.ID, 1))

	lines, err := repo.ListLines(ctx, b.ID)
	require.NoError(t, err)
	cancelledLines := 0
	for _, line := range lines {
		require.True(t, line.Processed)
		if line.Error == "cancelled" {
			cancelledLines++
		}
	}
	require.Greater(t, cancelledLines, 0)
	require.Less(t, cancelledLines, 8)

	got, p, err := svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, got.Status.IsTerminal())
	require.Equal(t, 8, p.Processed)
	require.Equal(t, cancelledLines, p.Failed)
	require.Contains(t, p.ErrorSummary, "cancelled")
}

func TestErrorSummaryIsBounded(t *testing.T) {
	failAll := make(map[int64]error)
	for i := int64(1); i <= 9; i++ {
		failAll[i] = shared.QuantityError(shared.ErrInsufficientStock, 2, 0)
	}
	svc, _, _, _ := newBatchFixture(t, failAll)
	b := submit(t, svc, 9)

	require.NoError(t, svc.Process(context.Background(), b.ID, 2))
	got, _, err := svc.Status(context.Background(), b.ID)
	require.NoError(t, err)
	require.Contains(t, got.ErrorSummary, "9 lines failed")
	require.Contains(t, got.ErrorSummary, "and 4 more")
}
