package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gearledger/gearledger/internal/issuance"
	"github.com/gearledger/gearledger/internal/shared"
)

// DefaultMaxConcurrent bounds worker parallelism when the caller does not
// choose one.
const DefaultMaxConcurrent = 4

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	CreateBatch(ctx context.Context, b Batch, lines []LineInput) (int64, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListLines(ctx context.Context, batchID int64) ([]Line, error)
	SetBatchStatus(ctx context.Context, id int64, status Status, errorSummary string) error
	SetLineResult(ctx context.Context, lineID, recordID int64, errMsg string) error
}

// IssuerPort is the single-issuance entry point each line goes through.
// Availability checks, eligibility and retries all live behind it.
type IssuerPort interface {
	Issue(ctx context.Context, input issuance.IssueInput) (issuance.Record, []issuance.Event, error)
}

// Service orchestrates batch issuance.
type Service struct {
	logger        *slog.Logger
	repo          RepositoryPort
	issuer        IssuerPort
	progress      ProgressStore
	idempotency   *shared.IdempotencyStore
	maxConcurrent int
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, issuer IssuerPort, progress ProgressStore, idem *shared.IdempotencyStore) *Service {
	return &Service{logger: logger, repo: repo, issuer: issuer, progress: progress, idempotency: idem, maxConcurrent: DefaultMaxConcurrent}
}

// SetDefaultConcurrency overrides the fallback worker limit used when a
// process request does not carry one.
func (s *Service) SetDefaultConcurrency(n int) {
	if n > 0 {
		s.maxConcurrent = n
	}
}

// Create validates and stores a batch in pending. Processing is a separate
// call so submission stays cheap and the heavy run can live on a worker.
func (s *Service) Create(ctx context.Context, input CreateInput) (Batch, error) {
	insertedKey := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "batch"); err != nil {
			return Batch{}, err
		}
		insertedKey = true
	}
	b, err := s.create(ctx, input)
	if err != nil && insertedKey {
		_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
	}
	return b, err
}

func (s *Service) create(ctx context.Context, input CreateInput) (Batch, error) {
	if len(input.Lines) == 0 {
		return Batch{}, fmt.Errorf("%w: batch needs at least one line", shared.ErrInvalidQuantity)
	}
	if !input.Level.IsValid() {
		return Batch{}, fmt.Errorf("%w: unknown level %q", shared.ErrInvalidState, input.Level)
	}
	for i, line := range input.Lines {
		if line.Quantity <= 0 {
			return Batch{}, fmt.Errorf("%w: line %d quantity must be positive", shared.ErrInvalidQuantity, i+1)
		}
	}
	b := Batch{
		Name:     input.Name,
		Level:    input.Level,
		IssuerID: input.IssuerID,
		Status:   StatusPending,
	}
	id, err := s.repo.CreateBatch(ctx, b, input.Lines)
	if err != nil {
		return Batch{}, err
	}
	return s.repo.GetBatch(ctx, id)
}

// Process runs every unprocessed line through the issuer with at most
// maxConcurrent workers. Lines fail independently; the batch only ends up
// failed when no line succeeded. Cancellation skips lines not yet
// dispatched; in-flight lines run to completion.
func (s *Service) Process(ctx context.Context, batchID int64, maxConcurrent int) error {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status.IsTerminal() {
		return shared.StateError(string(b.Status), "process batch")
	}
	lines, err := s.repo.ListLines(ctx, batchID)
	if err != nil {
		return err
	}
	if err := s.repo.SetBatchStatus(ctx, batchID, StatusProcessing, ""); err != nil {
		return err
	}

	if maxConcurrent <= 0 {
		maxConcurrent = s.maxConcurrent
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	var (
		mu        sync.Mutex
		progress  = Progress{BatchID: batchID, Total: len(lines)}
		lineErrs  error
		cancelled bool
	)
	s.saveProgress(ctx, &mu, &progress)

	var todo []Line
	for _, line := range lines {
		if line.Processed {
			progress.Processed++
			if line.Error == "" {
				progress.Successful++
			} else {
				progress.Failed++
			}
			continue
		}
		todo = append(todo, line)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	dispatched := 0
	for _, line := range todo {
		if s.cancelRequested(gctx, batchID) {
			cancelled = true
			break
		}
		dispatched++

		line := line
		g.Go(func() error {
			rec, _, err := s.issuer.Issue(gctx, issuance.IssueInput{
				IssuerID:    b.IssuerID,
				RecipientID: line.RecipientID,
				ItemID:      line.ItemID,
				Quantity:    line.Quantity,
				Level:       b.Level,
				DueDate:     line.DueDate,
			})

			mu.Lock()
			progress.Processed++
			if err != nil {
				progress.Failed++
				lineErrs = multierr.Append(lineErrs, fmt.Errorf("line %d: %w", line.ID, err))
			} else {
				progress.Successful++
			}
			mu.Unlock()

			var recordID int64
			var msg string
			if err != nil {
				msg = shared.UserSafeMessage(err)
			} else {
				recordID = rec.ID
			}
			if dbErr := s.repo.SetLineResult(gctx, line.ID, recordID, msg); dbErr != nil {
				s.logger.Error("batch line result", slog.Any("error", dbErr), slog.Int64("line_id", line.ID))
			}
			s.saveProgress(gctx, &mu, &progress)
			return nil
		})
	}
	_ = g.Wait()

	// Cancelled lines never ran; they count as failed with an explicit
	// reason so the batch total always adds up.
	if cancelled {
		for _, line := range todo[dispatched:] {
			mu.Lock()
			progress.Processed++
			progress.Failed++
			lineErrs = multierr.Append(lineErrs, fmt.Errorf("line %d: cancelled", line.ID))
			mu.Unlock()
			if dbErr := s.repo.SetLineResult(ctx, line.ID, 0, "cancelled"); dbErr != nil {
				s.logger.Error("batch line result", slog.Any("error", dbErr), slog.Int64("line_id", line.ID))
			}
		}
	}

	summary := summarize(lineErrs)

	final := StatusCompleted
	if progress.Processed > 0 && progress.Successful == 0 {
		final = StatusFailed
	}
	mu.Lock()
	progress.ErrorSummary = summary
	mu.Unlock()
	s.saveProgress(ctx, &mu, &progress)
	if err := s.repo.SetBatchStatus(ctx, batchID, final, summary); err != nil {
		return err
	}
	s.logger.Info("batch processed",
		slog.Int64("batch_id", batchID),
		slog.String("status", string(final)),
		slog.Int("successful", progress.Successful),
		slog.Int("failed", progress.Failed))
	return nil
}

// Status returns the batch header plus the freshest progress snapshot. The
// snapshot comes from the progress store while a run is live; once the run
// finished (or no snapshot exists) it is derived from the stored lines.
func (s *Service) Status(ctx context.Context, batchID int64) (Batch, Progress, error) {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, Progress{}, err
	}
	if p, ok, err := s.progress.Load(ctx, batchID); err == nil && ok {
		return b, p, nil
	}
	lines, err := s.repo.ListLines(ctx, batchID)
	if err != nil {
		return Batch{}, Progress{}, err
	}
	p := Progress{BatchID: batchID, Total: len(lines), ErrorSummary: b.ErrorSummary}
	for _, line := range lines {
		if !line.Processed {
			continue
		}
		p.Processed++
		if line.Error == "" {
			p.Successful++
		} else {
			p.Failed++
		}
	}
	return b, p, nil
}

// Cancel requests a best-effort stop of not-yet-started lines.
func (s *Service) Cancel(ctx context.Context, batchID int64) error {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status.IsTerminal() {
		return shared.StateError(string(b.Status), "cancel batch")
	}
	return s.progress.RequestCancel(ctx, batchID)
}

func (s *Service) cancelRequested(ctx context.Context, batchID int64) bool {
	cancelled, err := s.progress.CancelRequested(ctx, batchID)
	if err != nil {
		s.logger.Error("batch cancel check", slog.Any("error", err), slog.Int64("batch_id", batchID))
		return false
	}
	return cancelled
}

func (s *Service) saveProgress(ctx context.Context, mu *sync.Mutex, p *Progress) {
	mu.Lock()
	snapshot := *p
	snapshot.UpdatedAt = time.Now().UTC()
	mu.Unlock()
	if err := s.progress.Save(ctx, snapshot); err != nil {
		s.logger.Error("batch progress save", slog.Any("error", err), slog.Int64("batch_id", snapshot.BatchID))
	}
}

// summarize flattens the combined line errors into a bounded summary string.
func summarize(errs error) string {
	all := multierr.Errors(errs)
	if len(all) == 0 {
		return ""
	}
	const maxListed = 5
	parts := make([]string, 0, maxListed+1)
	for i, err := range all {
		if i == maxListed {
			parts = append(parts, fmt.Sprintf("and %d more", len(all)-maxListed))
			break
		}
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%d lines failed: %s", len(all), strings.Join(parts, "; "))
}
