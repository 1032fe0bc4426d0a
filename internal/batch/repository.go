package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearledger/gearledger/internal/platform/db"
	"github.com/gearledger/gearledger/internal/shared"
)

// Repository persists batches and their lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateBatch inserts the batch header and its lines atomically.
func (r *Repository) CreateBatch(ctx context.Context, b Batch, lines []LineInput) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO issuance_batches (name, level, issuer_id, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id`,
			b.Name, b.Level, b.IssuerID, b.Status,
		).Scan(&id)
		if err != nil {
			return err
		}
		for _, line := range lines {
			_, err := tx.Exec(ctx,
				`INSERT INTO issuance_batch_lines (batch_id, recipient_id, item_id, quantity, due_date)
				 VALUES ($1, $2, $3, $4, $5)`,
				id, line.RecipientID, line.ItemID, line.Quantity, line.DueDate)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetBatch loads one batch header.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	var b Batch
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, level, issuer_id, status, COALESCE(error_summary, ''), created_at, updated_at
		   FROM issuance_batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Level, &b.IssuerID, &b.Status, &b.ErrorSummary, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
		}
		return Batch{}, err
	}
	return b, nil
}

// ListLines returns the batch lines in submission order.
func (r *Repository) ListLines(ctx context.Context, batchID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, batch_id, recipient_id, item_id, quantity, due_date,
		        COALESCE(record_id, 0), COALESCE(error, ''), processed
		   FROM issuance_batch_lines WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.BatchID, &line.RecipientID, &line.ItemID,
			&line.Quantity, &line.DueDate, &line.RecordID, &line.Error, &line.Processed); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// SetBatchStatus transitions the batch and stores the aggregated summary.
// A terminal batch is never reopened.
func (r *Repository) SetBatchStatus(ctx context.Context, id int64, status Status, errorSummary string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE issuance_batches
		    SET status = $2, error_summary = NULLIF($3, ''), updated_at = NOW()
		  WHERE id = $1 AND status NOT IN ($4, $5)`,
		id, status, errorSummary, StatusCompleted, StatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %d: %w", id, shared.ErrInvalidState)
	}
	return nil
}

// SetLineResult records one line's outcome.
func (r *Repository) SetLineResult(ctx context.Context, lineID, recordID int64, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE issuance_batch_lines
		    SET record_id = NULLIF($2, 0), error = NULLIF($3, ''), processed = TRUE
		  WHERE id = $1`, lineID, recordID, errMsg)
	return err
}
