package expiry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearledger/gearledger/internal/shared"
)

const trackingColumns = `id, item_id, serial_number, batch_number, manufacturing_date,
	expiry_date, status, disposal_method, disposal_certificate,
	COALESCE(replaced_by_id, 0), created_at, updated_at`

// Repository persists expiry tracking records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one record.
func (r *Repository) Insert(ctx context.Context, rec TrackingRecord) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO expiry_tracking (item_id, serial_number, batch_number, manufacturing_date,
		    expiry_date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`,
		rec.ItemID, rec.SerialNumber, rec.BatchNumber, rec.ManufacturingDate,
		rec.ExpiryDate, rec.Status,
	).Scan(&id)
	return id, err
}

// Get loads one record.
func (r *Repository) Get(ctx context.Context, id int64) (TrackingRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+trackingColumns+` FROM expiry_tracking WHERE id = $1`, id)
	return scanTracking(row, id)
}

// ListByItem returns the item's tracking records, oldest expiry first.
func (r *Repository) ListByItem(ctx context.Context, itemID int64) ([]TrackingRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+trackingColumns+` FROM expiry_tracking
		  WHERE item_id = $1 ORDER BY expiry_date, id`, itemID)
	if err != nil {
		return nil, err
	}
	return collectTracking(rows)
}

// ListOpen returns every non-terminal record with an expiry date inside the
// horizon, the scan set for status refresh.
func (r *Repository) ListOpen(ctx context.Context, horizon time.Time) ([]TrackingRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+trackingColumns+` FROM expiry_tracking
		  WHERE status IN ($1, $2, $3) AND expiry_date <= $4
		  ORDER BY expiry_date, id`,
		StatusActive, StatusExpiringSoon, StatusExpired, horizon)
	if err != nil {
		return nil, err
	}
	return collectTracking(rows)
}

// CountOpenByItem counts non-terminal records for one item.
func (r *Repository) CountOpenByItem(ctx context.Context, itemID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM expiry_tracking
		  WHERE item_id = $1 AND status NOT IN ($2, $3)`,
		itemID, StatusReplaced, StatusDisposed).Scan(&n)
	return n, err
}

// SetStatus transitions a non-terminal record.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE expiry_tracking SET status = $2, updated_at = NOW()
		  WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, status, StatusReplaced, StatusDisposed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrInvalidState)
	}
	return nil
}

// MarkReplaced terminates the old record and links its replacement.
func (r *Repository) MarkReplaced(ctx context.Context, id, replacedByID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE expiry_tracking SET status = $2, replaced_by_id = $3, updated_at = NOW()
		  WHERE id = $1 AND status NOT IN ($2, $4)`,
		id, StatusReplaced, replacedByID, StatusDisposed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrInvalidState)
	}
	return nil
}

// MarkDisposed terminates the record with its disposal details.
func (r *Repository) MarkDisposed(ctx context.Context, id int64, method, certificate string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE expiry_tracking
		    SET status = $2, disposal_method = $3, disposal_certificate = $4, updated_at = NOW()
		  WHERE id = $1 AND status NOT IN ($2, $5)`,
		id, StatusDisposed, method, certificate, StatusReplaced)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("tracking record %d: %w", id, shared.ErrInvalidState)
	}
	return nil
}

func scanTracking(row pgx.Row, id int64) (TrackingRecord, error) {
	var rec TrackingRecord
	err := row.Scan(&rec.ID, &rec.ItemID, &rec.SerialNumber, &rec.BatchNumber,
		&rec.ManufacturingDate, &rec.ExpiryDate, &rec.Status, &rec.DisposalMethod,
		&rec.DisposalCertificate, &rec.ReplacedByID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TrackingRecord{}, fmt.Errorf("tracking record %d: %w", id, shared.ErrNotFound)
		}
		return TrackingRecord{}, err
	}
	return rec, nil
}

func collectTracking(rows pgx.Rows) ([]TrackingRecord, error) {
	defer rows.Close()
	var records []TrackingRecord
	for rows.Next() {
		rec, err := scanTracking(rows, 0)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
