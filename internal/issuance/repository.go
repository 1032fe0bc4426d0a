package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearledger/gearledger/internal/platform/db"
	"github.com/gearledger/gearledger/internal/shared"
)

const recordColumns = `id, code, item_id, issuer_id, recipient_id, level, quantity,
	remaining_quantity, assigned_serials, returned_serials, status, issued_date,
	expected_return_date, actual_return_date, return_condition, report_type,
	report_description, report_severity, report_date, notes, version, created_at, updated_at`

// Repository persists issuance records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. Record
// transitions run inside a transaction so the reconciliation check and the
// subsequent mutation cannot interleave with a competing return.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, id int64) (Record, error)
	ListByHolderItemForUpdate(ctx context.Context, holderID, itemID int64) ([]Record, error)
	InsertRecord(ctx context.Context, rec Record) (int64, error)
	UpdateRecord(ctx context.Context, rec Record) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetRecord loads one record.
func (r *Repository) GetRecord(ctx context.Context, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM issuance_records WHERE id = $1`, id)
	return scanRecord(row, id)
}

// ListByHolderItem returns every record where the holder participates for
// the given item, ordered by issued date for deterministic reconciliation.
func (r *Repository) ListByHolderItem(ctx context.Context, holderID, itemID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM issuance_records
		  WHERE item_id = $2 AND (recipient_id = $1 OR issuer_id = $1)
		  ORDER BY issued_date, id`, holderID, itemID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListOverdueCandidates returns issued records past their expected return
// date with units still outstanding.
func (r *Repository) ListOverdueCandidates(ctx context.Context, asOf time.Time) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM issuance_records
		  WHERE status = $1 AND expected_return_date < $2 AND remaining_quantity > 0
		  ORDER BY expected_return_date, id`, StatusIssued, asOf)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListOpenIncidents returns records awaiting replace/dispose resolution for
// an item.
func (r *Repository) ListOpenIncidents(ctx context.Context, itemID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM issuance_records
		  WHERE item_id = $1 AND status IN ($2, $3)
		  ORDER BY id`, itemID, StatusDamaged, StatusReplacementNeeded)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListByParticipant returns records where the user is issuer or recipient.
func (r *Repository) ListByParticipant(ctx context.Context, userID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM issuance_records
		  WHERE recipient_id = $1 OR issuer_id = $1
		  ORDER BY issued_date DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (t *txRepo) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM issuance_records WHERE id = $1 FOR UPDATE`, id)
	return scanRecord(row, id)
}

func (t *txRepo) ListByHolderItemForUpdate(ctx context.Context, holderID, itemID int64) ([]Record, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+recordColumns+` FROM issuance_records
		  WHERE item_id = $2 AND (recipient_id = $1 OR issuer_id = $1)
		  ORDER BY issued_date, id FOR UPDATE`, holderID, itemID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (t *txRepo) InsertRecord(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO issuance_records (code, item_id, issuer_id, recipient_id, level, quantity,
		    remaining_quantity, assigned_serials, returned_serials, status, issued_date,
		    expected_return_date, notes, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, NOW(), NOW())
		 RETURNING id`,
		rec.Code, rec.ItemID, rec.IssuerID, rec.RecipientID, rec.Level, rec.Quantity,
		rec.RemainingQuantity, rec.AssignedSerials, rec.ReturnedSerials, rec.Status,
		rec.IssuedDate, rec.ExpectedReturnDate, rec.Notes,
	).Scan(&id)
	return id, err
}

// UpdateRecord applies the transition conditionally on the version the
// service last read; zero rows on an existing record means a stale read.
func (t *txRepo) UpdateRecord(ctx context.Context, rec Record) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE issuance_records
		    SET remaining_quantity = $2, returned_serials = $3, status = $4,
		        actual_return_date = $5, return_condition = $6, report_type = $7,
		        report_description = $8, report_severity = $9, report_date = $10,
		        notes = $11, version = version + 1, updated_at = NOW()
		  WHERE id = $1 AND version = $12`,
		rec.ID, rec.RemainingQuantity, rec.ReturnedSerials, rec.Status,
		rec.ActualReturnDate, rec.ReturnCondition, nullableReport(rec.ReportType),
		rec.ReportDescription, rec.ReportSeverity, rec.ReportDate,
		rec.Notes, rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := t.GetRecordForUpdate(ctx, rec.ID); err != nil {
			return err
		}
		return fmt.Errorf("record %d: %w", rec.ID, shared.ErrVersionConflict)
	}
	return nil
}

func nullableReport(t ReportType) *string {
	if t == "" {
		return nil
	}
	s := string(t)
	return &s
}

func scanRecord(row pgx.Row, id int64) (Record, error) {
	var rec Record
	var reportType *string
	err := row.Scan(&rec.ID, &rec.Code, &rec.ItemID, &rec.IssuerID, &rec.RecipientID,
		&rec.Level, &rec.Quantity, &rec.RemainingQuantity, &rec.AssignedSerials,
		&rec.ReturnedSerials, &rec.Status, &rec.IssuedDate, &rec.ExpectedReturnDate,
		&rec.ActualReturnDate, &rec.ReturnCondition, &reportType, &rec.ReportDescription,
		&rec.ReportSeverity, &rec.ReportDate, &rec.Notes, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("record %d: %w", id, shared.ErrNotFound)
		}
		return Record{}, err
	}
	if reportType != nil {
		rec.ReportType = ReportType(*reportType)
	}
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows, 0)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
