package issuance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gearledger/gearledger/internal/catalog"
	"github.com/gearledger/gearledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, id int64) (Record, error)
	ListByHolderItem(ctx context.Context, holderID, itemID int64) ([]Record, error)
	ListOverdueCandidates(ctx context.Context, asOf time.Time) ([]Record, error)
	ListOpenIncidents(ctx context.Context, itemID int64) ([]Record, error)
	ListByParticipant(ctx context.Context, userID int64) ([]Record, error)
}

// StockPort mutates the item's pooled quantities through the optimistic
// concurrency controller.
type StockPort interface {
	ApplyDelta(ctx context.Context, delta catalog.QuantityDelta) (catalog.Item, []catalog.Event, error)
}

// DirectoryPort resolves actor IDs for eligibility checks.
type DirectoryPort interface {
	Resolve(ctx context.Context, userID int64) (shared.Actor, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service governs the issuance record lifecycle.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	directory   DirectoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockPort, directory DirectoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{
		repo:        repo,
		stock:       stock,
		directory:   directory,
		audit:       audit,
		idempotency: idem,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source; used by scheduler-driven tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Issue allocates units to a recipient and creates the record in
// pending_confirmation. Admin-level issuance draws from the warehouse pool
// through the concurrency controller; manager-level issuance draws from the
// manager's reconciled holding.
func (s *Service) Issue(ctx context.Context, input IssueInput) (Record, []Event, error) {
	insertedKey := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "issuance"); err != nil {
			return Record{}, nil, err
		}
		insertedKey = true
	}
	rec, events, err := s.issue(ctx, input)
	if err != nil && insertedKey {
		_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
	}
	return rec, events, err
}

func (s *Service) issue(ctx context.Context, input IssueInput) (Record, []Event, error) {
	if input.Quantity <= 0 {
		return Record{}, nil, fmt.Errorf("%w: issue quantity must be positive", shared.ErrInvalidQuantity)
	}
	if !input.Level.IsValid() {
		return Record{}, nil, fmt.Errorf("%w: unknown level %q", shared.ErrInvalidState, input.Level)
	}
	if len(input.Serials) > 0 && int64(len(input.Serials)) != input.Quantity {
		return Record{}, nil, fmt.Errorf("%w: %d serial numbers for %d units", shared.ErrInvalidQuantity, len(input.Serials), input.Quantity)
	}

	issuer, err := s.directory.Resolve(ctx, input.IssuerID)
	if err != nil {
		return Record{}, nil, fmt.Errorf("resolve issuer: %w", err)
	}
	recipient, err := s.directory.Resolve(ctx, input.RecipientID)
	if err != nil {
		return Record{}, nil, fmt.Errorf("resolve recipient: %w", err)
	}
	if err := checkEligibility(input.Level, issuer, recipient); err != nil {
		return Record{}, nil, err
	}

	now := s.now()
	issuedDate := input.IssuedDate
	if issuedDate.IsZero() {
		issuedDate = now
	}
	rec := Record{
		Code:               "ISS-" + uuid.NewString(),
		ItemID:             input.ItemID,
		IssuerID:           input.IssuerID,
		RecipientID:        input.RecipientID,
		Level:              input.Level,
		Quantity:           input.Quantity,
		RemainingQuantity:  input.Quantity,
		AssignedSerials:    input.Serials,
		Status:             StatusPendingConfirmation,
		IssuedDate:         issuedDate,
		ExpectedReturnDate: input.DueDate,
		Notes:              input.Notes,
	}

	switch input.Level {
	case LevelAdminToManager:
		// Commit the pool move first; the conditional update rejects
		// insufficient stock and races alike.
		if _, _, err := s.stock.ApplyDelta(ctx, catalog.QuantityDelta{
			ItemID:         input.ItemID,
			AvailableDelta: -input.Quantity,
			AllocatedDelta: input.Quantity,
		}); err != nil {
			return Record{}, nil, err
		}
		if err := s.insertRecord(ctx, &rec); err != nil {
			// Put the units back; the allocation never existed.
			_, _, compErr := s.stock.ApplyDelta(ctx, catalog.QuantityDelta{
				ItemID:         input.ItemID,
				AvailableDelta: input.Quantity,
				AllocatedDelta: -input.Quantity,
			})
			if compErr != nil {
				return Record{}, nil, fmt.Errorf("insert record: %w (pool compensation also failed: %v)", err, compErr)
			}
			return Record{}, nil, err
		}
	case LevelManagerToEmployee:
		// The availability check and the insert share one transaction so
		// two concurrent re-issues cannot both pass the same balance.
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			held, err := tx.ListByHolderItemForUpdate(ctx, input.IssuerID, input.ItemID)
			if err != nil {
				return err
			}
			summary, err := Reconcile(input.IssuerID, held)
			if err != nil {
				return err
			}
			if input.Quantity > summary.AvailableToReissue {
				return shared.QuantityError(shared.ErrInsufficientStock, input.Quantity, summary.AvailableToReissue)
			}
			id, err := tx.InsertRecord(ctx, rec)
			if err != nil {
				return err
			}
			rec.ID = id
			return nil
		})
		if err != nil {
			return Record{}, nil, err
		}
		rec.Version = 1
	}

	s.recordAudit(ctx, input.IssuerID, "issuance:issue", rec.ID, map[string]any{
		"item_id": input.ItemID, "recipient_id": input.RecipientID, "qty": input.Quantity, "level": input.Level,
	})
	events := []Event{IssuedEvent{
		RecordID: rec.ID, ItemID: rec.ItemID, IssuerID: rec.IssuerID,
		RecipientID: rec.RecipientID, Level: rec.Level, Quantity: rec.Quantity, At: now,
	}}
	return rec, events, nil
}

// ConfirmReceived acknowledges an allocation: pending_confirmation -> issued.
func (s *Service) ConfirmReceived(ctx context.Context, actorID, recordID int64, notes string) (Record, []Event, error) {
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if current.RecipientID != actorID {
			return fmt.Errorf("%w: only the recipient may confirm receipt", shared.ErrInvalidState)
		}
		if !current.Status.CanConfirm() {
			return shared.StateError(string(current.Status), "confirm receipt")
		}
		current.Status = StatusIssued
		if notes != "" {
			current.Notes = notes
		}
		if err := tx.UpdateRecord(ctx, current); err != nil {
			return err
		}
		current.Version++
		rec = current
		return nil
	})
	if err != nil {
		return Record{}, nil, err
	}
	s.recordAudit(ctx, actorID, "issuance:confirm", rec.ID, nil)
	return rec, []Event{ReceiptConfirmedEvent{RecordID: rec.ID, At: s.now()}}, nil
}

// ReturnUnits processes a full or partial return on a record. An employee
// return that clears the record parks it in pending_manager_return for the
// manager to close; a manager return restores the warehouse pool.
func (s *Service) ReturnUnits(ctx context.Context, input ReturnInput) (Record, []Event, error) {
	var (
		rec      Record
		returned int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, input.RecordID)
		if err != nil {
			return err
		}
		if current.RecipientID != input.ActorID {
			return fmt.Errorf("%w: only the holder may return units", shared.ErrInvalidState)
		}
		if !current.Status.CanReturn() {
			return shared.StateError(string(current.Status), "return units")
		}

		qty := input.Quantity
		if qty == 0 {
			qty = current.RemainingQuantity
		}
		if qty <= 0 {
			return fmt.Errorf("%w: return quantity must be positive", shared.ErrInvalidQuantity)
		}
		if qty > current.RemainingQuantity {
			return shared.QuantityError(shared.ErrExceedsRemaining, qty, current.RemainingQuantity)
		}
		if err := checkSerials(current, input.Serials); err != nil {
			return err
		}

		if current.Level == LevelAdminToManager {
			// Manager-level return: the reconciled balance check and the
			// decrement share this transaction (records FOR UPDATE), so a
			// concurrent downstream issue cannot slip in between.
			held, err := tx.ListByHolderItemForUpdate(ctx, current.RecipientID, current.ItemID)
			if err != nil {
				return err
			}
			summary, err := Reconcile(current.RecipientID, held)
			if err != nil {
				return err
			}
			if qty > summary.AvailableToReissue {
				return shared.QuantityError(shared.ErrExceedsRemaining, qty, summary.AvailableToReissue)
			}
		}

		date := input.Date
		if date.IsZero() {
			date = s.now()
		}
		current.RemainingQuantity -= qty
		current.ReturnedSerials = append(current.ReturnedSerials, input.Serials...)
		current.ReturnCondition = input.Condition
		current.ActualReturnDate = &date
		if input.Notes != "" {
			current.Notes = input.Notes
		}
		switch {
		case current.RemainingQuantity > 0:
			current.Status = StatusIssued // partial return clears overdue too
		case current.Level == LevelManagerToEmployee:
			current.Status = StatusPendingManagerReturn
		default:
			current.Status = StatusReturned
		}
		if err := tx.UpdateRecord(ctx, current); err != nil {
			return err
		}
		current.Version++
		rec = current
		returned = qty
		return nil
	})
	if err != nil {
		return Record{}, nil, err
	}

	if rec.Level == LevelAdminToManager {
		// Units physically back at the warehouse: restore the pool through
		// the controller. Exhaustion here is surfaced, never dropped.
		if _, _, err := s.stock.ApplyDelta(ctx, catalog.QuantityDelta{
			ItemID:         rec.ItemID,
			AvailableDelta: returned,
			AllocatedDelta: -returned,
		}); err != nil {
			return Record{}, nil, fmt.Errorf("restore pool for record %d: %w", rec.ID, err)
		}
	}

	s.recordAudit(ctx, input.ActorID, "issuance:return", rec.ID, map[string]any{
		"qty": returned, "remaining": rec.RemainingQuantity, "condition": input.Condition,
	})
	events := []Event{UnitsReturnedEvent{
		RecordID: rec.ID, ItemID: rec.ItemID, Quantity: returned,
		Remaining: rec.RemainingQuantity, Condition: input.Condition, At: s.now(),
	}}
	return rec, events, nil
}

// ReportIncident files damage/loss/defect on issued equipment and freezes
// returns until the incident is resolved.
func (s *Service) ReportIncident(ctx context.Context, input ReportInput) (Record, []Event, error) {
	next, ok := input.Type.StatusForReport()
	if !ok {
		return Record{}, nil, fmt.Errorf("%w: unknown report type %q", shared.ErrInvalidState, input.Type)
	}
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, input.RecordID)
		if err != nil {
			return err
		}
		if current.RecipientID != input.ActorID {
			return fmt.Errorf("%w: only the holder may report an incident", shared.ErrInvalidState)
		}
		if !current.Status.CanReport() {
			return shared.StateError(string(current.Status), "report incident")
		}
		date := input.Date
		if date.IsZero() {
			date = s.now()
		}
		current.Status = next
		current.ReportType = input.Type
		current.ReportDescription = input.Description
		current.ReportSeverity = input.Severity
		current.ReportDate = &date
		if err := tx.UpdateRecord(ctx, current); err != nil {
			return err
		}
		current.Version++
		rec = current
		return nil
	})
	if err != nil {
		return Record{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, "issuance:report", rec.ID, map[string]any{
		"type": input.Type, "severity": input.Severity,
	})
	events := []Event{IncidentReportedEvent{
		RecordID: rec.ID, ItemID: rec.ItemID, Type: input.Type, Severity: input.Severity, At: s.now(),
	}}
	return rec, events, nil
}

// ConfirmDownstreamReturn closes an employee return:
// pending_manager_return -> returned. The manager's re-issuable balance
// frees up through reconciliation; no pool movement happens here.
func (s *Service) ConfirmDownstreamReturn(ctx context.Context, actorID, recordID int64) (Record, []Event, error) {
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if current.IssuerID != actorID {
			return fmt.Errorf("%w: only the issuing manager may confirm the return", shared.ErrInvalidState)
		}
		if !current.Status.CanConfirmDownstream() {
			return shared.StateError(string(current.Status), "confirm downstream return")
		}
		current.Status = StatusReturned
		if err := tx.UpdateRecord(ctx, current); err != nil {
			return err
		}
		current.Version++
		rec = current
		return nil
	})
	if err != nil {
		return Record{}, nil, err
	}
	s.recordAudit(ctx, actorID, "issuance:confirm_return", rec.ID, nil)
	return rec, []Event{UnitsReturnedEvent{RecordID: rec.ID, ItemID: rec.ItemID, Remaining: 0, At: s.now()}}, nil
}

// ResolveIncident finalises a damaged/replacement_needed record as replaced
// or disposed. Disposal removes the units from the custody chain and the
// warehouse allocation.
func (s *Service) ResolveIncident(ctx context.Context, recordID int64, outcome Status) (Record, []Event, error) {
	if outcome != StatusReplaced && outcome != StatusDisposed {
		return Record{}, nil, fmt.Errorf("%w: resolution must be replaced or disposed", shared.ErrInvalidState)
	}
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if !current.Status.CanResolve() {
			return shared.StateError(string(current.Status), "resolve incident")
		}
		current.Status = outcome
		if err := tx.UpdateRecord(ctx, current); err != nil {
			return err
		}
		current.Version++
		rec = current
		return nil
	})
	if err != nil {
		return Record{}, nil, err
	}
	if outcome == StatusDisposed {
		// Allocated units destroyed; release the allocation without
		// returning stock to the free pool. Units disposed downstream are
		// still part of the warehouse allocation made to their manager.
		if _, _, err := s.stock.ApplyDelta(ctx, catalog.QuantityDelta{
			ItemID:         rec.ItemID,
			AllocatedDelta: -rec.RemainingQuantity,
		}); err != nil {
			return Record{}, nil, fmt.Errorf("release allocation for record %d: %w", rec.ID, err)
		}
	}
	return rec, []Event{IncidentResolvedEvent{RecordID: rec.ID, Outcome: outcome, At: s.now()}}, nil
}

// MarkOverdue flags issued records past their expected return date. It is
// driven by the scheduler, not a user actor, and is reversible by a
// subsequent return.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) ([]Event, error) {
	candidates, err := s.repo.ListOverdueCandidates(ctx, asOf)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, candidate := range candidates {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetRecordForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !current.Status.CanMarkOverdue() {
				return nil // state moved under us; nothing to do
			}
			current.Status = StatusOverdue
			return tx.UpdateRecord(ctx, current)
		})
		if err != nil {
			return events, err
		}
		events = append(events, OverdueEvent{
			RecordID: candidate.ID, ItemID: candidate.ItemID, RecipientID: candidate.RecipientID,
			Remaining: candidate.RemainingQuantity, DueDate: candidate.ExpectedReturnDate, At: s.now(),
		})
	}
	return events, nil
}

// ResolveIncidentForSerial resolves the open incident tracking the given
// unit, matched by assigned serial number, or the oldest open incident on
// the item when no serial is known. Reports whether a record was resolved.
func (s *Service) ResolveIncidentForSerial(ctx context.Context, itemID int64, serial string, outcome Status) (bool, error) {
	open, err := s.repo.ListOpenIncidents(ctx, itemID)
	if err != nil {
		return false, err
	}
	for _, rec := range open {
		if serial != "" && !hasSerial(rec.AssignedSerials, serial) {
			continue
		}
		if _, _, err := s.ResolveIncident(ctx, rec.ID, outcome); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func hasSerial(serials []string, serial string) bool {
	for _, sn := range serials {
		if sn == serial {
			return true
		}
	}
	return false
}

// Reconcile derives the aggregate custody figures for one holder and item.
func (s *Service) Reconcile(ctx context.Context, holderID, itemID int64) (Summary, error) {
	records, err := s.repo.ListByHolderItem(ctx, holderID, itemID)
	if err != nil {
		return Summary{}, err
	}
	return Reconcile(holderID, records)
}

// ReconcileReport extends Reconcile with the per-record attribution of the
// holder's returned total, consumed oldest-issued-first across the records
// it received.
func (s *Service) ReconcileReport(ctx context.Context, holderID, itemID int64) (ReconciliationReport, error) {
	records, err := s.repo.ListByHolderItem(ctx, holderID, itemID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	summary, err := Reconcile(holderID, records)
	if err != nil {
		return ReconciliationReport{}, err
	}
	var received []Record
	for _, rec := range records {
		if rec.RecipientID == holderID {
			received = append(received, rec)
		}
	}
	returns, err := InferReturns(received, summary.TotalReturned)
	if err != nil {
		return ReconciliationReport{}, err
	}
	return ReconciliationReport{Summary: summary, Returns: returns}, nil
}

// GetRecord returns one record.
func (s *Service) GetRecord(ctx context.Context, id int64) (Record, error) {
	return s.repo.GetRecord(ctx, id)
}

// ListForActor returns the actor's records, newest first.
func (s *Service) ListForActor(ctx context.Context, actorID int64) ([]Record, error) {
	return s.repo.ListByParticipant(ctx, actorID)
}

func (s *Service) insertRecord(ctx context.Context, rec *Record) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRecord(ctx, *rec)
		if err != nil {
			return err
		}
		rec.ID = id
		rec.Version = 1
		return nil
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, recordID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "issuance_record",
		EntityID: fmt.Sprintf("%d", recordID),
		Meta:     meta,
	})
}

func checkEligibility(level Level, issuer, recipient shared.Actor) error {
	switch level {
	case LevelAdminToManager:
		if issuer.Role != shared.RoleAdmin {
			return fmt.Errorf("%w: level %s requires an admin issuer", shared.ErrInvalidState, level)
		}
		if recipient.Role != shared.RoleManager {
			return fmt.Errorf("%w: level %s requires a manager recipient", shared.ErrInvalidState, level)
		}
	case LevelManagerToEmployee:
		if issuer.Role != shared.RoleManager {
			return fmt.Errorf("%w: level %s requires a manager issuer", shared.ErrInvalidState, level)
		}
		if recipient.Role != shared.RoleEmployee {
			return fmt.Errorf("%w: level %s requires an employee recipient", shared.ErrInvalidState, level)
		}
		if issuer.Department != recipient.Department {
			return fmt.Errorf("%w: managers may only issue within their department", shared.ErrInvalidState)
		}
	}
	return nil
}

func checkSerials(rec Record, serials []string) error {
	if len(serials) == 0 {
		return nil
	}
	assigned := make(map[string]bool, len(rec.AssignedSerials))
	for _, sn := range rec.AssignedSerials {
		assigned[sn] = true
	}
	for _, sn := range rec.ReturnedSerials {
		assigned[sn] = false // already back
	}
	for _, sn := range serials {
		if !assigned[sn] {
			return shared.IntegrityError("serial %q not outstanding on record %d", sn, rec.ID)
		}
	}
	return nil
}
