package issuance

import (
	"sort"

	"github.com/gearledger/gearledger/internal/shared"
)

// Summary aggregates the custody figures for one (holder, item) pair as
// derived from the raw record history. All figures are recomputed on every
// call; nothing here mutates a record.
type Summary struct {
	TotalReceived         int64 `json:"total_received"`
	TotalIssuedDownstream int64 `json:"total_issued_downstream"`
	TotalReturned         int64 `json:"total_returned"`
	RemainingAtHolder     int64 `json:"remaining_at_holder"`
	OutstandingDownstream int64 `json:"outstanding_downstream"`
	AvailableToReissue    int64 `json:"available_to_reissue"`
}

// Reconcile derives the holder's aggregate figures from its record set.
//
// Policy: issuing downstream does not reduce the parent record's
// RemainingQuantity. RemainingAtHolder counts what the holder has not yet
// returned upstream; AvailableToReissue subtracts the downstream units
// still outstanding. Only a confirmed return releases downstream units:
// a record parked in pending_manager_return keeps its full quantity
// outstanding until the holder closes it, and units replaced or disposed
// downstream never flow back, so they reduce the reissuable balance
// permanently. On the received side, records resolved as replaced or
// disposed left the custody chain and contribute nothing to the holder's
// remaining units.
//
// An empty record set yields a zero Summary and no error.
func Reconcile(holderID int64, records []Record) (Summary, error) {
	var s Summary
	for _, rec := range records {
		if err := validateRecord(rec); err != nil {
			return Summary{}, err
		}
		consumed := rec.Status == StatusReplaced || rec.Status == StatusDisposed

		if rec.RecipientID == holderID {
			s.TotalReceived += rec.Quantity
			s.TotalReturned += rec.Quantity - rec.RemainingQuantity
			if !consumed {
				s.RemainingAtHolder += rec.RemainingQuantity
			}
		}
		if rec.IssuerID == holderID && rec.Level == LevelManagerToEmployee {
			s.TotalIssuedDownstream += rec.Quantity
			switch {
			case rec.Status == StatusPendingManagerReturn:
				// Returned by the employee, not yet confirmed: RemainingQuantity
				// is already zero but the units are still in transit.
				s.OutstandingDownstream += rec.Quantity
			case rec.Status != StatusReturned:
				s.OutstandingDownstream += rec.RemainingQuantity
			}
		}
	}
	s.AvailableToReissue = s.RemainingAtHolder - s.OutstandingDownstream
	return s, nil
}

// InferredReturn marks how much of one record a running return total consumed.
type InferredReturn struct {
	RecordID      int64 `json:"record_id"`
	Consumed      int64 `json:"consumed"`
	FullyReturned bool  `json:"fully_returned"`
}

// ReconciliationReport pairs the holder's summary with the oldest-first
// attribution of its returned total across the received records.
type ReconciliationReport struct {
	Summary Summary          `json:"summary"`
	Returns []InferredReturn `json:"returns"`
}

// InferReturns attributes an unlinked return total to the holder's received
// records by oldest-issued-first consumption. Ordering is by IssuedDate
// ascending with record ID as tie-break, so the marking is deterministic
// for identical inputs.
func InferReturns(records []Record, totalReturned int64) ([]InferredReturn, error) {
	if totalReturned < 0 {
		return nil, shared.IntegrityError("negative return total %d", totalReturned)
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].IssuedDate.Equal(sorted[j].IssuedDate) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].IssuedDate.Before(sorted[j].IssuedDate)
	})

	out := make([]InferredReturn, 0, len(sorted))
	counter := totalReturned
	for _, rec := range sorted {
		if err := validateRecord(rec); err != nil {
			return nil, err
		}
		consumed := counter
		if consumed > rec.Quantity {
			consumed = rec.Quantity
		}
		counter -= consumed
		out = append(out, InferredReturn{
			RecordID:      rec.ID,
			Consumed:      consumed,
			FullyReturned: consumed == rec.Quantity,
		})
	}
	return out, nil
}

func validateRecord(rec Record) error {
	if rec.Quantity <= 0 {
		return shared.IntegrityError("record %d has non-positive quantity %d", rec.ID, rec.Quantity)
	}
	if rec.RemainingQuantity < 0 || rec.RemainingQuantity > rec.Quantity {
		return shared.IntegrityError("record %d remaining %d outside [0,%d]", rec.ID, rec.RemainingQuantity, rec.Quantity)
	}
	if !rec.Level.IsValid() {
		return shared.IntegrityError("record %d has unknown level %q", rec.ID, rec.Level)
	}
	return nil
}
