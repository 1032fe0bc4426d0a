package issuance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gearledger/gearledger/internal/shared"
)

func day(n int) time.Time {
	return time.Date(2026, 3, n, 0, 0, 0, 0, time.UTC)
}

func TestReconcileDerivesHolderFigures(t *testing.T) {
	const manager = int64(10)
	records := []Record{
		{ID: 1, ItemID: 1, IssuerID: 1, RecipientID: manager, Level: LevelAdminToManager,
			Quantity: 20, RemainingQuantity: 20, Status: StatusIssued, IssuedDate: day(1)},
		{ID: 2, ItemID: 1, IssuerID: manager, RecipientID: 30, Level: LevelManagerToEmployee,
			Quantity: 5, RemainingQuantity: 5, Status: StatusIssued, IssuedDate: day(2)},
		{ID: 3, ItemID: 1, IssuerID: manager, RecipientID: 31, Level: LevelManagerToEmployee,
			Quantity: 3, RemainingQuantity: 0, Status: StatusReturned, IssuedDate: day(3)},
	}

	summary, err := Reconcile(manager, records)
	require.NoError(t, err)
	require.Equal(t, int64(20), summary.TotalReceived)
	require.Equal(t, int64(8), summary.TotalIssuedDownstream)
	require.Equal(t, int64(20), summary.RemainingAtHolder)
	require.Equal(t, int64(5), summary.OutstandingDownstream)
	require.Equal(t, int64(15), summary.AvailableToReissue)
}

func TestReconcileIsIdempotent(t *testing.T) {
	const manager = int64(10)
	records := []Record{
		{ID: 1, IssuerID: 1, RecipientID: manager, Level: LevelAdminToManager,
			Quantity: 12, RemainingQuantity: 7, Status: StatusIssued, IssuedDate: day(1)},
		{ID: 2, IssuerID: manager, RecipientID: 30, Level: LevelManagerToEmployee,
			Quantity: 4, RemainingQuantity: 4, Status: StatusIssued, IssuedDate: day(2)},
	}

	first, err := Reconcile(manager, records)
	require.NoError(t, err)
	second, err := Reconcile(manager, records)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestReconcileHoldsUnconfirmedEmployeeReturns(t *testing.T) {
	const manager = int64(10)
	records := []Record{
		{ID: 1, IssuerID: 1, RecipientID: manager, Level: LevelAdminToManager,
			Quantity: 20, RemainingQuantity: 20, Status: StatusIssued, IssuedDate: day(1)},
		{ID: 2, IssuerID: manager, RecipientID: 30, Level: LevelManagerToEmployee,
			Quantity: 5, RemainingQuantity: 0, Status: StatusPendingManagerReturn, IssuedDate: day(2)},
	}

	// The employee handed everything back but the manager has not confirmed;
	// the five units stay outstanding until the record closes.
	summary, err := Reconcile(manager, records)
	require.NoError(t, err)
	require.Equal(t, int64(5), summary.OutstandingDownstream)
	require.Equal(t, int64(15), summary.AvailableToReissue)
}

func TestReconcileCountsDestroyedDownstreamUnits(t *testing.T) {
	const manager = int64(10)
	records := []Record{
		{ID: 1, IssuerID: 1, RecipientID: manager, Level: LevelAdminToManager,
			Quantity: 10, RemainingQuantity: 10, Status: StatusIssued, IssuedDate: day(1)},
		{ID: 2, IssuerID: manager, RecipientID: 30, Level: LevelManagerToEmployee,
			Quantity: 6, RemainingQuantity: 6, Status: StatusDisposed, IssuedDate: day(2)},
	}

	// Disposed downstream units never come back; they permanently reduce
	// what the manager may reissue or return upstream.
	summary, err := Reconcile(manager, records)
	require.NoError(t, err)
	require.Equal(t, int64(10), summary.RemainingAtHolder)
	require.Equal(t, int64(6), summary.OutstandingDownstream)
	require.Equal(t, int64(4), summary.AvailableToReissue)
}

func TestReconcileEmptyHistory(t *testing.T) {
	summary, err := Reconcile(10, nil)
	require.NoError(t, err)
	require.Equal(t, Summary{}, summary)
}

func TestReconcileSkipsConsumedRecords(t *testing.T) {
	const manager = int64(10)
	records := []Record{
		{ID: 1, IssuerID: 1, RecipientID: manager, Level: LevelAdminToManager,
			Quantity: 10, RemainingQuantity: 10, Status: StatusDisposed, IssuedDate: day(1)},
		{ID: 2, IssuerID: 1, RecipientID: manager, Level: LevelAdminToManager,
			Quantity: 6, RemainingQuantity: 6, Status: StatusIssued, IssuedDate: day(2)},
	}

	summary, err := Reconcile(manager, records)
	require.NoError(t, err)
	require.Equal(t, int64(16), summary.TotalReceived)
	require.Equal(t, int64(6), summary.RemainingAtHolder)
	require.Equal(t, int64(6), summary.AvailableToReissue)
}

func TestReconcileRejectsCorruptRecords(t *testing.T) {
	cases := map[string]Record{
		"non-positive quantity": {ID: 1, RecipientID: 10, Level: LevelAdminToManager,
			Quantity: 0, RemainingQuantity: 0, Status: StatusIssued},
		"remaining exceeds quantity": {ID: 2, RecipientID: 10, Level: LevelAdminToManager,
			Quantity: 5, RemainingQuantity: 6, Status: StatusIssued},
		"negative remaining": {ID: 3, RecipientID: 10, Level: LevelAdminToManager,
			Quantity: 5, RemainingQuantity: -1, Status: StatusIssued},
		"unknown level": {ID: 4, RecipientID: 10, Level: "sideways",
			Quantity: 5, RemainingQuantity: 5, Status: StatusIssued},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Reconcile(10, []Record{rec})
			require.ErrorIs(t, err, shared.ErrDataIntegrity)
		})
	}
}

func TestInferReturnsConsumesOldestFirst(t *testing.T) {
	records := []Record{
		{ID: 2, Quantity: 3, RemainingQuantity: 3, Level: LevelAdminToManager, Status: StatusIssued, IssuedDate: day(2)},
		{ID: 1, Quantity: 5, RemainingQuantity: 5, Level: LevelAdminToManager, Status: StatusIssued, IssuedDate: day(1)},
	}

	inferred, err := InferReturns(records, 6)
	require.NoError(t, err)
	require.Len(t, inferred, 2)

	require.Equal(t, int64(1), inferred[0].RecordID)
	require.Equal(t, int64(5), inferred[0].Consumed)
	require.True(t, inferred[0].FullyReturned)

	require.Equal(t, int64(2), inferred[1].RecordID)
	require.Equal(t, int64(1), inferred[1].Consumed)
	require.False(t, inferred[1].FullyReturned)
}

func TestInferReturnsTieBreaksOnID(t *testing.T) {
	same := day(5)
	records := []Record{
		{ID: 9, Quantity: 4, RemainingQuantity: 4, Level: LevelAdminToManager, Status: StatusIssued, IssuedDate: same},
		{ID: 3, Quantity: 4, RemainingQuantity: 4, Level: LevelAdminToManager, Status: StatusIssued, IssuedDate: same},
	}

	first, err := InferReturns(records, 4)
	require.NoError(t, err)
	second, err := InferReturns(records, 4)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Equal(t, int64(3), first[0].RecordID)
	require.True(t, first[0].FullyReturned)
	require.Equal(t, int64(0), first[1].Consumed)
}

func TestInferReturnsRejectsNegativeTotal(t *testing.T) {
	_, err := InferReturns(nil, -1)
	require.ErrorIs(t, err, shared.ErrDataIntegrity)
}
