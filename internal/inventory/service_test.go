package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var (
	keyA = StockKey{LocationID: 1, ProductID: 10}
	keyB = StockKey{LocationID: 2, ProductID: 10}
)

func newDirectory() *masterdata.Directory {
	repo := masterdata.NewMemoryRepository().
		AddLocation(masterdata.Location{ID: 1, Code: "ST-01", Type: masterdata.LocationStore}).
		AddLocation(masterdata.Location{ID: 2, Code: "WH-01", Type: masterdata.LocationWarehouse}).
		AddProduct(masterdata.Product{ID: 10, SKU: "JEANS"})
	return masterdata.NewDirectory(repo, nil, 0, nil)
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *events.Memory) {
	t.Helper()
	store := NewMemoryStore()
	sink := events.NewMemory()
	return NewService(store, NewLedger(nil), newDirectory(), sink, nil, nil), store, sink
}

func commit(t *testing.T, store *MemoryStore, in CommitInput) (LedgerEntry, error) {
	t.Helper()
	var entry LedgerEntry
	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = NewLedger(nil).Commit(ctx, tx, in)
		return err
	})
	return entry, err
}

func in(key StockKey, qty int64) CommitInput {
	return CommitInput{Key: key, Movement: MovementIn, Reason: ReasonPurchase, Quantity: qty, Reference: Reference{Type: RefPurchaseOrder, ID: 1}}
}

func out(key StockKey, qty int64) CommitInput {
	return CommitInput{Key: key, Movement: MovementOut, Reason: ReasonTransferOut, Quantity: qty, Reference: Reference{Type: RefTransfer, ID: 1}}
}

func TestCommitRecordsPreviousAndNewQuantity(t *testing.T) {
	_, store, _ := newTestService(t)

	entry, err := commit(t, store, in(keyA, 12))
	require.NoError(t, err)
	require.Equal(t, int64(0), entry.PreviousQuantity)
	require.Equal(t, int64(12), entry.NewQuantity)
	require.NotZero(t, entry.ID)

	entry, err = commit(t, store, out(keyA, 5))
	require.NoError(t, err)
	require.Equal(t, int64(12), entry.PreviousQuantity)
	require.Equal(t, int64(7), entry.NewQuantity)
	require.Equal(t, int64(-5), entry.Delta())
}

func TestCommitRejectsNegativeStock(t *testing.T) {
	_, store, _ := newTestService(t)
	store.Seed(keyA, 3)

	_, err := commit(t, store, out(keyA, 4))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = commit(t, store, CommitInput{Key: keyA, Movement: MovementAdjustment, Reason: ReasonDamage, Quantity: -4, Reference: Reference{Type: RefManual}})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	stock, err := store.GetStock(context.Background(), keyA)
	require.NoError(t, err)
	require.Equal(t, int64(3), stock.Quantity)
	require.Len(t, store.AllEntries(), 1)
}

func TestCommitValidation(t *testing.T) {
	_, store, _ := newTestService(t)
	cases := []CommitInput{
		{Key: keyA, Movement: MovementIn, Reason: ReasonPurchase, Quantity: 0, Reference: Reference{Type: RefManual}},
		{Key: keyA, Movement: MovementOut, Reason: ReasonPurchase, Quantity: -2, Reference: Reference{Type: RefManual}},
		{Key: keyA, Movement: MovementAdjustment, Reason: ReasonCount, Quantity: 0, Reference: Reference{Type: RefManual}},
		{Key: keyA, Movement: "SIDEWAYS", Reason: ReasonPurchase, Quantity: 1, Reference: Reference{Type: RefManual}},
		{Key: keyA, Movement: MovementIn, Reason: "GIFT", Quantity: 1, Reference: Reference{Type: RefManual}},
		{Key: StockKey{ProductID: 10}, Movement: MovementIn, Reason: ReasonPurchase, Quantity: 1, Reference: Reference{Type: RefManual}},
	}
	for _, c := range cases {
		_, err := commit(t, store, c)
		require.ErrorIs(t, err, shared.ErrValidation, "%+v", c)
	}
	require.Empty(t, store.AllEntries())
}

func TestReservationsGuardAvailable(t *testing.T) {
	ledger := NewLedger(nil)
	store := NewMemoryStore()
	store.Seed(keyA, 10)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Reserve(ctx, tx, keyA, 8)
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Reserve(ctx, tx, keyA, 3)
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientAvailable)

	_, err = commit(t, store, out(keyA, 3))
	require.ErrorIs(t, err, shared.ErrInsufficientAvailable)

	_, err = commit(t, store, out(keyA, 2))
	require.NoError(t, err)

	err = store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := ledger.Release(ctx, tx, keyA, 20)
		require.Equal(t, int64(0), stock.Reserved)
		return err
	})
	require.NoError(t, err)
	stock, _ := store.GetStock(ctx, keyA)
	require.Equal(t, int64(8), stock.Quantity)
	require.Equal(t, int64(8), stock.Available())
}

func TestCountIsAuthoritativeAndClampsReservation(t *testing.T) {
	svc, store, sink := newTestService(t)
	ctx := context.Background()
	store.Seed(keyA, 10)
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.ledger.Reserve(ctx, tx, keyA, 6)
		return err
	}))

	entry, recorded, err := svc.Count(ctx, CountInput{Key: keyA, Counted: 4, ActorID: 7})
	require.NoError(t, err)
	require.True(t, recorded)
	require.True(t, entry.Authoritative)
	require.Equal(t, MovementAdjustment, entry.Movement)
	require.Equal(t, ReasonCount, entry.Reason)
	require.Equal(t, int64(-6), entry.Quantity)
	require.Contains(t, entry.Note, "reservation clamped")

	stock, err := svc.Get(ctx, keyA)
	require.NoError(t, err)
	require.Equal(t, int64(4), stock.Quantity)
	require.Equal(t, int64(4), stock.Reserved)

	_, recorded, err = svc.Count(ctx, CountInput{Key: keyA, Counted: 4})
	require.NoError(t, err)
	require.False(t, recorded)
	require.Len(t, sink.OfType(events.TypeLedgerCommitted), 1)

	_, _, err = svc.Count(ctx, CountInput{Key: keyA, Counted: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustUsesManualReference(t *testing.T) {
	svc, store, sink := newTestService(t)
	ctx := context.Background()
	store.Seed(keyA, 5)

	entry, err := svc.Adjust(ctx, AdjustInput{Key: keyA, Quantity: -2, Reason: ReasonDamage, Note: "water damage"})
	require.NoError(t, err)
	require.Equal(t, RefManual, entry.Reference.Type)
	require.Equal(t, int64(3), entry.NewQuantity)
	require.Len(t, sink.Events(), 1)

	_, err = svc.Adjust(ctx, AdjustInput{Key: keyA, Quantity: 1, Reason: ReasonPurchase})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Adjust(ctx, AdjustInput{Key: StockKey{LocationID: 99, ProductID: 10}, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetMissingRowIsZero(t *testing.T) {
	svc, _, _ := newTestService(t)
	stock, err := svc.Get(context.Background(), StockKey{LocationID: 2, ProductID: 10, VariantID: 4})
	require.NoError(t, err)
	require.Zero(t, stock.Quantity)
	require.Zero(t, stock.Available())
	require.Equal(t, int64(4), stock.VariantID)
}

func TestProductStockIsComputed(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.Seed(keyA, 4)
	store.Seed(keyB, 6)
	store.Seed(StockKey{LocationID: 2, ProductID: 11}, 100)

	agg, err := svc.ProductStock(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), agg.Quantity)
	require.Equal(t, int64(10), agg.Available)
	require.Len(t, agg.Locations, 2)
}

func TestSetThresholds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	stock, err := svc.SetThresholds(ctx, keyA, 5, 50)
	require.NoError(t, err)
	require.True(t, stock.BelowMin())

	_, err = svc.SetThresholds(ctx, keyA, 10, 5)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFailedTransactionRollsBackEveryRow(t *testing.T) {
	_, store, _ := newTestService(t)
	store.Seed(keyA, 10)
	store.FailEntryAfter(1, errors.New("disk full"))
	ledger := NewLedger(nil)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		if _, err := ledger.Commit(ctx, tx, out(keyA, 4)); err != nil {
			return err
		}
		_, err := ledger.Commit(ctx, tx, in(keyB, 4))
		return err
	})
	require.Error(t, err)

	stock := store.AllStock()
	require.Equal(t, int64(10), stock[keyA].Quantity)
	_, ok := stock[keyB]
	require.False(t, ok)
	require.Len(t, store.AllEntries(), 1)
}

func TestConcurrentOutboundNeverOversells(t *testing.T) {
	_, store, _ := newTestService(t)
	store.Seed(keyA, 20)

	var wg sync.WaitGroup
	results := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := commit(t, store, out(keyA, 1))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInsufficientStock)
	}
	require.Equal(t, 20, succeeded)
	stock, _ := store.GetStock(context.Background(), keyA)
	require.Zero(t, stock.Quantity)
}

func TestVerifyReplaysLedger(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	store.Seed(keyA, 8)
	_, err := commit(t, store, out(keyA, 3))
	require.NoError(t, err)
	_, err = commit(t, store, in(keyA, 10))
	require.NoError(t, err)
	_, _, err = svc.Count(ctx, CountInput{Key: keyA, Counted: 11})
	require.NoError(t, err)

	result, err := svc.Verify(ctx, keyA)
	require.NoError(t, err)
	require.True(t, result.OK(), "%+v", result)
	require.Equal(t, int64(11), result.Replayed)
	require.Equal(t, 4, result.Entries)

	replayed := Replay(store.AllEntries())
	for key, row := range store.AllStock() {
		require.Equal(t, row.Quantity, replayed[key])
	}
}

func TestLockSortsKeys(t *testing.T) {
	var order []StockKey
	tx := &recordingTx{seen: &order}
	require.NoError(t, NewLedger(nil).Lock(context.Background(), tx, keyB, keyA, keyB, StockKey{LocationID: 1, ProductID: 3}))
	require.Equal(t, []StockKey{{LocationID: 1, ProductID: 3}, keyA, keyB}, order)
}

type recordingTx struct {
	seen *[]StockKey
}

func (r *recordingTx) GetStockForUpdate(_ context.Context, key StockKey) (LocationStock, error) {
	*r.seen = append(*r.seen, key)
	return LocationStock{StockKey: key}, nil
}

func (r *recordingTx) UpsertStock(context.Context, LocationStock) error { return nil }

func (r *recordingTx) InsertEntry(_ context.Context, e LedgerEntry) (LedgerEntry, error) {
	return e, nil
}
