package returns

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var (
	jeans = inventory.StockKey{LocationID: 1, ProductID: 10}
	shirt = inventory.StockKey{LocationID: 1, ProductID: 11}
)

type memoryRepo struct {
	stock   *inventory.MemoryStore
	mu      sync.Mutex
	returns map[int64]Return
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{stock: inventory.NewMemoryStore(), returns: make(map[int64]Return)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.stock.RunTx(ctx, func() func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		saved := make(map[int64]Return, len(r.returns))
		for k, v := range r.returns {
			saved[k] = clone(v)
		}
		nextID := r.nextID
		return func() {
			r.mu.Lock()
			r.returns, r.nextID = saved, nextID
			r.mu.Unlock()
		}
	}, func(ctx context.Context, stx inventory.TxRepository) error {
		return fn(ctx, &memoryTx{TxRepository: stx, repo: r})
	})
}

func (r *memoryRepo) GetReturn(_ context.Context, id int64) (Return, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret, ok := r.returns[id]
	if !ok {
		return Return{}, fmt.Errorf("%w: return %d", shared.ErrNotFound, id)
	}
	return clone(ret), nil
}

func (r *memoryRepo) ListReturns(_ context.Context, filter ListFilter) ([]Return, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Return
	for _, ret := range r.returns {
		if (filter.Status == "" || ret.Status == filter.Status) && (filter.Type == "" || ret.Type == filter.Type) {
			out = append(out, clone(ret))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

type memoryTx struct {
	inventory.TxRepository
	repo *memoryRepo
}

func (t *memoryTx) CreateReturn(_ context.Context, ret Return) (Return, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.nextID++
	ret.ID = t.repo.nextID
	for i := range ret.Items {
		ret.Items[i].ID = ret.ID*100 + int64(i+1)
	}
	for i := range ret.Replacements {
		ret.Replacements[i].ID = ret.ID*100 + 50 + int64(i+1)
	}
	t.repo.returns[ret.ID] = clone(ret)
	return ret, nil
}

func (t *memoryTx) GetReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	return t.repo.GetReturn(ctx, id)
}

func (t *memoryTx) UpdateReturnStatus(_ context.Context, c StatusChange) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	ret, ok := t.repo.returns[c.ID]
	if !ok || ret.Status != c.From {
		return ErrStaleStatus
	}
	c.apply(&ret)
	t.repo.returns[c.ID] = ret
	return nil
}

func (t *memoryTx) SaveRestock(_ context.Context, ret Return) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	stored := t.repo.returns[ret.ID]
	stored.ReturnedToStock = ret.ReturnedToStock
	stored.Items = append([]Item(nil), ret.Items...)
	t.repo.returns[ret.ID] = stored
	return nil
}

func clone(r Return) Return {
	r.Items = append([]Item(nil), r.Items...)
	r.Replacements = append([]Replacement(nil), r.Replacements...)
	return r
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *events.Memory) {
	t.Helper()
	directory := masterdata.NewDirectory(masterdata.NewMemoryRepository().
		AddLocation(masterdata.Location{ID: 1, Code: "ST-01", Type: masterdata.LocationStore}).
		AddProduct(masterdata.Product{ID: 10, SKU: "JEANS"}).
		AddProduct(masterdata.Product{ID: 11, SKU: "SHIRT"}), nil, 0, nil)
	repo := newMemoryRepo()
	sink := events.NewMemory()
	return NewService(repo, inventory.NewLedger(nil), directory, Options{Sink: sink}), repo, sink
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func usedAndDefective() CreateInput {
	return CreateInput{
		Type:       TypeReturn,
		LocationID: 1,
		Reason:     "wrong size",
		Items: []ItemInput{
			{ProductID: 10, Quantity: 2, UnitPrice: price("30"), Condition: ConditionUsed},
			{ProductID: 11, Quantity: 1, UnitPrice: price("15.5"), Condition: ConditionDefective},
		},
		RefundMethod: RefundCard,
	}
}

func approved(t *testing.T, svc *Service, in CreateInput) Return {
	t.Helper()
	ret, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	ret, err = svc.Approve(context.Background(), ret.ID, 9, "")
	require.NoError(t, err)
	return ret
}

func TestCreateDefaultsRefund(t *testing.T) {
	svc, _, _ := newTestService(t)
	ret, err := svc.Create(context.Background(), usedAndDefective())
	require.NoError(t, err)
	require.Equal(t, StatusPending, ret.Status)
	require.True(t, price("75.5").Equal(ret.RefundAmount), ret.RefundAmount.String())

	in := usedAndDefective()
	override := price("10")
	in.RefundAmount = &override
	ret, err = svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.True(t, override.Equal(ret.RefundAmount))
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	negative := price("-1")
	cases := map[string]func(*CreateInput){
		"no items":             func(in *CreateInput) { in.Items = nil },
		"zero quantity":        func(in *CreateInput) { in.Items[0].Quantity = 0 },
		"negative price":       func(in *CreateInput) { in.Items[0].UnitPrice = negative },
		"unknown condition":    func(in *CreateInput) { in.Items[0].Condition = "WORN" },
		"negative refund":      func(in *CreateInput) { in.RefundAmount = &negative },
		"unknown method":       func(in *CreateInput) { in.RefundMethod = "CHEQUE" },
		"unknown type":         func(in *CreateInput) { in.Type = "SWAP" },
		"return with swap":     func(in *CreateInput) { in.Replacements = []ReplacementInput{{ProductID: 10, Quantity: 1}} },
		"exchange without one": func(in *CreateInput) { in.Type = TypeExchange },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := usedAndDefective()
			mutate(&in)
			_, err := svc.Create(context.Background(), in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestProcessRestocksOnlySellableItems(t *testing.T) {
	svc, repo, sink := newTestService(t)
	ret := approved(t, svc, usedAndDefective())

	ret, err := svc.Process(context.Background(), ret.ID, 9, true)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, ret.Status)
	require.True(t, ret.ReturnedToStock)
	require.True(t, ret.Items[0].Restocked)
	require.False(t, ret.Items[1].Restocked)

	stock := repo.stock.AllStock()
	require.Equal(t, int64(2), stock[jeans].Quantity)
	require.Zero(t, stock[shirt].Quantity)

	entries := repo.stock.AllEntries()
	require.Len(t, entries, 1)
	require.Equal(t, inventory.ReasonReturn, entries[0].Reason)
	require.Equal(t, inventory.Reference{Type: inventory.RefReturn, ID: ret.ID}, entries[0].Reference)
	require.Len(t, sink.OfType(events.TypeLedgerCommitted), 1)

	_, err = svc.Process(context.Background(), ret.ID, 9, true)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Len(t, repo.stock.AllEntries(), 1)
}

func TestProcessWithoutRestock(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ret := approved(t, svc, usedAndDefective())

	ret, err := svc.Process(context.Background(), ret.ID, 9, false)
	require.NoError(t, err)
	require.False(t, ret.ReturnedToStock)
	require.Empty(t, repo.stock.AllEntries())
}

func TestExchangeTakesReplacementOut(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.stock.Seed(shirt, 3)
	in := CreateInput{
		Type:         TypeExchange,
		LocationID:   1,
		Reason:       "size swap",
		Items:        []ItemInput{{ProductID: 10, Quantity: 1, UnitPrice: price("30"), Condition: ConditionNew}},
		Replacements: []ReplacementInput{{ProductID: 11, Quantity: 2}},
	}
	ret := approved(t, svc, in)

	_, err := svc.Process(context.Background(), ret.ID, 9, true)
	require.NoError(t, err)
	stock := repo.stock.AllStock()
	require.Equal(t, int64(1), stock[jeans].Quantity)
	require.Equal(t, int64(1), stock[shirt].Quantity)

	entries := repo.stock.AllEntries()
	require.Len(t, entries, 3)
	require.Equal(t, inventory.ReasonExchange, entries[2].Reason)
	require.Equal(t, inventory.MovementOut, entries[2].Movement)
}

func TestExchangeWithoutReplacementStockRollsBack(t *testing.T) {
	svc, repo, _ := newTestService(t)
	in := CreateInput{
		Type:         TypeExchange,
		LocationID:   1,
		Reason:       "size swap",
		Items:        []ItemInput{{ProductID: 10, Quantity: 1, UnitPrice: price("30"), Condition: ConditionNew}},
		Replacements: []ReplacementInput{{ProductID: 11, Quantity: 1}},
	}
	ret := approved(t, svc, in)

	_, err := svc.Process(context.Background(), ret.ID, 9, true)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Empty(t, repo.stock.AllEntries())
	require.Empty(t, repo.stock.AllStock())

	got, err := svc.Get(context.Background(), ret.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.False(t, got.Items[0].Restocked)
}

func TestRejectOnlyFromPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ret, err := svc.Create(context.Background(), usedAndDefective())
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), ret.ID, 9, true)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	ret, err = svc.Reject(context.Background(), ret.ID, 9, "outside window")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, ret.Status)
	require.Equal(t, "outside window", ret.RejectReason)
	require.True(t, ret.Status.Terminal())

	_, err = svc.Approve(context.Background(), ret.ID, 9, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	list, page, err := svc.List(context.Background(), ListFilter{Status: StatusRejected})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, page.Total)
}
