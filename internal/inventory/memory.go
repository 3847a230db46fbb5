package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process RepositoryPort. Transactions are serialized by a
// single mutex and every write made inside a failed transaction is undone, so
// it honours the same atomicity the PostgreSQL repository gives.
type MemoryStore struct {
	mu        sync.Mutex
	stock     map[StockKey]LocationStock
	entries   []LedgerEntry
	nextID    int64
	failAfter int
	failErr   error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stock: make(map[StockKey]LocationStock)}
}

// Snapshot captures extra state owned by an embedding repository and returns
// the function restoring it.
type Snapshot func() (restore func())

// RunTx runs fn while holding the store lock. When fn fails the stock rows,
// ledger and whatever snapshot captured are rolled back.
func (m *MemoryStore) RunTx(ctx context.Context, snapshot Snapshot, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	restoreStock := m.snapshot()
	restoreExtra := func() {}
	if snapshot != nil {
		restoreExtra = snapshot()
	}
	if err := fn(ctx, memoryTx{m}); err != nil {
		restoreStock()
		restoreExtra()
		return err
	}
	return nil
}

// WithTx implements RepositoryPort.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.RunTx(ctx, nil, fn)
}

// FailEntryAfter makes the (n+1)-th following InsertEntry fail with err.
func (m *MemoryStore) FailEntryAfter(n int, err error) {
	m.mu.Lock()
	m.failAfter = n
	m.failErr = err
	m.mu.Unlock()
}

// Seed books qty units of opening stock at key as an IN/CORRECTION entry, going
// around the ledger's validation only for setup convenience.
func (m *MemoryStore) Seed(key StockKey, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stock[key]
	s.StockKey = key
	prev := s.Quantity
	s.Quantity += qty
	s.UpdatedAt = time.Now().UTC()
	m.stock[key] = s
	m.nextID++
	m.entries = append(m.entries, LedgerEntry{
		ID: m.nextID, StockKey: key, Movement: MovementIn, Reason: ReasonCorrection, Quantity: qty,
		PreviousQuantity: prev, NewQuantity: s.Quantity, Reference: Reference{Type: RefManual},
		Note: "opening balance", CreatedAt: s.UpdatedAt,
	})
}

// AllEntries returns the full ledger in commit order.
func (m *MemoryStore) AllEntries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// AllStock returns every stock row.
func (m *MemoryStore) AllStock() map[StockKey]LocationStock {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[StockKey]LocationStock, len(m.stock))
	for k, v := range m.stock {
		out[k] = v
	}
	return out
}

func (m *MemoryStore) GetStock(_ context.Context, key StockKey) (LocationStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stock[key]
	if !ok {
		return LocationStock{StockKey: key}, nil
	}
	return s, nil
}

func (m *MemoryStore) ListProductStock(_ context.Context, productID int64) ([]LocationStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LocationStock
	for _, s := range m.stock {
		if s.ProductID == productID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockKey.Less(out[j].StockKey) })
	return out, nil
}

func (m *MemoryStore) ListEntries(_ context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.entries {
		if e.StockKey != filter.Key {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListKeys(_ context.Context, after StockKey, limit int) ([]StockKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]StockKey, 0, len(m.stock))
	for k := range m.stock {
		if after.Less(k) {
			keys = append(keys, k)
		}
	}
	keys = SortKeys(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *MemoryStore) snapshot() func() {
	stock := make(map[StockKey]LocationStock, len(m.stock))
	for k, v := range m.stock {
		stock[k] = v
	}
	entries := len(m.entries)
	nextID := m.nextID
	return func() {
		m.stock = stock
		m.entries = m.entries[:entries]
		m.nextID = nextID
	}
}

// memoryTx is only used while MemoryStore.mu is held.
type memoryTx struct {
	m *MemoryStore
}

func (t memoryTx) GetStockForUpdate(_ context.Context, key StockKey) (LocationStock, error) {
	s, ok := t.m.stock[key]
	if !ok {
		return LocationStock{StockKey: key}, nil
	}
	return s, nil
}

func (t memoryTx) UpsertStock(_ context.Context, s LocationStock) error {
	if s.Quantity < 0 || s.Reserved < 0 || s.Reserved > s.Quantity {
		return errors.New("inventory: memory store: row violates stock constraints")
	}
	t.m.stock[s.StockKey] = s
	return nil
}

func (t memoryTx) InsertEntry(_ context.Context, e LedgerEntry) (LedgerEntry, error) {
	if t.m.failErr != nil {
		if t.m.failAfter == 0 {
			err := t.m.failErr
			t.m.failErr = nil
			return LedgerEntry{}, err
		}
		t.m.failAfter--
	}
	t.m.nextID++
	e.ID = t.m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.m.entries = append(t.m.entries, e)
	return e, nil
}
