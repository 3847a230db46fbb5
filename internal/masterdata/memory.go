package masterdata

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is a seeded in-process directory used by tests and local
// demos.
type MemoryRepository struct {
	mu        sync.RWMutex
	products  map[int64]Product
	variants  map[int64]Variant
	locations map[int64]Location
	suppliers map[int64]Supplier
	calls     int
}

// NewMemoryRepository returns an empty directory.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products:  map[int64]Product{},
		variants:  map[int64]Variant{},
		locations: map[int64]Location{},
		suppliers: map[int64]Supplier{},
	}
}

func (m *MemoryRepository) AddProduct(p Product) *MemoryRepository {
	m.mu.Lock()
	m.products[p.ID] = p
	m.mu.Unlock()
	return m
}

func (m *MemoryRepository) AddVariant(v Variant) *MemoryRepository {
	m.mu.Lock()
	m.variants[v.ID] = v
	m.mu.Unlock()
	return m
}

func (m *MemoryRepository) AddLocation(l Location) *MemoryRepository {
	m.mu.Lock()
	m.locations[l.ID] = l
	m.mu.Unlock()
	return m
}

func (m *MemoryRepository) AddSupplier(s Supplier) *MemoryRepository {
	m.mu.Lock()
	m.suppliers[s.ID] = s
	m.mu.Unlock()
	return m
}

// Calls reports how many lookups reached the repository.
func (m *MemoryRepository) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MemoryRepository) GetProduct(_ context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	p, ok := m.products[id]
	if !ok {
		return Product{}, notFound("product", id)
	}
	return p, nil
}

func (m *MemoryRepository) GetVariant(_ context.Context, id int64) (Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	v, ok := m.variants[id]
	if !ok {
		return Variant{}, notFound("variant", id)
	}
	return v, nil
}

func (m *MemoryRepository) GetLocation(_ context.Context, id int64) (Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	l, ok := m.locations[id]
	if !ok {
		return Location{}, notFound("location", id)
	}
	return l, nil
}

func (m *MemoryRepository) GetSupplier(_ context.Context, id int64) (Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	s, ok := m.suppliers[id]
	if !ok {
		return Supplier{}, notFound("supplier", id)
	}
	return s, nil
}

func (m *MemoryRepository) ListLocations(context.Context) ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := make([]Location, 0, len(m.locations))
	for _, l := range m.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
