package masterdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func seeded() *MemoryRepository {
	return NewMemoryRepository().
		AddProduct(Product{ID: 1, SKU: "TSHIRT", Name: "T-Shirt", UnitOfMeasure: "pcs"}).
		AddVariant(Variant{ID: 11, ProductID: 1, SKU: "TSHIRT-M"}).
		AddVariant(Variant{ID: 21, ProductID: 2, SKU: "CAP-L"}).
		AddLocation(Location{ID: 5, Code: "WH-01", Name: "Main warehouse", Type: LocationWarehouse}).
		AddSupplier(Supplier{ID: 9, Code: "SUP", Name: "Acme"})
}

func redisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDirectoryReadsThroughCache(t *testing.T) {
	repo := seeded()
	mr, client := redisClient(t)
	dir := NewDirectory(repo, client, time.Minute, nil)
	ctx := context.Background()

	p, err := dir.Product(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "TSHIRT", p.SKU)
	require.True(t, mr.Exists("masterdata:product:1"))

	_, err = dir.Product(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.Calls())

	require.NoError(t, dir.Invalidate(ctx, "product", 1))
	_, err = dir.Product(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, repo.Calls())
}

func TestDirectoryNotFoundIsNotCached(t *testing.T) {
	repo := seeded()
	mr, client := redisClient(t)
	dir := NewDirectory(repo, client, time.Minute, nil)

	_, err := dir.Location(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.False(t, mr.Exists("masterdata:location:404"))

	_, err = dir.Supplier(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDirectoryWithoutCache(t *testing.T) {
	dir := NewDirectory(seeded(), nil, 0, nil)
	var wg sync.WaitGroup
	results := make([]Location, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = dir.Location(context.Background(), 5)
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, LocationWarehouse, results[i].Type)
	}
}

func TestResolveItem(t *testing.T) {
	dir := NewDirectory(seeded(), nil, 0, nil)
	ctx := context.Background()
	require.NoError(t, ResolveItem(ctx, dir, 1, 0))
	require.NoError(t, ResolveItem(ctx, dir, 1, 11))
	require.ErrorIs(t, ResolveItem(ctx, dir, 1, 21), shared.ErrValidation)
	require.ErrorIs(t, ResolveItem(ctx, dir, 3, 0), shared.ErrNotFound)
}

func TestHandlerLookups(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, NewDirectory(seeded(), nil, 0, nil)).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/locations/5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"WH-01"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/77", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/suppliers/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
