package inventory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *MemoryStore) {
	t.Helper()
	svc, store, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r, store
}

func TestHandlerGetStock(t *testing.T) {
	router, store := newTestRouter(t)
	store.Seed(keyA, 9)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stock?location_id=1&product_id=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Quantity  int64 `json:"quantity"`
		Available int64 `json:"available"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(9), body.Quantity)
	require.Equal(t, int64(9), body.Available)
}

func TestHandlerAdjustmentRejectsOverdraw(t *testing.T) {
	router, store := newTestRouter(t)
	store.Seed(keyA, 1)

	req := httptest.NewRequest(http.MethodPost, "/adjustments", strings.NewReader(`{"location_id":1,"product_id":10,"quantity":-5,"reason":"DAMAGE"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, shared.KindInsufficientStock, problem.Kind)
}

func TestHandlerCount(t *testing.T) {
	router, store := newTestRouter(t)
	store.Seed(keyA, 3)

	req := httptest.NewRequest(http.MethodPost, "/counts", strings.NewReader(`{"location_id":1,"product_id":10,"counted":7}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"recorded":true`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify?location_id=1&product_id=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestHandlerValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/adjustments", strings.NewReader(`{"product_id":10,"quantity":2}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entries?location_id=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
