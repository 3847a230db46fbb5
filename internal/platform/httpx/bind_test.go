package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type sampleRequest struct {
	LocationID int64 `json:"location_id" validate:"required,gt=0"`
	Quantity   int64 `json:"quantity" validate:"required"`
}

func TestBindValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"location_id":3,"quantity":2}`))
	var dst sampleRequest
	require.NoError(t, Bind(req, &dst))
	require.Equal(t, int64(3), dst.LocationID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":2}`))
	err := Bind(req, &sampleRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "LocationID")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"location_id":1,"bogus":true}`))
	require.ErrorIs(t, Bind(req, &sampleRequest{}), ErrMalformedBody)
}

func TestQueryInt64(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?id=12&bad=x", nil)
	v, err := QueryInt64(req, "id")
	require.NoError(t, err)
	require.Equal(t, int64(12), v)
	v, err = QueryInt64(req, "missing")
	require.NoError(t, err)
	require.Zero(t, v)
	_, err = QueryInt64(req, "bad")
	require.ErrorIs(t, err, shared.ErrValidation)
}

type noteRequest struct {
	Note string `json:"note" validate:"max=5"`
}

func TestBindOptional(t *testing.T) {
	var dst noteRequest
	require.NoError(t, BindOptional(httptest.NewRequest(http.MethodPost, "/", nil), &dst))
	require.Empty(t, dst.Note)

	require.NoError(t, BindOptional(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"ok"}`)), &dst))
	require.Equal(t, "ok", dst.Note)

	err := BindOptional(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"too long"}`)), &dst)
	require.ErrorIs(t, err, shared.ErrValidation)
}
