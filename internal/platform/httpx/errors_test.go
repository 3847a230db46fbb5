package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   shared.Kind
	}{
		{fmt.Errorf("%w: transfer 3", shared.ErrNotFound), http.StatusNotFound, shared.KindNotFound},
		{fmt.Errorf("%w: cannot ship from PENDING", shared.ErrInvalidTransition), http.StatusConflict, shared.KindInvalidTransition},
		{shared.ErrInsufficientStock, http.StatusUnprocessableEntity, shared.KindInsufficientStock},
		{shared.ErrInvalidTransfer, http.StatusBadRequest, shared.KindInvalidTransfer},
		{shared.ErrConcurrentModification, http.StatusConflict, shared.KindConcurrentModification},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code)
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.kind, body.Kind)
		require.Equal(t, tc.status, body.Status)
	}
}

func TestRespondErrorMasksUnknown(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("dial tcp: refused"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "refused")
}
