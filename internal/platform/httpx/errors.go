// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ErrMalformedBody marks a request body that could not be decoded.
var ErrMalformedBody = errors.New("malformed request body")

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind shared.Kind) int {
	switch kind {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation, shared.KindInvalidTransfer:
		return http.StatusBadRequest
	case shared.KindInvalidTransition, shared.KindConcurrentModification:
		return http.StatusConflict
	case shared.KindInsufficientStock, shared.KindInsufficientAvailable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var titles = map[shared.Kind]string{
	shared.KindNotFound:               "Not Found",
	shared.KindValidation:             "Validation Failed",
	shared.KindInvalidTransfer:        "Invalid Transfer",
	shared.KindInvalidTransition:      "Invalid Transition",
	shared.KindConcurrentModification: "Concurrent Modification",
	shared.KindInsufficientStock:      "Insufficient Stock",
	shared.KindInsufficientAvailable:  "Insufficient Available Stock",
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrMalformedBody) {
		ProblemKind(w, http.StatusBadRequest, "Malformed Body", err.Error(), shared.KindValidation)
		return
	}
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		ProblemKind(w, http.StatusConflict, "Duplicate Request", err.Error(), "idempotency_conflict")
		return
	}
	kind := shared.KindOf(err)
	title, ok := titles[kind]
	if !ok {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	ProblemKind(w, StatusFor(kind), title, shared.UserSafeMessage(err), kind)
}
