package shared

import (
	"errors"
	"strings"
)

// Error kinds shared by every stock workflow. Callers wrap them with a reason,
// e.g. fmt.Errorf("%w: transfer 12 is RECEIVED", ErrInvalidTransition).
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition rejects an action that is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInsufficientStock rejects a decrease that would take quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientAvailable rejects consuming or reserving units already reserved.
	ErrInsufficientAvailable = errors.New("insufficient available stock")
	// ErrInvalidTransfer rejects transfers whose source equals destination.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrentModification is returned when a competing transaction won.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Kind names an error category in API payloads and metrics.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindNotFound               Kind = "not_found"
	KindInvalidTransition      Kind = "invalid_transition"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindInsufficientAvailable  Kind = "insufficient_available"
	KindInvalidTransfer        Kind = "invalid_transfer"
	KindValidation             Kind = "validation"
	KindConcurrentModification Kind = "concurrent_modification"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrInsufficientAvailable, KindInsufficientAvailable},
	{ErrInvalidTransfer, KindInvalidTransfer},
	{ErrValidation, KindValidation},
	{ErrConcurrentModification, KindConcurrentModification},
}

// KindOf reports the first known kind found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// UserSafeMessage returns a message that can be shown to API clients. Errors of a
// known kind keep their wrapped reason; anything else is masked.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindUnknown {
		return "internal error"
	}
	msg := err.Error()
	// drop package prefixes such as "transfers: " added by wrapping layers
	if idx := strings.Index(msg, ": "); idx > 0 && !strings.Contains(msg[:idx], " ") {
		msg = msg[idx+2:]
	}
	return msg
}
