package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{fmt.Errorf("transfers: %w: from PENDING", ErrInvalidTransition), KindInvalidTransition},
		{fmt.Errorf("line 2: %w", fmt.Errorf("%w: quantity", ErrValidation)), KindValidation},
		{ErrConcurrentModification, KindConcurrentModification},
		{ErrInsufficientAvailable, KindInsufficientAvailable},
		{errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, KindOf(tc.err))
	}
}

func TestUserSafeMessage(t *testing.T) {
	require.Equal(t, "internal error", UserSafeMessage(errors.New("pg: connection reset")))
	err := fmt.Errorf("transfers: %w: cannot cancel from APPROVED", ErrInvalidTransition)
	require.Equal(t, "invalid transition: cannot cancel from APPROVED", UserSafeMessage(err))
	require.Empty(t, UserSafeMessage(nil))
}
