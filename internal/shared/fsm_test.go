package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type lightStatus string
type lightAction string

func TestMachineNext(t *testing.T) {
	m := NewMachine[lightStatus, lightAction]("light").
		Allow("go", "GREEN", "RED").
		Allow("stop", "RED", "GREEN", "AMBER")

	next, err := m.Next("RED", "go")
	require.NoError(t, err)
	require.Equal(t, lightStatus("GREEN"), next)

	_, err = m.Next("AMBER", "go")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), "cannot go from AMBER")

	_, err = m.Next("RED", "blink")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.True(t, m.Can("AMBER", "stop"))
	require.False(t, m.Terminal("GREEN"))
	require.True(t, m.Terminal("BROKEN"))
}
