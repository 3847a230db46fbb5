package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTripAndMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	var got map[string]int
	ok, err := GetJSON(ctx, client, "missing", &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, SetJSON(ctx, client, "k", map[string]int{"qty": 4}, time.Minute))
	ok, err = GetJSON(ctx, client, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, got["qty"])

	mr.FastForward(2 * time.Minute)
	ok, err = GetJSON(ctx, client, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)
}
