package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupTracingDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{ServiceName: "odyssey-stock"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
