package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"}, &buf)

	logger.Info("hidden")
	require.Zero(t, buf.Len())

	logger.Warn("stock ledger mismatch")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "stock ledger mismatch", line["msg"])
	require.Equal(t, "odyssey-stock", line["service"])
	require.Equal(t, "staging", line["env"])
}
