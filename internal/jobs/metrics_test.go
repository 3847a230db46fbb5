package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger_verify").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger_verify").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_verify", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger_verify")))

	m.SetLedgerMismatches(2)
	require.Equal(t, 2.0, testutil.ToFloat64(m.mismatches))
	m.AddDelivered("kafka", 3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.delivered.WithLabelValues("kafka")))
}

func TestNilMetricsTrackerIsNoop(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("x").End(nil))
	m.SetLedgerMismatches(1)
	m.AddDelivered("redis", 1)
}
