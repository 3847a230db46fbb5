package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Minute, cfg.DirectoryCacheTTL)
	require.Equal(t, []string{SinkQueue}, cfg.EventSinks())
	require.Equal(t, []string{SinkKafka}, cfg.DeliverSinks())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("EVENT_SINK", " Redis, kafka ")
	t.Setenv("EVENT_DELIVER_SINK", "queue,redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, []string{SinkRedis, SinkKafka}, cfg.EventSinks())
	require.Equal(t, []string{SinkRedis}, cfg.DeliverSinks())
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Zero(t, cfg.RateLimitPerMinute)
}

func TestLoadConfigRejectsUnknownSink(t *testing.T) {
	t.Setenv("EVENT_SINK", "carrier-pigeon")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "carrier-pigeon")
}

func TestLoadConfigRejectsNegativeRate(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "-1")
	_, err := LoadConfig()
	require.Error(t, err)
}
