package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "odyssey:stock:events"

// RedisSink fans events out over Redis pub/sub for low-latency listeners such as
// replenishment dashboards. Delivery is at-most-once.
type RedisSink struct {
	client  redis.Cmdable
	channel string
}

// NewRedisSink constructs the sink.
func NewRedisSink(client redis.Cmdable, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, evt := range events {
		raw, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("events: encode %s: %w", evt.ID, err)
		}
		pipe.Publish(ctx, s.channel, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("events: redis publish: %w", err)
	}
	return nil
}
