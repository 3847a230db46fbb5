package app

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
)

// SinkDeps carries the clients an event sink may be built on.
type SinkDeps struct {
	Queue events.Enqueuer
	Redis redis.Cmdable
}

// BuildSink assembles the sinks named in names into one. The returned close
// function releases anything BuildSink opened itself, such as Kafka writers.
func BuildSink(cfg *Config, names []string, deps SinkDeps) (events.Sink, func() error, error) {
	var (
		sinks   events.Fanout
		closers []func() error
	)
	for _, name := range names {
		switch name {
		case SinkNone:
		case SinkQueue:
			if deps.Queue == nil {
				return nil, nil, errors.New("queue sink requires an asynq client")
			}
			sinks = append(sinks, events.NewQueueSink(deps.Queue))
		case SinkRedis:
			if deps.Redis == nil {
				return nil, nil, errors.New("redis sink requires a redis client")
			}
			sinks = append(sinks, events.NewRedisSink(deps.Redis, cfg.RedisChannel))
		case SinkKafka:
			writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
			closers = append(closers, writer.Close)
			sinks = append(sinks, events.NewKafkaSink(writer))
		default:
			return nil, nil, fmt.Errorf("unknown event sink %q", name)
		}
	}
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	switch len(sinks) {
	case 0:
		return events.Nop{}, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}
