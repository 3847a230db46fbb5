package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-stock/jobs")

// DeliverJob forwards events queued by the API to the downstream sink. Failed
// deliveries are retried by asynq with backoff.
type DeliverJob struct {
	Sink     events.Sink
	SinkName string
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewDeliverJob initialises the delivery handler.
func NewDeliverJob(sink events.Sink, sinkName string, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeliverJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliverJob{Sink: sink, SinkName: sinkName, Logger: logger, Metrics: metrics}
}

// Handle executes the asynq task.
func (j *DeliverJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sink == nil {
		return errors.New("events deliver: handler not configured")
	}
	evt, err := events.DecodeDeliverTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	ctx, span := tracer.Start(ctx, "events.deliver",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.id", evt.ID.String()),
			attribute.String("event.type", evt.Type),
			attribute.String("event.sink", j.SinkName),
		),
	)
	defer span.End()
	tracker := j.Metrics.Track(TaskEventsDeliver)
	defer func() {
		err = tracker.End(err)
	}()
	if err = j.Sink.Publish(ctx, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		j.Logger.Warn("deliver event",
			slog.String("event_id", evt.ID.String()),
			slog.String("type", evt.Type),
			slog.Any("error", err),
		)
		return err
	}
	j.Metrics.AddDelivered(j.SinkName, 1)
	return nil
}
