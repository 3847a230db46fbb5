package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskDeliver is the asynq task that forwards one event to downstream sinks.
	TaskDeliver = "events:deliver"
	// QueueEvents isolates event delivery from other jobs.
	QueueEvents = "events"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink stores events as asynq tasks so the worker can retry delivery
// independently of the request that produced them.
type QueueSink struct {
	client   Enqueuer
	maxRetry int
}

// NewQueueSink constructs the sink.
func NewQueueSink(client Enqueuer) *QueueSink {
	return &QueueSink{client: client, maxRetry: 10}
}

// NewDeliverTask encodes evt as an events:deliver task. The event id doubles as
// the task id so re-enqueueing the same event is rejected by asynq.
func NewDeliverTask(evt Event) (*asynq.Task, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", evt.ID, err)
	}
	return asynq.NewTask(TaskDeliver, raw), nil
}

// DecodeDeliverTask reverses NewDeliverTask.
func DecodeDeliverTask(task *asynq.Task) (Event, error) {
	var evt Event
	if err := json.Unmarshal(task.Payload(), &evt); err != nil {
		return Event{}, fmt.Errorf("events: decode task: %w", err)
	}
	return evt, nil
}

// Publish implements Sink.
func (s *QueueSink) Publish(ctx context.Context, events ...Event) error {
	for _, evt := range events {
		task, err := NewDeliverTask(evt)
		if err != nil {
			return err
		}
		_, err = s.client.EnqueueContext(ctx, task,
			asynq.Queue(QueueEvents),
			asynq.TaskID(evt.ID.String()),
			asynq.MaxRetry(s.maxRetry),
			asynq.Retention(24*time.Hour),
		)
		if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Errorf("events: enqueue %s: %w", evt.ID, err)
		}
	}
	return nil
}
