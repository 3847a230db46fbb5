package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func testEvent(t *testing.T) Event {
	t.Helper()
	evt, err := NewStatusChanged(AggregateTransfer, StatusChange{ID: 7, From: "PENDING", To: "APPROVED", At: time.Unix(100, 0).UTC()})
	require.NoError(t, err)
	return evt
}

func TestNewStatusChanged(t *testing.T) {
	evt := testEvent(t)
	require.Equal(t, "transfer.status_changed", evt.Type)
	require.Equal(t, "7", evt.AggregateID)
	var payload StatusChange
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	require.Equal(t, "APPROVED", payload.To)
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, ...Event) error { return f.err }

func TestFanoutPublishesToAllAndJoinsErrors(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	boom := errors.New("boom")
	err := Fanout{a, failingSink{boom}, b}.Publish(context.Background(), testEvent(t))
	require.ErrorIs(t, err, boom)
	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
}

func TestBatchFlushSwallowsSinkErrors(t *testing.T) {
	var batch Batch
	batch.Add(testEvent(t), nil)
	batch.Add(Event{}, errors.New("bad payload"))
	require.Len(t, batch.Events(), 1)
	batch.Flush(context.Background(), failingSink{errors.New("down")}, nil)

	mem := NewMemory()
	batch.Flush(context.Background(), mem, nil)
	require.Len(t, mem.OfType("transfer.status_changed"), 1)
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaSinkKeysByAggregate(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewKafkaSink(writer)
	evt := testEvent(t)
	require.NoError(t, sink.Publish(context.Background(), evt))
	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	require.Equal(t, "transfer:7", string(msg.Key))
	carrier := headerCarrier(msg.Headers)
	require.Equal(t, "transfer.status_changed", carrier.Get("event-type"))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, evt.ID, decoded.ID)
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	sub := client.Subscribe(ctx, DefaultChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	evt := testEvent(t)
	require.NoError(t, NewRedisSink(client, "").Publish(ctx, evt))

	select {
	case msg := <-sub.Channel():
		var decoded Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
		require.Equal(t, evt.ID, decoded.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected published event")
	}
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestQueueSinkEnqueuesDeliverTasks(t *testing.T) {
	enq := &recordingEnqueuer{}
	evt := testEvent(t)
	require.NoError(t, NewQueueSink(enq).Publish(context.Background(), evt))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskDeliver, enq.tasks[0].Type())

	decoded, err := DecodeDeliverTask(enq.tasks[0])
	require.NoError(t, err)
	require.Equal(t, evt.ID, decoded.ID)

	dup := &recordingEnqueuer{err: asynq.ErrTaskIDConflict}
	require.NoError(t, NewQueueSink(dup).Publish(context.Background(), evt))
}
