package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
)

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, ...events.Event) error { return f.err }

func deliverTask(t *testing.T) (*asynq.Task, events.Event) {
	t.Helper()
	evt, err := events.NewStatusChanged(events.AggregateTransfer, events.StatusChange{
		ID: 4, From: "PENDING", To: "APPROVED", At: time.Now().UTC(),
	})
	require.NoError(t, err)
	task, err := events.NewDeliverTask(evt)
	require.NoError(t, err)
	return task, evt
}

func TestDeliverForwardsEvent(t *testing.T) {
	sink := events.NewMemory()
	task, evt := deliverTask(t)

	require.NoError(t, NewDeliverJob(sink, "memory", nil, nil).Handle(context.Background(), task))
	got := sink.Events()
	require.Len(t, got, 1)
	require.Equal(t, evt.ID, got[0].ID)
	require.Equal(t, "transfer.status_changed", got[0].Type)
}

func TestDeliverSurfacesSinkErrorsForRetry(t *testing.T) {
	boom := errors.New("broker unavailable")
	task, _ := deliverTask(t)
	err := NewDeliverJob(failingSink{err: boom}, "kafka", nil, nil).Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestDeliverSkipsUndecodableTask(t *testing.T) {
	err := NewDeliverJob(events.NewMemory(), "memory", nil, nil).Handle(context.Background(), asynq.NewTask(TaskEventsDeliver, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type recordingCleaner struct{ olderThan time.Duration }

func (r *recordingCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	r.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &recordingCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner}
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 72*time.Hour, cleaner.olderThan)
}
