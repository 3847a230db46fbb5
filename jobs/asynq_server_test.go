package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Queue: QueueDefault, Type: task.Type()}, nil
}

func newJobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	return r
}

func TestHealthReportsQueues(t *testing.T) {
	inspector := fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueEvents: {Queue: QueueEvents, Pending: 3, Retry: 1, Archived: 2},
	}}
	rec := httptest.NewRecorder()
	newJobsRouter(NewHandler(inspector, nil, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{
		{Queue: QueueEvents, Pending: 3, Retry: 1, Dead: 2},
		{Queue: QueueDefault},
	}, body.Queues)
}

func TestHealthUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	h := NewHandler(fakeInspector{err: errors.New("redis down")}, nil, nil)
	newJobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerLedgerVerify(t *testing.T) {
	enq := &recordingEnqueuer{}
	router := newJobsRouter(NewHandler(nil, NewClientWith(enq), nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/ledger-verify", strings.NewReader(`{"batch_size":50}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskLedgerVerify, enq.tasks[0].Type())
	var payload LedgerVerifyPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, 50, payload.BatchSize)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/ledger-verify", strings.NewReader(`{"batch_size":-1}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	enq.err = asynq.ErrDuplicateTask
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/ledger-verify", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerWithoutClient(t *testing.T) {
	rec := httptest.NewRecorder()
	newJobsRouter(NewHandler(nil, nil, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/ledger-verify", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
