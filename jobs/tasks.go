package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries event delivery tasks enqueued by the API.
	QueueEvents = events.QueueEvents

	// TaskLedgerVerify replays the ledger of every stock row.
	TaskLedgerVerify = "ledger:verify"
	// TaskEventsDeliver forwards one queued event downstream.
	TaskEventsDeliver = events.TaskDeliver
)

// LedgerVerifyPayload tunes a verification run. Zero values pick defaults.
type LedgerVerifyPayload struct {
	BatchSize   int `json:"batch_size,omitempty" validate:"gte=0,lte=5000"`
	Concurrency int `json:"concurrency,omitempty" validate:"gte=0,lte=32"`
}

func (p LedgerVerifyPayload) withDefaults() LedgerVerifyPayload {
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	return p
}

// NewLedgerVerifyTask constructs a ledger verification task.
func NewLedgerVerifyTask(payload LedgerVerifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerVerify, data), nil
}
