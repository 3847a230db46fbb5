// Package events carries stock and workflow notifications to downstream
// consumers once the producing transaction has committed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event types published by the stock service.
const (
	TypeLedgerCommitted = "ledger.committed"

	AggregateStock         = "stock"
	AggregatePurchaseOrder = "purchase_order"
	AggregateTransfer      = "transfer"
	AggregateReturn        = "return"
)

// StatusChangedType returns "<aggregate>.status_changed".
func StatusChangedType(aggregate string) string {
	return aggregate + ".status_changed"
}

// Event is one immutable notification.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Aggregate   string          `json:"aggregate"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// New builds an event with a fresh id and a JSON-encoded payload.
func New(eventType, aggregate, aggregateID string, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode %s payload: %w", eventType, err)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		OccurredAt:  at,
		Payload:     raw,
	}, nil
}

// StatusChange is the payload of every <aggregate>.status_changed event.
type StatusChange struct {
	ID      int64     `json:"id"`
	Number  string    `json:"number,omitempty"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	ActorID int64     `json:"actor_id,omitempty"`
	At      time.Time `json:"at"`
}

// NewStatusChanged builds the transition event of an order aggregate.
func NewStatusChanged(aggregate string, change StatusChange) (Event, error) {
	return New(StatusChangedType(aggregate), aggregate, strconv.FormatInt(change.ID, 10), change.At, change)
}

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, events ...Event) error
}

// Batch collects events while a transaction runs so they can be published after
// it commits.
type Batch struct {
	events []Event
	err    error
}

// Add appends an event built by one of the constructors, keeping the first
// construction error.
func (b *Batch) Add(evt Event, err error) {
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the collected events.
func (b *Batch) Events() []Event {
	return b.events
}

// Flush publishes the batch. The state change has already committed, so a
// delivery failure is logged rather than returned to the caller.
func (b *Batch) Flush(ctx context.Context, sink Sink, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if b.err != nil {
		logger.Error("build events", slog.Any("error", b.err))
	}
	if sink == nil || len(b.events) == 0 {
		return
	}
	if err := sink.Publish(ctx, b.events...); err != nil {
		logger.Error("publish events", slog.Int("count", len(b.events)), slog.Any("error", err))
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, ...Event) error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
