package inventory

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-stock/internal/inventory")

// StockTx is the transactional storage the ledger writes through. Every
// workflow repository embeds one so order rows and stock rows share a
// transaction.
type StockTx interface {
	// GetStockForUpdate locks and returns the row, or a zero row for key
	// when none exists yet.
	GetStockForUpdate(ctx context.Context, key StockKey) (LocationStock, error)
	UpsertStock(ctx context.Context, stock LocationStock) error
	// InsertEntry appends entry and returns it with ID and CreatedAt set.
	InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
}

// Ledger is the only writer of stock quantities and reservations.
type Ledger struct {
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLedger builds a ledger. metrics may be nil.
func NewLedger(metrics *observability.Metrics) *Ledger {
	return &Ledger{metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// Lock takes row locks for keys in sorted order so concurrent multi-row
// operations cannot deadlock.
func (l *Ledger) Lock(ctx context.Context, tx StockTx, keys ...StockKey) error {
	if tx == nil {
		return errTxRequired
	}
	for _, key := range SortKeys(keys) {
		if err := key.validate(); err != nil {
			return err
		}
		if _, err := tx.GetStockForUpdate(ctx, key); err != nil {
			return fmt.Errorf("inventory: lock %s: %w", key, err)
		}
	}
	return nil
}

// Commit applies one movement to its stock row and appends the entry.
func (l *Ledger) Commit(ctx context.Context, tx StockTx, in CommitInput) (LedgerEntry, error) {
	if tx == nil {
		return LedgerEntry{}, errTxRequired
	}
	if err := in.validate(); err != nil {
		return LedgerEntry{}, err
	}
	ctx, span := tracer.Start(ctx, "inventory.Ledger.Commit", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("stock.key", in.Key.String()),
		attribute.String("stock.movement", string(in.Movement)),
		attribute.String("stock.reason", string(in.Reason)),
		attribute.Int64("stock.quantity", in.Quantity),
	)

	entry, err := l.commit(ctx, tx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return LedgerEntry{}, err
	}
	l.metrics.ObserveLedgerEntry(string(entry.Movement), string(entry.Reason), entry.Quantity)
	return entry, nil
}

func (l *Ledger) commit(ctx context.Context, tx StockTx, in CommitInput) (LedgerEntry, error) {
	stock, err := tx.GetStockForUpdate(ctx, in.Key)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("inventory: load stock %s: %w", in.Key, err)
	}
	previous := stock.Quantity
	delta := signedDelta(in.Movement, in.Quantity)
	next := previous + delta
	if next < 0 {
		return LedgerEntry{}, fmt.Errorf("%w: %s has %d, needs %d", shared.ErrInsufficientStock, in.Key, previous, -delta)
	}
	note := in.Note
	if delta < 0 && next < stock.Reserved {
		if !in.Authoritative {
			return LedgerEntry{}, fmt.Errorf("%w: %s has %d available, needs %d", shared.ErrInsufficientAvailable, in.Key, stock.Available(), -delta)
		}
		note = joinNote(note, fmt.Sprintf("reservation clamped from %d to %d", stock.Reserved, next))
		stock.Reserved = next
	}

	now := l.now()
	stock.StockKey = in.Key
	stock.Quantity = next
	stock.UpdatedAt = now
	if err := tx.UpsertStock(ctx, stock); err != nil {
		return LedgerEntry{}, fmt.Errorf("inventory: write stock %s: %w", in.Key, err)
	}
	entry, err := tx.InsertEntry(ctx, LedgerEntry{
		StockKey:         in.Key,
		Movement:         in.Movement,
		Reason:           in.Reason,
		Quantity:         in.Quantity,
		PreviousQuantity: previous,
		NewQuantity:      next,
		Reference:        in.Reference,
		Authoritative:    in.Authoritative,
		ActorID:          in.ActorID,
		Note:             note,
		CreatedAt:        now,
	})
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("inventory: append entry %s: %w", in.Key, err)
	}
	return entry, nil
}

// Count records a physical count as an authoritative adjustment of
// counted-minus-previous. It never fails on stock levels. recorded is false
// when the count matched the row and no entry was written.
func (l *Ledger) Count(ctx context.Context, tx StockTx, in CountInput) (entry LedgerEntry, recorded bool, err error) {
	if tx == nil {
		return LedgerEntry{}, false, errTxRequired
	}
	if err := in.Key.validate(); err != nil {
		return LedgerEntry{}, false, err
	}
	if in.Counted < 0 {
		return LedgerEntry{}, false, fmt.Errorf("%w: counted quantity cannot be negative", ErrInvalidQuantity)
	}
	stock, err := tx.GetStockForUpdate(ctx, in.Key)
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("inventory: load stock %s: %w", in.Key, err)
	}
	delta := in.Counted - stock.Quantity
	if delta == 0 {
		return LedgerEntry{}, false, nil
	}
	ref := in.Reference
	if ref.Type == "" {
		ref.Type = RefManual
	}
	entry, err = l.Commit(ctx, tx, CommitInput{
		Key:           in.Key,
		Movement:      MovementAdjustment,
		Reason:        ReasonCount,
		Quantity:      delta,
		Reference:     ref,
		Authoritative: true,
		ActorID:       in.ActorID,
		Note:          in.Note,
	})
	if err != nil {
		return LedgerEntry{}, false, err
	}
	return entry, true, nil
}

// Reserve holds qty units at key for a pending outbound movement.
func (l *Ledger) Reserve(ctx context.Context, tx StockTx, key StockKey, qty int64) (LocationStock, error) {
	if tx == nil {
		return LocationStock{}, errTxRequired
	}
	if err := key.validate(); err != nil {
		return LocationStock{}, err
	}
	if qty <= 0 {
		return LocationStock{}, ErrInvalidQuantity
	}
	stock, err := tx.GetStockForUpdate(ctx, key)
	if err != nil {
		return LocationStock{}, fmt.Errorf("inventory: load stock %s: %w", key, err)
	}
	if qty > stock.Available() {
		return LocationStock{}, fmt.Errorf("%w: %s has %d available, needs %d", shared.ErrInsufficientAvailable, key, stock.Available(), qty)
	}
	stock.StockKey = key
	stock.Reserved += qty
	stock.UpdatedAt = l.now()
	if err := tx.UpsertStock(ctx, stock); err != nil {
		return LocationStock{}, fmt.Errorf("inventory: write stock %s: %w", key, err)
	}
	return stock, nil
}

// Release returns qty reserved units at key to available, never dropping the
// reservation below zero.
func (l *Ledger) Release(ctx context.Context, tx StockTx, key StockKey, qty int64) (LocationStock, error) {
	if tx == nil {
		return LocationStock{}, errTxRequired
	}
	if err := key.validate(); err != nil {
		return LocationStock{}, err
	}
	if qty <= 0 {
		return LocationStock{}, ErrInvalidQuantity
	}
	stock, err := tx.GetStockForUpdate(ctx, key)
	if err != nil {
		return LocationStock{}, fmt.Errorf("inventory: load stock %s: %w", key, err)
	}
	stock.StockKey = key
	stock.Reserved -= qty
	if stock.Reserved < 0 {
		stock.Reserved = 0
	}
	stock.UpdatedAt = l.now()
	if err := tx.UpsertStock(ctx, stock); err != nil {
		return LocationStock{}, fmt.Errorf("inventory: write stock %s: %w", key, err)
	}
	return stock, nil
}

// Replay rebuilds quantities from an ordered entry list starting from zero.
func Replay(entries []LedgerEntry) map[StockKey]int64 {
	out := make(map[StockKey]int64)
	for _, e := range entries {
		out[e.StockKey] += e.Delta()
	}
	return out
}

// chainBreaks returns ids of entries whose previous quantity disagrees with the
// running total of the entries before them.
func chainBreaks(entries []LedgerEntry) []int64 {
	var breaks []int64
	running := make(map[StockKey]int64)
	for _, e := range entries {
		if e.PreviousQuantity != running[e.StockKey] || e.NewQuantity != e.PreviousQuantity+e.Delta() {
			breaks = append(breaks, e.ID)
		}
		running[e.StockKey] = e.NewQuantity
	}
	return breaks
}

func (in CommitInput) validate() error {
	if err := in.Key.validate(); err != nil {
		return err
	}
	if !in.Movement.Valid() || !in.Reason.Valid() {
		return fmt.Errorf("%w: %s/%s", ErrInvalidMovement, in.Movement, in.Reason)
	}
	if !in.Reference.Type.Valid() {
		return fmt.Errorf("%w: reference %q", ErrInvalidMovement, in.Reference.Type)
	}
	switch in.Movement {
	case MovementIn, MovementOut:
		if in.Quantity <= 0 {
			return fmt.Errorf("%w: %s quantity must be positive, got %d", ErrInvalidQuantity, in.Movement, in.Quantity)
		}
	case MovementAdjustment:
		if in.Quantity == 0 {
			return fmt.Errorf("%w: adjustment quantity must be non-zero", ErrInvalidQuantity)
		}
	}
	return nil
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
