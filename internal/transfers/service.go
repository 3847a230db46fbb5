package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const module = "transfers"

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-stock/internal/transfers")

// TxRepository exposes transactional operations.
type TxRepository interface {
	inventory.TxRepository
	CreateTransfer(ctx context.Context, t Transfer) (Transfer, error)
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	// UpdateTransferStatus returns ErrStaleStatus when the row no longer holds
	// change.From.
	UpdateTransferStatus(ctx context.Context, change StatusChange) error
	// UpdateItemQuantities stores shipped and received quantities of items.
	UpdateItemQuantities(ctx context.Context, transferID int64, items []Item) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
}

// DirectoryPort validates locations and products.
type DirectoryPort interface {
	masterdata.Catalog
	Location(ctx context.Context, id int64) (masterdata.Location, error)
}

// ApprovalPort records approve and unapprove decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards creates against client retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Options carries optional collaborators; nil members are skipped.
type Options struct {
	Sink        events.Sink
	Approvals   ApprovalPort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Service orchestrates the transfer workflow.
type Service struct {
	repo      RepositoryPort
	ledger    *inventory.Ledger
	directory DirectoryPort
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, directory DirectoryPort, opts Options) *Service {
	if ledger == nil {
		ledger = inventory.NewLedger(opts.Metrics)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		directory: directory,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a PENDING transfer. Nothing is reserved until approval.
func (s *Service) Create(ctx context.Context, in CreateInput) (out Transfer, err error) {
	if s.repo == nil {
		return Transfer{}, errRepoMissing
	}
	defer func() {
		if err != nil {
			s.opts.Metrics.ObserveRejection("transfer.create", string(shared.KindOf(err)))
		}
	}()
	if err := in.validate(); err != nil {
		return Transfer{}, err
	}
	if err := s.resolve(ctx, in); err != nil {
		return Transfer{}, err
	}
	if idem := s.opts.Idempotency; idem != nil && in.IdempotencyKey != "" {
		if err := idem.CheckAndInsert(ctx, in.IdempotencyKey, module); err != nil {
			return Transfer{}, err
		}
		defer func() {
			if err != nil {
				if delErr := idem.Delete(ctx, in.IdempotencyKey, module); delErr != nil {
					s.logger.Warn("release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
				}
			}
		}()
	}

	now := s.now()
	t := Transfer{
		Number:         strings.TrimSpace(in.Number),
		FromLocationID: in.FromLocationID,
		ToLocationID:   in.ToLocationID,
		Status:         StatusPending,
		Note:           in.Note,
		CreatedBy:      in.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Number == "" {
		t.Number = fmt.Sprintf("TRF-%s-%06d", now.Format("20060102"), now.Nanosecond()/1000)
	}
	for _, it := range in.Items {
		t.Items = append(t.Items, Item{ProductID: it.ProductID, VariantID: it.VariantID, RequestedQuantity: it.Quantity})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.CreateTransfer(ctx, t)
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, in.ActorID, "transfer:create", out.ID, "", string(out.Status), map[string]any{"number": out.Number})
	return out, nil
}

// Approve reserves every requested quantity at the source. If any item lacks
// available stock nothing is reserved.
func (s *Service) Approve(ctx context.Context, id, actorID int64, note string) (Transfer, error) {
	t, err := s.transition(ctx, id, actorID, ActionApprove, func(ctx context.Context, tx TxRepository, t *Transfer, _ *events.Batch) error {
		if err := s.lockSource(ctx, tx, *t); err != nil {
			return err
		}
		for _, it := range t.Items {
			if _, err := s.ledger.Reserve(ctx, tx, t.sourceKey(it), it.RequestedQuantity); err != nil {
				return fmt.Errorf("transfers: approve %s item %d: %w", t.Number, it.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordApproval(ctx, t.ID, actorID, shared.ApprovalApprove, note)
	return t, nil
}

// Unapprove returns an approved transfer to PENDING and releases its
// reservations so it can be cancelled.
func (s *Service) Unapprove(ctx context.Context, id, actorID int64, note string) (Transfer, error) {
	t, err := s.transition(ctx, id, actorID, ActionUnapprove, func(ctx context.Context, tx TxRepository, t *Transfer, _ *events.Batch) error {
		if err := s.lockSource(ctx, tx, *t); err != nil {
			return err
		}
		for _, it := range t.Items {
			if _, err := s.ledger.Release(ctx, tx, t.sourceKey(it), it.RequestedQuantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordApproval(ctx, t.ID, actorID, shared.ApprovalUnapprove, note)
	return t, nil
}

// Ship releases each reservation and takes the shipped quantity out of the
// source. Lines override the shipped quantity per item (short-ship); items
// without a line ship in full. A zero quantity ships nothing for that item.
func (s *Service) Ship(ctx context.Context, id, actorID int64, lines []Line) (Transfer, error) {
	return s.transition(ctx, id, actorID, ActionShip, func(ctx context.Context, tx TxRepository, t *Transfer, batch *events.Batch) error {
		requested := func(it Item) int64 { return it.RequestedQuantity }
		shipped, err := resolveLines(t.Items, lines, requested, requested, "shipped")
		if err != nil {
			return err
		}
		if err := s.lockSource(ctx, tx, *t); err != nil {
			return err
		}
		for i := range t.Items {
			it := &t.Items[i]
			key := t.sourceKey(*it)
			if _, err := s.ledger.Release(ctx, tx, key, it.RequestedQuantity); err != nil {
				return err
			}
			it.ShippedQuantity = shipped[it.ID]
			if it.ShippedQuantity == 0 {
				continue
			}
			entry, err := s.ledger.Commit(ctx, tx, inventory.CommitInput{
				Key:       key,
				Movement:  inventory.MovementOut,
				Reason:    inventory.ReasonTransferOut,
				Quantity:  it.ShippedQuantity,
				Reference: inventory.Reference{Type: inventory.RefTransfer, ID: t.ID},
				ActorID:   actorID,
				Note:      t.Number,
			})
			if err != nil {
				return fmt.Errorf("transfers: ship %s item %d: %w", t.Number, it.ID, err)
			}
			inventory.AddEntries(batch, entry)
		}
		return tx.UpdateItemQuantities(ctx, t.ID, t.Items)
	})
}

// Receive books the received quantities into the destination. Items without a
// line are received as shipped; differences stay on the item as discrepancy.
func (s *Service) Receive(ctx context.Context, id, actorID int64, lines []Line) (Transfer, error) {
	return s.transition(ctx, id, actorID, ActionReceive, func(ctx context.Context, tx TxRepository, t *Transfer, batch *events.Batch) error {
		asShipped := func(it Item) int64 { return it.ShippedQuantity }
		received, err := resolveLines(t.Items, lines, asShipped, asShipped, "received")
		if err != nil {
			return err
		}
		keys := make([]inventory.StockKey, 0, len(t.Items))
		for _, it := range t.Items {
			keys = append(keys, t.destinationKey(it))
		}
		if err := s.ledger.Lock(ctx, tx, keys...); err != nil {
			return err
		}
		for i := range t.Items {
			it := &t.Items[i]
			it.ReceivedQuantity = received[it.ID]
			if it.ReceivedQuantity == 0 {
				continue
			}
			entry, err := s.ledger.Commit(ctx, tx, inventory.CommitInput{
				Key:       t.destinationKey(*it),
				Movement:  inventory.MovementIn,
				Reason:    inventory.ReasonTransferIn,
				Quantity:  it.ReceivedQuantity,
				Reference: inventory.Reference{Type: inventory.RefTransfer, ID: t.ID},
				ActorID:   actorID,
				Note:      t.Number,
			})
			if err != nil {
				return fmt.Errorf("transfers: receive %s item %d: %w", t.Number, it.ID, err)
			}
			inventory.AddEntries(batch, entry)
		}
		for _, it := range t.Items {
			if d := it.Discrepancy(); d != 0 {
				s.logger.Info("transfer received with discrepancy", slog.String("number", t.Number),
					slog.Int64("item_id", it.ID), slog.Int64("missing", d))
			}
		}
		return tx.UpdateItemQuantities(ctx, t.ID, t.Items)
	})
}

// Cancel abandons a transfer that was never approved.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Transfer, error) {
	return s.transition(ctx, id, actorID, ActionCancel, nil)
}

// Get loads one transfer.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	if s.repo == nil {
		return Transfer{}, errRepoMissing
	}
	return s.repo.GetTransfer(ctx, id)
}

// List pages through transfers, newest first. LocationID matches either end.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, shared.Pagination, error) {
	if s.repo == nil {
		return nil, shared.Pagination{}, errRepoMissing
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown status %s", shared.ErrValidation, filter.Status)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	out, total, err := s.repo.ListTransfers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(page.Page, page.PerPage, total), nil
}

type effect func(ctx context.Context, tx TxRepository, t *Transfer, batch *events.Batch) error

func (s *Service) transition(ctx context.Context, id, actorID int64, action Action, fx effect) (Transfer, error) {
	if s.repo == nil {
		return Transfer{}, errRepoMissing
	}
	ctx, span := tracer.Start(ctx, "transfers."+string(action))
	defer span.End()
	span.SetAttributes(attribute.Int64("transfer.id", id))

	var (
		batch events.Batch
		out   Transfer
		from  Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := machine.Next(t.Status, action)
		if err != nil {
			return fmt.Errorf("transfers: %s: %w", t.Number, err)
		}
		if fx != nil {
			if err := fx(ctx, tx, &t, &batch); err != nil {
				return err
			}
		}
		change := StatusChange{ID: t.ID, From: t.Status, To: next, ActorID: actorID, At: s.now()}
		if err := tx.UpdateTransferStatus(ctx, change); err != nil {
			return err
		}
		from = t.Status
		change.apply(&t)
		batch.Add(events.NewStatusChanged(events.AggregateTransfer, events.StatusChange{
			ID: t.ID, Number: t.Number, From: string(from), To: string(next), ActorID: actorID, At: change.At,
		}))
		out = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.Metrics.ObserveRejection("transfer."+string(action), string(shared.KindOf(err)))
		return Transfer{}, err
	}
	s.opts.Metrics.ObserveTransition(module, string(from), string(out.Status))
	batch.Flush(ctx, s.opts.Sink, s.logger)
	s.recordAudit(ctx, actorID, "transfer:"+string(action), out.ID, string(from), string(out.Status), map[string]any{"number": out.Number})
	return out, nil
}

func (s *Service) lockSource(ctx context.Context, tx TxRepository, t Transfer) error {
	keys := make([]inventory.StockKey, 0, len(t.Items))
	for _, it := range t.Items {
		keys = append(keys, t.sourceKey(it))
	}
	return s.ledger.Lock(ctx, tx, keys...)
}

func (s *Service) resolve(ctx context.Context, in CreateInput) error {
	if s.directory == nil {
		return nil
	}
	for _, id := range []int64{in.FromLocationID, in.ToLocationID} {
		if _, err := s.directory.Location(ctx, id); err != nil {
			return err
		}
	}
	for _, it := range in.Items {
		if err := masterdata.ResolveItem(ctx, s.directory, it.ProductID, it.VariantID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, id, actorID int64, action shared.ApprovalAction, note string) {
	if s.opts.Approvals == nil {
		return
	}
	if err := s.opts.Approvals.Record(ctx, shared.ApprovalLog{
		Module:  module,
		RefID:   shared.ApprovalRef(module, id),
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	}); err != nil {
		s.logger.Warn("record approval", slog.Int64("transfer_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, from, to string, meta map[string]any) {
	if s.opts.Audit == nil {
		return
	}
	if err := s.opts.Audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer",
		EntityID: id,
		From:     from,
		To:       to,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit transfer", slog.Int64("transfer_id", id), slog.Any("error", err))
	}
}
