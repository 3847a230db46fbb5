package procurement

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

const module = "procurement"

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-stock/internal/procurement")

// TxRepository exposes transactional operations. Stock writes go through the
// embedded inventory repository so they share the order's transaction.
type TxRepository interface {
	inventory.TxRepository
	CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	// UpdatePOStatus writes change only while the row still holds change.From,
	// returning ErrStaleStatus otherwise.
	UpdatePOStatus(ctx context.Context, change StatusChange) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
}

// DirectoryPort validates suppliers, locations and products.
type DirectoryPort interface {
	masterdata.Catalog
	Location(ctx context.Context, id int64) (masterdata.Location, error)
	Supplier(ctx context.Context, id int64) (masterdata.Supplier, error)
}

// ApprovalPort records submit and approve decisions.
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

// Service orchestrates the purchase order workflow.
type Service struct {
	repo      RepositoryPort
	ledger    *inventory.Ledger
	directory DirectoryPort
	sink      events.Sink
	approvals ApprovalPort
	audit     AuditPort
	idem      IdempotencyPort
	metrics   *observability.Metrics
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
		sink:      opts.Sink,
		approvals: opts.Approvals,
		audit:     opts.Audit,
		idem:      opts.Idempotency,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the order against the directory and stores it as DRAFT.
func (s *Service) Create(ctx context.Context, in CreateInput) (po PurchaseOrder, err error) {
	if s.repo == nil {
		return PurchaseOrder{}, errRepoMissing
	}
	if err := in.validate(); err != nil {
		s.metrics.ObserveRejection("purchase_order.create", string(shared.KindOf(err)))
		return PurchaseOrder{}, err
	}
	if err := s.resolve(ctx, in); err != nil {
		s.metrics.ObserveRejection("purchase_order.create", string(shared.KindOf(err)))
		return PurchaseOrder{}, err
	}
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, module); err != nil {
			return PurchaseOrder{}, err
		}
		defer func() {
			if err != nil {
				if delErr := s.idem.Delete(ctx, in.IdempotencyKey, module); delErr != nil {
					s.logger.Warn("release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
				}
			}
		}()
	}

	now := s.now()
	items := make([]Item, len(in.Items))
	for i, it := range in.Items {
		items[i] = Item{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity, UnitCost: it.UnitCost}
	}
	draft := PurchaseOrder{
		Number:     defaultString(strings.TrimSpace(in.Number), generateNumber("PO", now)),
		SupplierID: in.SupplierID,
		LocationID: in.LocationID,
		Status:     POStatusDraft,
		Items:      items,
		Total:      computeTotal(items),
		Note:       in.Note,
		CreatedBy:  in.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.CreatePO(ctx, draft)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, in.ActorID, "purchase_order:create", po.ID, "", string(po.Status), map[string]any{
		"number": po.Number,
		"total":  po.Total.String(),
	})
	return po, nil
}

// Submit sends a draft for approval.
func (s *Service) Submit(ctx context.Context, id, actorID int64, note string) (PurchaseOrder, error) {
	po, err := s.transition(ctx, id, actorID, ActionSubmit, nil)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, po.ID, actorID, shared.ApprovalSubmit, note)
	return po, nil
}

// Approve accepts a pending order.
func (s *Service) Approve(ctx context.Context, id, actorID int64, note string) (PurchaseOrder, error) {
	po, err := s.transition(ctx, id, actorID, ActionApprove, nil)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, po.ID, actorID, shared.ApprovalApprove, note)
	return po, nil
}

// MarkOrdered records that the order was sent to the supplier.
func (s *Service) MarkOrdered(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, id, actorID, ActionMarkOrdered, nil)
}

// Receive books every item into the destination location. Either all lines are
// committed or none are.
func (s *Service) Receive(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, id, actorID, ActionReceive, func(ctx context.Context, tx TxRepository, po PurchaseOrder, batch *events.Batch) error {
		keys := make([]inventory.StockKey, len(po.Items))
		for i, it := range po.Items {
			keys[i] = inventory.StockKey{LocationID: po.LocationID, ProductID: it.ProductID, VariantID: it.VariantID}
		}
		if err := s.ledger.Lock(ctx, tx, keys...); err != nil {
			return err
		}
		for i, it := range po.Items {
			entry, err := s.ledger.Commit(ctx, tx, inventory.CommitInput{
				Key:       keys[i],
				Movement:  inventory.MovementIn,
				Reason:    inventory.ReasonPurchase,
				Quantity:  it.Quantity,
				Reference: inventory.Reference{Type: inventory.RefPurchaseOrder, ID: po.ID},
				ActorID:   actorID,
				Note:      po.Number,
			})
			if err != nil {
				return fmt.Errorf("procurement: receive %s item %d: %w", po.Number, it.ID, err)
			}
			inventory.AddEntries(batch, entry)
		}
		return nil
	})
}

// Cancel abandons an order that has not been received.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, id, actorID, ActionCancel, nil)
}

// Get loads one purchase order.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	if s.repo == nil {
		return PurchaseOrder{}, errRepoMissing
	}
	return s.repo.GetPO(ctx, id)
}

// List pages through purchase orders, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, shared.Pagination, error) {
	if s.repo == nil {
		return nil, shared.Pagination{}, errRepoMissing
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown status %s", shared.ErrValidation, filter.Status)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	orders, total, err := s.repo.ListPOs(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(page.Page, page.PerPage, total), nil
}

type effect func(ctx context.Context, tx TxRepository, po PurchaseOrder, batch *events.Batch) error

// transition locks the order, checks the transition table, runs the stock
// effect and writes the new status, all in one transaction. Events are only
// published once it committed.
func (s *Service) transition(ctx context.Context, id, actorID int64, action Action, fx effect) (PurchaseOrder, error) {
	if s.repo == nil {
		return PurchaseOrder{}, errRepoMissing
	}
	op := "purchase_order." + string(action)
	ctx, span := tracer.Start(ctx, "procurement."+string(action))
	defer span.End()
	span.SetAttributes(attribute.Int64("purchase_order.id", id))

	var (
		batch events.Batch
		out   PurchaseOrder
		from  POStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := poMachine.Next(po.Status, action)
		if err != nil {
			return fmt.Errorf("procurement: %s: %w", po.Number, err)
		}
		if fx != nil {
			if err := fx(ctx, tx, po, &batch); err != nil {
				return err
			}
		}
		change := StatusChange{ID: po.ID, From: po.Status, To: next, ActorID: actorID, At: s.now()}
		if err := tx.UpdatePOStatus(ctx, change); err != nil {
			return err
		}
		from = po.Status
		change.apply(&po)
		batch.Add(events.NewStatusChanged(events.AggregatePurchaseOrder, events.StatusChange{
			ID: po.ID, Number: po.Number, From: string(from), To: string(next), ActorID: actorID, At: change.At,
		}))
		out = po
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveRejection(op, string(shared.KindOf(err)))
		s.logger.Debug("purchase order transition rejected", slog.Int64("po_id", id), slog.String("action", string(action)), slog.Any("error", err))
		return PurchaseOrder{}, err
	}
	s.metrics.ObserveTransition(module, string(from), string(out.Status))
	batch.Flush(ctx, s.sink, s.logger)
	s.recordAudit(ctx, actorID, "purchase_order:"+string(action), out.ID, string(from), string(out.Status), map[string]any{"number": out.Number})
	return out, nil
}

func (s *Service) resolve(ctx context.Context, in CreateInput) error {
	if s.directory == nil {
		return nil
	}
	if _, err := s.directory.Supplier(ctx, in.SupplierID); err != nil {
		return err
	}
	if _, err := s.directory.Location(ctx, in.LocationID); err != nil {
		return err
	}
	for _, it := range in.Items {
		if err := masterdata.ResolveItem(ctx, s.directory, it.ProductID, it.VariantID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, id, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  module,
		RefID:   shared.ApprovalRef(module, id),
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	}); err != nil {
		s.logger.Warn("record approval", slog.Int64("po_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, from, to string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: entityID,
		From:     from,
		To:       to,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit purchase order", slog.Int64("po_id", entityID), slog.Any("error", err))
	}
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, at.Format("20060102"), at.Nanosecond()/1000)
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
