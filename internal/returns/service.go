package returns

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

const module = "returns"

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-stock/internal/returns")

// TxRepository exposes transactional operations.
type TxRepository interface {
	inventory.TxRepository
	CreateReturn(ctx context.Context, r Return) (Return, error)
	GetReturnForUpdate(ctx context.Context, id int64) (Return, error)
	// UpdateReturnStatus returns ErrStaleStatus when the row no longer holds
	// change.From.
	UpdateReturnStatus(ctx context.Context, change StatusChange) error
	// SaveRestock stores the returned-to-stock flag and per-item restock marks.
	SaveRestock(ctx context.Context, r Return) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (Return, error)
	ListReturns(ctx context.Context, filter ListFilter) ([]Return, int, error)
}

// DirectoryPort validates locations and products.
type DirectoryPort interface {
	masterdata.Catalog
	Location(ctx context.Context, id int64) (masterdata.Location, error)
}

// ApprovalPort records approve and reject decisions.
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

// Service orchestrates the return and exchange workflow.
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
	return &Service{repo: repo, ledger: ledger, directory: directory, opts: opts, logger: logger,
		now: func() time.Time { return time.Now().UTC() }}
}

// Create stores a PENDING return. The refund defaults to the sum of the
// returned lines unless overridden.
func (s *Service) Create(ctx context.Context, in CreateInput) (out Return, err error) {
	if s.repo == nil {
		return Return{}, errRepoMissing
	}
	defer func() {
		if err != nil {
			s.opts.Metrics.ObserveRejection("return.create", string(shared.KindOf(err)))
		}
	}()
	if err := in.validate(); err != nil {
		return Return{}, err
	}
	if err := s.resolve(ctx, in); err != nil {
		return Return{}, err
	}
	if idem := s.opts.Idempotency; idem != nil && in.IdempotencyKey != "" {
		if err := idem.CheckAndInsert(ctx, in.IdempotencyKey, module); err != nil {
			return Return{}, err
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
	r := Return{
		Number:       strings.TrimSpace(in.Number),
		Type:         in.Type,
		LocationID:   in.LocationID,
		Reason:       strings.TrimSpace(in.Reason),
		RefundAmount: in.refund(),
		RefundMethod: in.RefundMethod,
		Status:       StatusPending,
		CreatedBy:    in.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if r.Number == "" {
		prefix := "RET"
		if r.Type == TypeExchange {
			prefix = "EXC"
		}
		r.Number = fmt.Sprintf("%s-%s-%06d", prefix, now.Format("20060102"), now.Nanosecond()/1000)
	}
	for _, it := range in.Items {
		r.Items = append(r.Items, Item{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity,
			UnitPrice: it.UnitPrice, Condition: it.Condition})
	}
	for _, rp := range in.Replacements {
		r.Replacements = append(r.Replacements, Replacement{ProductID: rp.ProductID, VariantID: rp.VariantID, Quantity: rp.Quantity})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.CreateReturn(ctx, r)
		return err
	})
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, in.ActorID, "return:create", out.ID, "", string(out.Status), map[string]any{
		"number": out.Number,
		"type":   string(out.Type),
		"refund": out.RefundAmount.String(),
	})
	return out, nil
}

// Approve accepts a pending return.
func (s *Service) Approve(ctx context.Context, id, actorID int64, note string) (Return, error) {
	r, err := s.transition(ctx, id, actorID, ActionApprove, note, nil)
	if err != nil {
		return Return{}, err
	}
	s.recordApproval(ctx, r.ID, actorID, shared.ApprovalApprove, note)
	return r, nil
}

// Reject declines a pending return; stock is never touched.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (Return, error) {
	r, err := s.transition(ctx, id, actorID, ActionReject, reason, nil)
	if err != nil {
		return Return{}, err
	}
	s.recordApproval(ctx, r.ID, actorID, shared.ApprovalReject, reason)
	return r, nil
}

// Process completes an approved return. With returnToStock set, NEW and USED
// items are booked back in; DAMAGED and DEFECTIVE items never are. Exchange
// replacements are taken out of stock in the same transaction, so a missing
// replacement fails the whole call. Completed returns cannot be processed
// again.
func (s *Service) Process(ctx context.Context, id, actorID int64, returnToStock bool) (Return, error) {
	return s.transition(ctx, id, actorID, ActionProcess, "", func(ctx context.Context, tx TxRepository, r *Return, batch *events.Batch) error {
		ref := inventory.Reference{Type: inventory.RefReturn, ID: r.ID}
		var keys []inventory.StockKey
		for _, it := range r.Items {
			if returnToStock && it.Condition.Restockable() {
				keys = append(keys, r.key(it.ProductID, it.VariantID))
			}
		}
		for _, rp := range r.Replacements {
			keys = append(keys, r.key(rp.ProductID, rp.VariantID))
		}
		if err := s.ledger.Lock(ctx, tx, keys...); err != nil {
			return err
		}

		for i := range r.Items {
			it := &r.Items[i]
			if !returnToStock || !it.Condition.Restockable() {
				continue
			}
			entry, err := s.ledger.Commit(ctx, tx, inventory.CommitInput{
				Key:       r.key(it.ProductID, it.VariantID),
				Movement:  inventory.MovementIn,
				Reason:    inventory.ReasonReturn,
				Quantity:  it.Quantity,
				Reference: ref,
				ActorID:   actorID,
				Note:      fmt.Sprintf("%s %s", r.Number, it.Condition),
			})
			if err != nil {
				return fmt.Errorf("returns: restock %s item %d: %w", r.Number, it.ID, err)
			}
			it.Restocked = true
			inventory.AddEntries(batch, entry)
		}
		for _, rp := range r.Replacements {
			entry, err := s.ledger.Commit(ctx, tx, inventory.CommitInput{
				Key:       r.key(rp.ProductID, rp.VariantID),
				Movement:  inventory.MovementOut,
				Reason:    inventory.ReasonExchange,
				Quantity:  rp.Quantity,
				Reference: ref,
				ActorID:   actorID,
				Note:      r.Number,
			})
			if err != nil {
				return fmt.Errorf("returns: exchange %s replacement %d: %w", r.Number, rp.ID, err)
			}
			inventory.AddEntries(batch, entry)
		}
		r.ReturnedToStock = returnToStock
		return tx.SaveRestock(ctx, *r)
	})
}

// Get loads one return.
func (s *Service) Get(ctx context.Context, id int64) (Return, error) {
	if s.repo == nil {
		return Return{}, errRepoMissing
	}
	return s.repo.GetReturn(ctx, id)
}

// List pages through returns, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Return, shared.Pagination, error) {
	if s.repo == nil {
		return nil, shared.Pagination{}, errRepoMissing
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown status %s", shared.ErrValidation, filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown type %s", shared.ErrValidation, filter.Type)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	out, total, err := s.repo.ListReturns(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(page.Page, page.PerPage, total), nil
}

func (r Return) key(productID, variantID int64) inventory.StockKey {
	return inventory.StockKey{LocationID: r.LocationID, ProductID: productID, VariantID: variantID}
}

type effect func(ctx context.Context, tx TxRepository, r *Return, batch *events.Batch) error

func (s *Service) transition(ctx context.Context, id, actorID int64, action Action, note string, fx effect) (Return, error) {
	if s.repo == nil {
		return Return{}, errRepoMissing
	}
	ctx, span := tracer.Start(ctx, "returns."+string(action))
	defer span.End()
	span.SetAttributes(attribute.Int64("return.id", id))

	var (
		batch events.Batch
		out   Return
		from  Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := machine.Next(r.Status, action)
		if err != nil {
			return fmt.Errorf("returns: %s: %w", r.Number, err)
		}
		if fx != nil {
			if err := fx(ctx, tx, &r, &batch); err != nil {
				return err
			}
		}
		change := StatusChange{ID: r.ID, From: r.Status, To: next, ActorID: actorID, Note: note, At: s.now()}
		if err := tx.UpdateReturnStatus(ctx, change); err != nil {
			return err
		}
		from = r.Status
		change.apply(&r)
		batch.Add(events.NewStatusChanged(events.AggregateReturn, events.StatusChange{
			ID: r.ID, Number: r.Number, From: string(from), To: string(next), ActorID: actorID, At: change.At,
		}))
		out = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.Metrics.ObserveRejection("return."+string(action), string(shared.KindOf(err)))
		return Return{}, err
	}
	s.opts.Metrics.ObserveTransition(module, string(from), string(out.Status))
	batch.Flush(ctx, s.opts.Sink, s.logger)
	s.recordAudit(ctx, actorID, "return:"+string(action), out.ID, string(from), string(out.Status), map[string]any{
		"number":            out.Number,
		"returned_to_stock": out.ReturnedToStock,
	})
	return out, nil
}

func (s *Service) resolve(ctx context.Context, in CreateInput) error {
	if s.directory == nil {
		return nil
	}
	if _, err := s.directory.Location(ctx, in.LocationID); err != nil {
		return err
	}
	for _, it := range in.Items {
		if err := masterdata.ResolveItem(ctx, s.directory, it.ProductID, it.VariantID); err != nil {
			return err
		}
	}
	for _, rp := range in.Replacements {
		if err := masterdata.ResolveItem(ctx, s.directory, rp.ProductID, rp.VariantID); err != nil {
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
		s.logger.Warn("record approval", slog.Int64("return_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, from, to string, meta map[string]any) {
	if s.opts.Audit == nil {
		return
	}
	if err := s.opts.Audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "return",
		EntityID: id,
		From:     from,
		To:       to,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit return", slog.Int64("return_id", id), slog.Any("error", err))
	}
}
