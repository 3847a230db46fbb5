package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-stock/internal/events"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	StockTx
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// GetStock returns the row or a zero row for key.
	GetStock(ctx context.Context, key StockKey) (LocationStock, error)
	ListProductStock(ctx context.Context, productID int64) ([]LocationStock, error)
	// ListEntries returns entries of filter.Key in ledger order.
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
	// ListKeys pages through stock rows in key order, starting after after.
	ListKeys(ctx context.Context, after StockKey, limit int) ([]StockKey, error)
}

// DirectoryPort resolves locations and products.
type DirectoryPort interface {
	masterdata.Catalog
	Location(ctx context.Context, id int64) (masterdata.Location, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates standalone inventory operations: stock queries, manual
// adjustments, counts and ledger verification.
type Service struct {
	repo      RepositoryPort
	ledger    *Ledger
	directory DirectoryPort
	sink      events.Sink
	audit     AuditPort
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, directory DirectoryPort, sink events.Sink, audit AuditPort, logger *slog.Logger) *Service {
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, directory: directory, sink: sink, audit: audit, logger: logger}
}

// Get returns the stock row for key; a missing row reads as zero stock.
func (s *Service) Get(ctx context.Context, key StockKey) (LocationStock, error) {
	if err := key.validate(); err != nil {
		return LocationStock{}, err
	}
	stock, err := s.repo.GetStock(ctx, key)
	if err != nil {
		return LocationStock{}, err
	}
	stock.StockKey = key
	return stock, nil
}

// ProductStock sums every location row of a product.
func (s *Service) ProductStock(ctx context.Context, productID int64) (ProductStock, error) {
	if productID <= 0 {
		return ProductStock{}, fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	rows, err := s.repo.ListProductStock(ctx, productID)
	if err != nil {
		return ProductStock{}, err
	}
	out := ProductStock{ProductID: productID, Locations: rows}
	for _, row := range rows {
		out.Quantity += row.Quantity
		out.Reserved += row.Reserved
	}
	out.Available = out.Quantity - out.Reserved
	if out.Locations == nil {
		out.Locations = []LocationStock{}
	}
	return out, nil
}

// Entries lists the stock card of one row.
func (s *Service) Entries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	if err := filter.Key.validate(); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListEntries(ctx, filter)
}

// SetThresholds sets the replenishment bounds of a row.
func (s *Service) SetThresholds(ctx context.Context, key StockKey, minStock, maxStock int64) (LocationStock, error) {
	if err := key.validate(); err != nil {
		return LocationStock{}, err
	}
	if minStock < 0 || maxStock < 0 || (maxStock > 0 && minStock > maxStock) {
		return LocationStock{}, fmt.Errorf("%w: min %d max %d", ErrInvalidThresholds, minStock, maxStock)
	}
	if err := s.resolve(ctx, key); err != nil {
		return LocationStock{}, err
	}
	var out LocationStock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, key)
		if err != nil {
			return err
		}
		stock.StockKey = key
		stock.MinStock = minStock
		stock.MaxStock = maxStock
		stock.UpdatedAt = s.ledger.now()
		out = stock
		return tx.UpsertStock(ctx, stock)
	})
	return out, err
}

// Adjust records a manual signed correction such as damage write-off.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (LedgerEntry, error) {
	switch in.Reason {
	case ReasonDamage, ReasonCorrection:
	case "":
		in.Reason = ReasonCorrection
	default:
		return LedgerEntry{}, fmt.Errorf("%w: manual adjustments use DAMAGE or CORRECTION, got %s", ErrInvalidMovement, in.Reason)
	}
	if err := in.Key.validate(); err != nil {
		return LedgerEntry{}, err
	}
	if err := s.resolve(ctx, in.Key); err != nil {
		return LedgerEntry{}, err
	}
	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.ledger.Commit(ctx, tx, CommitInput{
			Key:       in.Key,
			Movement:  MovementAdjustment,
			Reason:    in.Reason,
			Quantity:  in.Quantity,
			Reference: Reference{Type: RefManual},
			ActorID:   in.ActorID,
			Note:      in.Note,
		})
		return err
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	s.afterCommit(ctx, "inventory:adjust", in.ActorID, entry)
	return entry, nil
}

// Count records a physical count for one row.
func (s *Service) Count(ctx context.Context, in CountInput) (LedgerEntry, bool, error) {
	if err := in.Key.validate(); err != nil {
		return LedgerEntry{}, false, err
	}
	if err := s.resolve(ctx, in.Key); err != nil {
		return LedgerEntry{}, false, err
	}
	var (
		entry    LedgerEntry
		recorded bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, recorded, err = s.ledger.Count(ctx, tx, in)
		return err
	})
	if err != nil {
		return LedgerEntry{}, false, err
	}
	if recorded {
		s.afterCommit(ctx, "inventory:count", in.ActorID, entry)
	}
	return entry, recorded, nil
}

// Verify replays the full ledger of key and compares it with the stored row.
func (s *Service) Verify(ctx context.Context, key StockKey) (VerifyResult, error) {
	if err := key.validate(); err != nil {
		return VerifyResult{}, err
	}
	stock, err := s.repo.GetStock(ctx, key)
	if err != nil {
		return VerifyResult{}, err
	}
	entries, err := s.repo.ListEntries(ctx, EntryFilter{Key: key})
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{
		Key:         key,
		Stored:      stock.Quantity,
		Replayed:    Replay(entries)[key],
		Entries:     len(entries),
		ChainBreaks: chainBreaks(entries),
	}, nil
}

// Keys pages through known stock rows; used by the verification job.
func (s *Service) Keys(ctx context.Context, after StockKey, limit int) ([]StockKey, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.repo.ListKeys(ctx, after, limit)
}

func (s *Service) resolve(ctx context.Context, key StockKey) error {
	if s.directory == nil {
		return nil
	}
	if _, err := s.directory.Location(ctx, key.LocationID); err != nil {
		return err
	}
	return masterdata.ResolveItem(ctx, s.directory, key.ProductID, key.VariantID)
}

func (s *Service) afterCommit(ctx context.Context, action string, actorID int64, entry LedgerEntry) {
	var batch events.Batch
	AddEntries(&batch, entry)
	batch.Flush(ctx, s.sink, s.logger)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "stock_ledger",
			EntityID: entry.ID,
			Meta: map[string]any{
				"key":      entry.StockKey.String(),
				"reason":   string(entry.Reason),
				"quantity": entry.Quantity,
			},
		}); err != nil {
			s.logger.Warn("audit inventory entry", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
		}
	}
}
