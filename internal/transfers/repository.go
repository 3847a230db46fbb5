package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errRepoMissing
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

const transferColumns = `id, number, from_location_id, to_location_id, status, COALESCE(note, ''), COALESCE(created_by, 0),
COALESCE(approved_by, 0), created_at, updated_at, approved_at, shipped_at, received_at, cancelled_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var status string
	err := row.Scan(&t.ID, &t.Number, &t.FromLocationID, &t.ToLocationID, &status, &t.Note, &t.CreatedBy,
		&t.ApprovedBy, &t.CreatedAt, &t.UpdatedAt, &t.ApprovedAt, &t.ShippedAt, &t.ReceivedAt, &t.CancelledAt)
	t.Status = Status(status)
	return t, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, product_id, variant_id, requested_quantity, shipped_quantity, received_quantity
FROM transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.RequestedQuantity, &it.ShippedQuantity, &it.ReceivedQuantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func wrapNotFound(id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: transfer %d", shared.ErrNotFound, id)
	}
	return err
}

// GetTransfer returns the transfer with its items.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id))
	if err != nil {
		return Transfer{}, wrapNotFound(id, err)
	}
	if t.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// ListTransfers returns one page of transfers without items.
func (r *Repository) ListTransfers(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("(from_location_id=$%[1]d OR to_location_id=$%[1]d)", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM transfers%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		transferColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *txRepo) CreateTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO transfers (number, from_location_id, to_location_id, status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		t.Number, t.FromLocationID, t.ToLocationID, string(t.Status), t.Note, nullInt(t.CreatedBy), t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return Transfer{}, err
	}
	for i := range t.Items {
		it := &t.Items[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO transfer_items (transfer_id, product_id, variant_id, requested_quantity)
VALUES ($1,$2,$3,$4) RETURNING id`, t.ID, it.ProductID, it.VariantID, it.RequestedQuantity).Scan(&it.ID); err != nil {
			return Transfer{}, err
		}
	}
	return t, nil
}

func (r *txRepo) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, wrapNotFound(id, err)
	}
	if t.Items, err = loadItems(ctx, r.tx, id); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func (r *txRepo) UpdateTransferStatus(ctx context.Context, c StatusChange) error {
	tag, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$3, updated_at=$4,
approved_by = CASE WHEN $3='APPROVED' THEN $5 WHEN $3='PENDING' THEN NULL ELSE approved_by END,
approved_at = CASE WHEN $3='APPROVED' THEN $4 WHEN $3='PENDING' THEN NULL ELSE approved_at END,
shipped_at = CASE WHEN $3='IN_TRANSIT' THEN $4 ELSE shipped_at END,
received_at = CASE WHEN $3='RECEIVED' THEN $4 ELSE received_at END,
cancelled_at = CASE WHEN $3='CANCELLED' THEN $4 ELSE cancelled_at END
WHERE id=$1 AND status=$2`, c.ID, string(c.From), string(c.To), c.At, nullInt(c.ActorID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *txRepo) UpdateItemQuantities(ctx context.Context, transferID int64, items []Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`UPDATE transfer_items SET shipped_quantity=$3, received_quantity=$4 WHERE id=$1 AND transfer_id=$2`,
			it.ID, transferID, it.ShippedQuantity, it.ReceivedQuantity)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
