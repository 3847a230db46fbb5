package procurement

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

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errRepoMissing
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

const poColumns = `id, number, supplier_id, location_id, status, total, COALESCE(note, ''), COALESCE(created_by, 0),
COALESCE(approved_by, 0), created_at, updated_at, approved_at, ordered_at, received_at, cancelled_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.LocationID, &status, &po.Total, &po.Note, &po.CreatedBy,
		&po.ApprovedBy, &po.CreatedAt, &po.UpdatedAt, &po.ApprovedAt, &po.OrderedAt, &po.ReceivedAt, &po.CancelledAt)
	po.Status = POStatus(status)
	return po, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, poID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, product_id, variant_id, quantity, unit_cost
FROM purchase_order_items WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func notFound(id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
	}
	return err
}

// GetPO returns the order with its items.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, notFound(id, err)
	}
	if po.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// ListPOs returns one page of orders and the total match count.
func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
	}
	if filter.SupplierID > 0 {
		add("supplier_id=$%d", filter.SupplierID)
	}
	if filter.LocationID > 0 {
		add("location_id=$%d", filter.LocationID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM purchase_orders%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		poColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

func (r *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, location_id, status, total, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		po.Number, po.SupplierID, po.LocationID, string(po.Status), po.Total, po.Note, nullInt(po.CreatedBy), po.CreatedAt, po.UpdatedAt,
	).Scan(&po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	for i := range po.Items {
		it := &po.Items[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (po_id, product_id, variant_id, quantity, unit_cost)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, po.ID, it.ProductID, it.VariantID, it.Quantity, it.UnitCost).Scan(&it.ID); err != nil {
			return PurchaseOrder{}, err
		}
	}
	return po, nil
}

func (r *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, notFound(id, err)
	}
	if po.Items, err = loadItems(ctx, r.tx, id); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *txRepo) UpdatePOStatus(ctx context.Context, c StatusChange) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, updated_at=$4,
approved_by = CASE WHEN $3='APPROVED' THEN $5 ELSE approved_by END,
approved_at = CASE WHEN $3='APPROVED' THEN $4 ELSE approved_at END,
ordered_at = CASE WHEN $3='ORDERED' THEN $4 ELSE ordered_at END,
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

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
