package returns

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

// Repository persists returns in PostgreSQL.
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

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const returnColumns = `id, number, type, location_id, reason, refund_amount, COALESCE(refund_method, ''), status,
returned_to_stock, COALESCE(reject_reason, ''), COALESCE(created_by, 0), COALESCE(approved_by, 0), created_at, updated_at,
approved_at, rejected_at, completed_at`

func scanReturn(row pgx.Row) (Return, error) {
	var (
		r                   Return
		typ, method, status string
	)
	err := row.Scan(&r.ID, &r.Number, &typ, &r.LocationID, &r.Reason, &r.RefundAmount, &method, &status,
		&r.ReturnedToStock, &r.RejectReason, &r.CreatedBy, &r.ApprovedBy, &r.CreatedAt, &r.UpdatedAt,
		&r.ApprovedAt, &r.RejectedAt, &r.CompletedAt)
	r.Type, r.RefundMethod, r.Status = Type(typ), RefundMethod(method), Status(status)
	return r, err
}

func load(ctx context.Context, q querier, id int64, lock bool) (Return, error) {
	query := `SELECT ` + returnColumns + ` FROM returns WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	r, err := scanReturn(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, fmt.Errorf("%w: return %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Return{}, err
	}

	rows, err := q.Query(ctx, `SELECT id, product_id, variant_id, quantity, unit_price, condition, restocked
FROM return_items WHERE return_id=$1 ORDER BY id`, id)
	if err != nil {
		return Return{}, err
	}
	for rows.Next() {
		var (
			it   Item
			cond string
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.Quantity, &it.UnitPrice, &cond, &it.Restocked); err != nil {
			rows.Close()
			return Return{}, err
		}
		it.Condition = Condition(cond)
		r.Items = append(r.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Return{}, err
	}

	rows, err = q.Query(ctx, `SELECT id, product_id, variant_id, quantity FROM return_replacements WHERE return_id=$1 ORDER BY id`, id)
	if err != nil {
		return Return{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var rp Replacement
		if err := rows.Scan(&rp.ID, &rp.ProductID, &rp.VariantID, &rp.Quantity); err != nil {
			return Return{}, err
		}
		r.Replacements = append(r.Replacements, rp)
	}
	return r, rows.Err()
}

// GetReturn returns the return with its items and replacements.
func (r *Repository) GetReturn(ctx context.Context, id int64) (Return, error) {
	return load(ctx, r.pool, id, false)
}

// ListReturns returns one page of returns without their lines.
func (r *Repository) ListReturns(ctx context.Context, filter ListFilter) ([]Return, int, error) {
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
	if filter.Type != "" {
		add("type=$%d", string(filter.Type))
	}
	if filter.LocationID > 0 {
		add("location_id=$%d", filter.LocationID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM returns`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM returns%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		returnColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ret)
	}
	return out, total, rows.Err()
}

func (r *txRepo) CreateReturn(ctx context.Context, ret Return) (Return, error) {
	var method any
	if ret.RefundMethod != "" {
		method = string(ret.RefundMethod)
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO returns (number, type, location_id, reason, refund_amount, refund_method, status,
created_by, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		ret.Number, string(ret.Type), ret.LocationID, ret.Reason, ret.RefundAmount, method, string(ret.Status),
		nullInt(ret.CreatedBy), ret.CreatedAt, ret.UpdatedAt).Scan(&ret.ID)
	if err != nil {
		return Return{}, err
	}
	for i := range ret.Items {
		it := &ret.Items[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO return_items (return_id, product_id, variant_id, quantity, unit_price, condition)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, ret.ID, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice, string(it.Condition)).Scan(&it.ID); err != nil {
			return Return{}, err
		}
	}
	for i := range ret.Replacements {
		rp := &ret.Replacements[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO return_replacements (return_id, product_id, variant_id, quantity)
VALUES ($1,$2,$3,$4) RETURNING id`, ret.ID, rp.ProductID, rp.VariantID, rp.Quantity).Scan(&rp.ID); err != nil {
			return Return{}, err
		}
	}
	return ret, nil
}

func (r *txRepo) GetReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	return load(ctx, r.tx, id, true)
}

func (r *txRepo) UpdateReturnStatus(ctx context.Context, c StatusChange) error {
	tag, err := r.tx.Exec(ctx, `UPDATE returns SET status=$3, updated_at=$4,
approved_by = CASE WHEN $3='APPROVED' THEN $5 ELSE approved_by END,
approved_at = CASE WHEN $3='APPROVED' THEN $4 ELSE approved_at END,
rejected_at = CASE WHEN $3='REJECTED' THEN $4 ELSE rejected_at END,
reject_reason = CASE WHEN $3='REJECTED' THEN $6 ELSE reject_reason END,
completed_at = CASE WHEN $3='COMPLETED' THEN $4 ELSE completed_at END
WHERE id=$1 AND status=$2`, c.ID, string(c.From), string(c.To), c.At, nullInt(c.ActorID), c.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *txRepo) SaveRestock(ctx context.Context, ret Return) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE returns SET returned_to_stock=$2 WHERE id=$1`, ret.ID, ret.ReturnedToStock)
	for _, it := range ret.Items {
		batch.Queue(`UPDATE return_items SET restocked=$3 WHERE id=$1 AND return_id=$2`, it.ID, ret.ID, it.Restocked)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
