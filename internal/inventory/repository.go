package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists stock rows and the ledger in PostgreSQL.
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
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository wraps an open transaction. Workflow repositories embed the
// result so their order updates and stock writes commit together.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

const stockColumns = `location_id, product_id, variant_id, quantity, reserved, min_stock, max_stock, updated_at`

func scanStock(row pgx.Row) (LocationStock, error) {
	var s LocationStock
	err := row.Scan(&s.LocationID, &s.ProductID, &s.VariantID, &s.Quantity, &s.Reserved, &s.MinStock, &s.MaxStock, &s.UpdatedAt)
	return s, err
}

// GetStockForUpdate creates the row on first use so FOR UPDATE always has
// something to lock; two first movements on the same key then serialize.
func (r *txRepository) GetStockForUpdate(ctx context.Context, key StockKey) (LocationStock, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO location_stock (location_id, product_id, variant_id, quantity, reserved, updated_at)
VALUES ($1,$2,$3,0,0,NOW()) ON CONFLICT (location_id, product_id, variant_id) DO NOTHING`, key.LocationID, key.ProductID, key.VariantID); err != nil {
		return LocationStock{}, err
	}
	return scanStock(r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM location_stock
WHERE location_id=$1 AND product_id=$2 AND variant_id=$3 FOR UPDATE`, key.LocationID, key.ProductID, key.VariantID))
}

func (r *txRepository) UpsertStock(ctx context.Context, s LocationStock) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO location_stock (location_id, product_id, variant_id, quantity, reserved, min_stock, max_stock, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (location_id, product_id, variant_id) DO UPDATE SET quantity=EXCLUDED.quantity, reserved=EXCLUDED.reserved,
min_stock=EXCLUDED.min_stock, max_stock=EXCLUDED.max_stock, updated_at=EXCLUDED.updated_at`,
		s.LocationID, s.ProductID, s.VariantID, s.Quantity, s.Reserved, s.MinStock, s.MaxStock, s.UpdatedAt)
	return err
}

func (r *txRepository) InsertEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (location_id, product_id, variant_id, movement, reason, quantity,
previous_quantity, new_quantity, ref_type, ref_id, authoritative, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id, created_at`,
		e.LocationID, e.ProductID, e.VariantID, string(e.Movement), string(e.Reason), e.Quantity,
		e.PreviousQuantity, e.NewQuantity, string(e.Reference.Type), nullInt(e.Reference.ID), e.Authoritative,
		nullInt(e.ActorID), e.Note, e.CreatedAt).Scan(&e.ID, &e.CreatedAt)
	return e, err
}

func (r *Repository) GetStock(ctx context.Context, key StockKey) (LocationStock, error) {
	s, err := scanStock(r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM location_stock
WHERE location_id=$1 AND product_id=$2 AND variant_id=$3`, key.LocationID, key.ProductID, key.VariantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LocationStock{StockKey: key}, nil
	}
	return s, err
}

func (r *Repository) ListProductStock(ctx context.Context, productID int64) ([]LocationStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stockColumns+` FROM location_stock WHERE product_id=$1
ORDER BY location_id, variant_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LocationStock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	query := `SELECT id, location_id, product_id, variant_id, movement, reason, quantity, previous_quantity, new_quantity,
ref_type, COALESCE(ref_id, 0), authoritative, COALESCE(actor_id, 0), note, created_at
FROM stock_ledger
WHERE location_id=$1 AND product_id=$2 AND variant_id=$3
AND created_at BETWEEN COALESCE($4, '-infinity'::timestamptz) AND COALESCE($5, 'infinity'::timestamptz)
ORDER BY id ASC`
	args := []any{filter.Key.LocationID, filter.Key.ProductID, filter.Key.VariantID, nullTime(filter.From), nullTime(filter.To)}
	if filter.Limit > 0 {
		query += ` LIMIT $6`
		args = append(args, filter.Limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var movement, reason, refType string
		if err := rows.Scan(&e.ID, &e.LocationID, &e.ProductID, &e.VariantID, &movement, &reason, &e.Quantity,
			&e.PreviousQuantity, &e.NewQuantity, &refType, &e.Reference.ID, &e.Authoritative, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Movement = Movement(movement)
		e.Reason = Reason(reason)
		e.Reference.Type = ReferenceType(refType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) ListKeys(ctx context.Context, after StockKey, limit int) ([]StockKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT location_id, product_id, variant_id FROM location_stock
WHERE (location_id, product_id, variant_id) > ($1, $2, $3)
ORDER BY location_id, product_id, variant_id LIMIT $4`, after.LocationID, after.ProductID, after.VariantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []StockKey
	for rows.Next() {
		var k StockKey
		if err := rows.Scan(&k.LocationID, &k.ProductID, &k.VariantID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
