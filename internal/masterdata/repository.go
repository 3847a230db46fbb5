package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgRepository reads the directory tables.
type pgRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates a PostgreSQL backed directory repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	const query = `SELECT id, sku, name, unit_of_measure, min_stock, max_stock FROM products WHERE id = $1 AND deleted_at IS NULL`
	var p Product
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.SKU, &p.Name, &p.UnitOfMeasure, &p.MinStock, &p.MaxStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, notFound("product", id)
	}
	return p, err
}

func (r *pgRepository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	const query = `SELECT id, product_id, sku, name FROM product_variants WHERE id = $1`
	var v Variant
	err := r.db.QueryRow(ctx, query, id).Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, notFound("variant", id)
	}
	return v, err
}

func (r *pgRepository) GetLocation(ctx context.Context, id int64) (Location, error) {
	const query = `SELECT id, code, name, type FROM locations WHERE id = $1`
	var l Location
	var typ string
	err := r.db.QueryRow(ctx, query, id).Scan(&l.ID, &l.Code, &l.Name, &typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, notFound("location", id)
	}
	l.Type = LocationType(typ)
	return l, err
}

func (r *pgRepository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	const query = `SELECT id, code, name FROM suppliers WHERE id = $1 AND is_active`
	var s Supplier
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.Code, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, notFound("supplier", id)
	}
	return s, err
}

func (r *pgRepository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, type FROM locations ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var l Location
		var typ string
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &typ); err != nil {
			return nil, err
		}
		l.Type = LocationType(typ)
		locations = append(locations, l)
	}
	return locations, rows.Err()
}
