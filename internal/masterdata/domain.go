package masterdata

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// LocationType classifies a stock-holding site.
type LocationType string

const (
	LocationStore     LocationType = "STORE"
	LocationWarehouse LocationType = "WAREHOUSE"
	LocationEcommerce LocationType = "ECOMMERCE"
)

// Valid reports whether t is a known location type.
func (t LocationType) Valid() bool {
	switch t {
	case LocationStore, LocationWarehouse, LocationEcommerce:
		return true
	}
	return false
}

// Product represents a stocked item.
type Product struct {
	ID            int64  `json:"id"`
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	UnitOfMeasure string `json:"unit_of_measure"`
	MinStock      int64  `json:"min_stock"`
	MaxStock      int64  `json:"max_stock"`
}

// Variant is an optional size/colour refinement of a product.
type Variant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
}

// Location is a store, warehouse or e-commerce fulfilment node.
type Location struct {
	ID   int64        `json:"id"`
	Code string       `json:"code"`
	Name string       `json:"name"`
	Type LocationType `json:"type"`
}

// Supplier represents a purchasing counterparty.
type Supplier struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Repository loads directory records. Missing records yield an error wrapping
// shared.ErrNotFound.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetVariant(ctx context.Context, id int64) (Variant, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListLocations(ctx context.Context) ([]Location, error)
}

// Catalog is the product side of the directory.
type Catalog interface {
	Product(ctx context.Context, id int64) (Product, error)
	Variant(ctx context.Context, id int64) (Variant, error)
}

// ResolveItem checks that the product exists and, when variantID is non-zero,
// that the variant belongs to it.
func ResolveItem(ctx context.Context, catalog Catalog, productID, variantID int64) error {
	if _, err := catalog.Product(ctx, productID); err != nil {
		return err
	}
	if variantID == 0 {
		return nil
	}
	variant, err := catalog.Variant(ctx, variantID)
	if err != nil {
		return err
	}
	if variant.ProductID != productID {
		return fmt.Errorf("%w: variant %d does not belong to product %d", shared.ErrValidation, variantID, productID)
	}
	return nil
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", shared.ErrNotFound, entity, id)
}
