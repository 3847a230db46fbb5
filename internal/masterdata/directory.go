package masterdata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
)

const cachePrefix = "masterdata"

// Directory is the read-only product/location/supplier lookup used by the
// workflows. Records are read through a Redis cache when one is configured and
// concurrent misses for the same key collapse into one repository call.
type Directory struct {
	repo   Repository
	client redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewDirectory builds a directory. client may be nil to disable caching.
func NewDirectory(repo Repository, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{repo: repo, client: client, ttl: ttl, logger: logger}
}

// Product returns a product by id.
func (d *Directory) Product(ctx context.Context, id int64) (Product, error) {
	return lookup(ctx, d, "product", id, d.repo.GetProduct)
}

// Variant returns a variant by id.
func (d *Directory) Variant(ctx context.Context, id int64) (Variant, error) {
	return lookup(ctx, d, "variant", id, d.repo.GetVariant)
}

// Location returns a location by id.
func (d *Directory) Location(ctx context.Context, id int64) (Location, error) {
	return lookup(ctx, d, "location", id, d.repo.GetLocation)
}

// Supplier returns a supplier by id.
func (d *Directory) Supplier(ctx context.Context, id int64) (Supplier, error) {
	return lookup(ctx, d, "supplier", id, d.repo.GetSupplier)
}

// Locations lists every location, uncached.
func (d *Directory) Locations(ctx context.Context) ([]Location, error) {
	return d.repo.ListLocations(ctx)
}

// Invalidate drops a cached record after the source row changed.
func (d *Directory) Invalidate(ctx context.Context, entity string, id int64) error {
	if d.client == nil {
		return nil
	}
	return d.client.Del(ctx, cacheKey(entity, id)).Err()
}

func cacheKey(entity string, id int64) string {
	return strings.Join([]string{cachePrefix, entity, strconv.FormatInt(id, 10)}, ":")
}

func lookup[T any](ctx context.Context, d *Directory, entity string, id int64, load func(context.Context, int64) (T, error)) (T, error) {
	var zero T
	if id <= 0 {
		return zero, notFound(entity, id)
	}
	key := cacheKey(entity, id)
	v, err, _ := d.group.Do(key, func() (any, error) {
		var cached T
		if d.client != nil {
			hit, err := cache.GetJSON(ctx, d.client, key, &cached)
			if err != nil {
				d.logger.Warn("directory cache read", slog.String("key", key), slog.Any("error", err))
			} else if hit {
				return cached, nil
			}
		}
		record, err := load(ctx, id)
		if err != nil {
			return zero, err
		}
		if d.client != nil {
			if err := cache.SetJSON(ctx, d.client, key, record, d.ttl); err != nil {
				d.logger.Warn("directory cache write", slog.String("key", key), slog.Any("error", err))
			}
		}
		return record, nil
	})
	if err != nil {
		return zero, fmt.Errorf("masterdata: %w", err)
	}
	return v.(T), nil
}
