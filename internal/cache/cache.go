package cache

import (
	"context"
	"time"

	"bancart/internal/domain"
)

// CatalogKey holds the full product list. Writes delete it rather than
// patching it.
const CatalogKey = "bancart:catalog:v1"

// CatalogCache stores the product list for UI reads. Stock checks on the
// write path never go through it.
type CatalogCache interface {
	Get(ctx context.Context) ([]domain.Product, bool, error)
	Set(ctx context.Context, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context) error {
	return nil
}
