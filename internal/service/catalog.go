package service

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bancart/internal/cache"
	"bancart/internal/domain"
	"bancart/internal/events"
	"bancart/internal/money"
	"bancart/internal/store"
)

// ListProducts serves the catalog from the read cache when it can. Callers
// get their own copy of the slice.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, ok, err := s.cache.Get(ctx)
	if err != nil {
		logger().Warn("catalog cache read failed", zap.Error(err))
	} else if ok {
		return products, nil
	}

	v, err, _ := s.fills.Do(cache.CatalogKey, func() (any, error) {
		products, err := s.repo.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, products, s.catalogTTL); err != nil {
			logger().Warn("catalog cache write failed", zap.Error(err))
		}
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]domain.Product)), nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// SearchProducts matches a case-insensitive substring of the name or the
// exact code. An empty term returns the whole catalog.
func (s *Service) SearchProducts(ctx context.Context, term string) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return products, nil
	}

	needle := strings.ToLower(term)
	matches := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), needle) || (p.Code != "" && strings.EqualFold(p.Code, term)) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// LowStock lists products with stock under threshold, lowest first. It is a
// display helper and never gates a sale.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	if threshold < 1 {
		threshold = s.lowStock
	}
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	low := make([]domain.Product, 0, 8)
	for _, p := range products {
		if p.Stock < threshold {
			low = append(low, p)
		}
	}
	slices.SortFunc(low, func(a, b domain.Product) int {
		if c := cmp.Compare(a.Stock, b.Stock); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return low, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	product, err := productFromRequest(req)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.catalogChanged(ctx, created.ID, "create")
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductRequest) (domain.Product, error) {
	product, err := productFromRequest(req)
	if err != nil {
		return domain.Product{}, err
	}
	product.ID = id

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.catalogChanged(ctx, updated.ID, "update")
	return *updated, nil
}

// DeleteProduct removes the product from the catalog. Past sales keep their
// own copy of the name and total.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.catalogChanged(ctx, id, "delete")
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, id int64, req domain.StockAdjustRequest) (domain.Product, error) {
	if req.Delta == 0 {
		return domain.Product{}, errors.Wrap(store.ErrValidation, "delta must not be zero")
	}
	adjusted, err := s.repo.AdjustStock(ctx, id, req.Delta)
	if err != nil {
		return domain.Product{}, err
	}
	s.catalogChanged(ctx, id, "stock")
	if adjusted.Stock < s.lowStock {
		s.dispatch(events.StockLow{
			ProductID: adjusted.ID,
			Name:      adjusted.Name,
			Stock:     adjusted.Stock,
			Threshold: s.lowStock,
		})
	}
	return *adjusted, nil
}

func (s *Service) catalogChanged(ctx context.Context, productID int64, action string) {
	if err := s.cache.Invalidate(ctx); err != nil {
		logger().Warn("catalog cache invalidate failed", zap.Int64("product_id", productID), zap.Error(err))
	}
	s.dispatch(events.CatalogChanged{ProductID: productID, Action: action})
}

func productFromRequest(req domain.ProductRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, errors.Wrap(store.ErrValidation, "name is required")
	}
	priceCents, err := money.ParseCents(req.Price)
	if err != nil {
		return domain.Product{}, errors.Wrap(store.ErrValidation, err.Error())
	}
	if req.Stock < 0 {
		return domain.Product{}, errors.Wrap(store.ErrValidation, "stock must not be negative")
	}

	return domain.Product{
		Name:       name,
		PriceCents: priceCents,
		Stock:      req.Stock,
		Code:       strings.TrimSpace(req.Code),
	}, nil
}
