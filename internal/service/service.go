package service

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"bancart/internal/cache"
	"bancart/internal/events"
	"bancart/internal/store"
)

const (
	DefaultTabCount          = 20
	DefaultLowStockThreshold = 5
	DefaultCatalogTTL        = 2 * time.Second
)

type EventDispatcher interface {
	Dispatch(event events.Event) error
}

type Options struct {
	TabCount          int
	LowStockThreshold int
	CatalogTTL        time.Duration
	Cache             cache.CatalogCache
	Events            EventDispatcher
	Location          *time.Location
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Service is the order and inventory engine: tabs, counter carts and the
// catalog reads that feed them. Every write goes through one repository
// transaction; the service only validates input and reports what happened.
type Service struct {
	repo       store.Repository
	cache      cache.CatalogCache
	events     EventDispatcher
	tabCount   int
	lowStock   int
	catalogTTL time.Duration
	location   *time.Location
	clock      func() time.Time
	fills      singleflight.Group
}

func New(repo store.Repository, opts Options) *Service {
	if opts.TabCount < 1 {
		opts.TabCount = DefaultTabCount
	}
	if opts.LowStockThreshold < 1 {
		opts.LowStockThreshold = DefaultLowStockThreshold
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = DefaultCatalogTTL
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopCatalogCache{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:       repo,
		cache:      opts.Cache,
		events:     opts.Events,
		tabCount:   opts.TabCount,
		lowStock:   opts.LowStockThreshold,
		catalogTTL: opts.CatalogTTL,
		location:   opts.Location,
		clock:      opts.Clock,
	}
}

func (s *Service) TabCount() int {
	return s.tabCount
}

func (s *Service) Location() *time.Location {
	return s.location
}

func (s *Service) now() time.Time {
	return s.clock().In(s.location)
}

func (s *Service) validateTab(tabID int) error {
	if tabID < 1 || tabID > s.tabCount {
		return errors.Wrapf(store.ErrValidation, "tab %d outside 1..%d", tabID, s.tabCount)
	}
	return nil
}

func normalizePayment(raw string) (string, error) {
	method := strings.TrimSpace(raw)
	if method == "" {
		return "", errors.Wrap(store.ErrValidation, "payment method is required")
	}
	return method, nil
}

func (s *Service) dispatch(e events.Event) {
	if err := s.events.Dispatch(e); err != nil {
		logger().Warn("event dispatch failed", zap.String("topic", e.Type()), zap.Error(err))
	}
}

// warnLowStock re-reads the given products after a committed sale and emits
// a StockLow event for each one now under the threshold. Read failures are
// logged only; the sale has already been committed.
func (s *Service) warnLowStock(ctx context.Context, productIDs ...int64) {
	seen := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		product, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			logger().Debug("low stock check skipped", zap.Int64("product_id", id), zap.Error(err))
			continue
		}
		if product.Stock < s.lowStock {
			s.dispatch(events.StockLow{
				ProductID: product.ID,
				Name:      product.Name,
				Stock:     product.Stock,
				Threshold: s.lowStock,
			})
		}
	}
}

func logger() *zap.Logger {
	return zap.L().With(zap.String("component", "service"))
}
