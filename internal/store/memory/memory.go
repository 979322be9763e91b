package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"bancart/internal/domain"
	"bancart/internal/store"
)

// Store keeps the catalog and ledger in process memory. Every write holds the
// store mutex for its whole duration, so each transaction is atomic and stock
// checks cannot interleave with decrements.
type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	sales         []domain.SaleLine
	nextProductID int64
	nextSaleID    int64
}

func New() *Store {
	return &Store{
		products:      make(map[int64]domain.Product),
		sales:         make([]domain.SaleLine, 0, 256),
		nextProductID: 1,
		nextSaleID:    1,
	}
}

// NewSeeded returns a store with a small demo menu, used in dev mode and
// tests.
func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{Name: "Espresso", PriceCents: 450, Stock: 200, Code: "7890000000017"},
		{Name: "Cappuccino", PriceCents: 750, Stock: 150, Code: "7890000000024"},
		{Name: "Draft Beer 300ml", PriceCents: 900, Stock: 120, Code: "7890000000031"},
		{Name: "Soda Can", PriceCents: 600, Stock: 96, Code: "7890000000048"},
		{Name: "Mineral Water", PriceCents: 400, Stock: 120, Code: "7890000000055"},
		{Name: "Cheese Toast", PriceCents: 1200, Stock: 40},
		{Name: "French Fries", PriceCents: 1800, Stock: 30},
		{Name: "Chocolate Cake Slice", PriceCents: 1100, Stock: 4},
	} {
		p.ID = s.nextProductID
		s.nextProductID++
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpInt64(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if !store.ValidProduct(product) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product.ID = s.nextProductID
	s.nextProductID++
	product.Code = strings.TrimSpace(product.Code)
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if !store.ValidProduct(product) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id int64, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	product.Stock += delta
	s.products[id] = product
	return &product, nil
}

func (s *Store) AddTabLine(_ context.Context, tabID int, productID int64, qty int, at time.Time) (*domain.SaleLine, error) {
	if tabID <= domain.CounterTabID || qty < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Stock < qty {
		return nil, store.ErrInsufficientStock
	}

	line := domain.SaleLine{
		ID:          s.nextSaleID,
		TabID:       tabID,
		ProductName: product.Name,
		Qty:         qty,
		TotalCents:  product.PriceCents * int64(qty),
		CreatedAt:   at,
		Status:      domain.SaleStatusOpen,
	}
	s.nextSaleID++
	product.Stock -= qty
	s.products[productID] = product
	s.sales = append(s.sales, line)
	return &line, nil
}

func (s *Store) CloseTab(_ context.Context, tabID int, paymentMethod string) ([]domain.SaleLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := make([]domain.SaleLine, 0, 8)
	for i := range s.sales {
		if s.sales[i].TabID != tabID || !s.sales[i].IsOpen() {
			continue
		}
		s.sales[i].Status = domain.SaleStatusClosed
		s.sales[i].PaymentMethod = paymentMethod
		closed = append(closed, s.sales[i])
	}
	return closed, nil
}

func (s *Store) CreateCounterSale(_ context.Context, lines []domain.CounterSaleLine, paymentMethod string, at time.Time) ([]domain.SaleLine, error) {
	if len(lines) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check the whole batch against running totals before touching anything.
	required := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrValidation
		}
		product, exists := s.products[line.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		required[line.ProductID] += line.Qty
		if product.Stock < required[line.ProductID] {
			return nil, store.ErrInsufficientStock
		}
	}

	created := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		product := s.products[line.ProductID]
		name, total := line.Priced(product)
		sale := domain.SaleLine{
			ID:            s.nextSaleID,
			TabID:         domain.CounterTabID,
			ProductName:   name,
			Qty:           line.Qty,
			TotalCents:    total,
			CreatedAt:     at,
			PaymentMethod: paymentMethod,
			Status:        domain.SaleStatusClosed,
		}
		s.nextSaleID++
		product.Stock -= line.Qty
		s.products[line.ProductID] = product
		s.sales = append(s.sales, sale)
		created = append(created, sale)
	}
	return created, nil
}

func (s *Store) ListOpenLines(_ context.Context, tabID int) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SaleLine, 0, 8)
	for _, line := range s.sales {
		if line.TabID == tabID && line.IsOpen() {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (s *Store) OccupiedTabIDs(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int]struct{})
	tabIDs := make([]int, 0, 8)
	for _, line := range s.sales {
		if !line.IsOpen() {
			continue
		}
		if _, ok := seen[line.TabID]; ok {
			continue
		}
		seen[line.TabID] = struct{}{}
		tabIDs = append(tabIDs, line.TabID)
	}
	slices.Sort(tabIDs)
	return tabIDs, nil
}

func (s *Store) ListClosedSales(_ context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SaleLine, 0, 64)
	for _, line := range s.sales {
		if line.Status != domain.SaleStatusClosed {
			continue
		}
		if line.CreatedAt.Before(from) || !line.CreatedAt.Before(to) {
			continue
		}
		lines = append(lines, line)
	}
	slices.SortFunc(lines, func(a, b domain.SaleLine) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpInt64(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return lines, nil
}

func cmpInt64(a int64, b int64) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
