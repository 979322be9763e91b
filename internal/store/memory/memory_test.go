package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bancart/internal/domain"
	"bancart/internal/store"
)

func TestNewSeededCatalog(t *testing.T) {
	products, err := NewSeeded().ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 8)
	assert.Equal(t, "Espresso", products[0].Name)
	assert.Equal(t, int64(450), products[0].PriceCents)
}

func TestAddTabLineFreezesPriceAndDecrementsStock(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, domain.Product{Name: "Beer", PriceCents: 900, Stock: 3})
	require.NoError(t, err)

	line, err := s.AddTabLine(ctx, 2, p.ID, 2, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1800), line.TotalCents)

	p.PriceCents = 1000
	_, err = s.UpdateProduct(ctx, *p)
	require.NoError(t, err)

	open, err := s.ListOpenLines(ctx, 2)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(1800), open[0].TotalCents)

	_, err = s.AddTabLine(ctx, 2, p.ID, 2, time.Now())
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	_, err = s.AddTabLine(ctx, 0, p.ID, 1, time.Now())
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = s.AddTabLine(ctx, 2, 99, 1, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
}

func TestCreateCounterSaleChecksRunningTotals(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, domain.Product{Name: "Cake", PriceCents: 1100, Stock: 3})
	require.NoError(t, err)

	_, err = s.CreateCounterSale(ctx, []domain.CounterSaleLine{
		{ProductID: p.ID, Qty: 2},
		{ProductID: p.ID, Qty: 2},
	}, "CASH", time.Now())
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	_, err = s.CreateCounterSale(ctx, nil, "CASH", time.Now())
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCreateCounterSaleRecordsLineSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, domain.Product{Name: "Beer", PriceCents: 1000, Stock: 5})
	require.NoError(t, err)

	p.Name = "Beer IPA"
	p.PriceCents = 1500
	_, err = s.UpdateProduct(ctx, *p)
	require.NoError(t, err)

	created, err := s.CreateCounterSale(ctx, []domain.CounterSaleLine{
		{ProductID: p.ID, Qty: 2, ProductName: "Beer", TotalCents: 2000},
	}, "CASH", time.Now())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Beer", created[0].ProductName)
	assert.Equal(t, int64(2000), created[0].TotalCents)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}

func TestCloseTabAndOccupancy(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	for _, tab := range []int{9, 4, 9} {
		_, err := s.AddTabLine(ctx, tab, 1, 1, time.Now())
		require.NoError(t, err)
	}

	occupied, err := s.OccupiedTabIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 9}, occupied)

	closed, err := s.CloseTab(ctx, 9, "PIX")
	require.NoError(t, err)
	assert.Len(t, closed, 2)

	occupied, err = s.OccupiedTabIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, occupied)
}

func TestListClosedSalesWindow(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{day.Add(-time.Second), day, day.Add(10 * time.Hour), day.Add(24 * time.Hour)} {
		_, err := s.CreateCounterSale(ctx, []domain.CounterSaleLine{{ProductID: 2, Qty: 1}}, "CASH", at)
		require.NoError(t, err)
	}

	lines, err := s.ListClosedSales(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, lines[0].CreatedAt.After(lines[1].CreatedAt))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, domain.Product{Name: "Soda", PriceCents: 600, Stock: 10})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.AddTabLine(ctx, 1+i%5, p.ID, 1, time.Now())
			} else {
				_, err = s.CreateCounterSale(ctx, []domain.CounterSaleLine{{ProductID: p.ID, Qty: 1}}, "CASH", time.Now())
			}
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, sold)
	assert.Zero(t, got.Stock)
}
