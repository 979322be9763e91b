package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bancart/internal/domain"
	"bancart/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("BANCART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BANCART_TEST_DATABASE_URL to run postgres integration test")
	}
	require.NoError(t, Migrate(databaseURL))

	s, err := New(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestAddTabLineAndCloseTabRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:       fmt.Sprintf("Integration Juice %d", stamp),
		PriceCents: 1000,
		Stock:      5,
	})
	require.NoError(t, err)

	// Tab ids far above the venue range keep the test away from real data.
	tabID := int(stamp%100000) + 1000
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE tab_id = $1`, tabID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	line, err := s.AddTabLine(ctx, tabID, product.ID, 2, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), line.TotalCents)

	_, err = s.AddTabLine(ctx, tabID, product.ID, 4, time.Now())
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	refreshed, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, refreshed.Stock)

	closed, err := s.CloseTab(ctx, tabID, "CASH")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "CASH", closed[0].PaymentMethod)
	assert.Equal(t, domain.SaleStatusClosed, closed[0].Status)

	open, err := s.ListOpenLines(ctx, tabID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestConcurrentAddTabLineNeverOversells(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:       fmt.Sprintf("Integration Beer %d", stamp),
		PriceCents: 900,
		Stock:      3,
	})
	require.NoError(t, err)
	tabID := int(stamp%100000) + 200000
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE tab_id = $1`, tabID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AddTabLine(ctx, tabID, product.ID, 3, time.Now())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)

	refreshed, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, refreshed.Stock)
}
