package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bancart/internal/domain"
)

func TestNoopCatalogCacheNeverHits(t *testing.T) {
	c := NoopCatalogCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, []domain.Product{{ID: 1, Name: "Espresso"}}, time.Minute))
	products, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, products)
	assert.NoError(t, c.Invalidate(ctx))
}

func TestRedisCatalogCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("BANCART_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set BANCART_TEST_REDIS_ADDR to run redis cache test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	key := fmt.Sprintf("bancart:test:catalog:%d", time.Now().UnixNano())
	c := NewRedisCatalogCacheWithClient(client, key)
	t.Cleanup(func() {
		_ = c.Invalidate(context.Background())
		_ = c.Close()
	})
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := []domain.Product{{ID: 1, Name: "Espresso", PriceCents: 450, Stock: 3, Code: "789"}}
	require.NoError(t, c.Set(ctx, want, time.Minute))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
