package cache

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"

	"bancart/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type RedisCatalogCache struct {
	client redis.UniversalClient
	key    string
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCatalogCache{client: client, key: CatalogKey}
}

// NewRedisCatalogCacheWithClient wraps an existing client under a custom key.
func NewRedisCatalogCacheWithClient(client redis.UniversalClient, key string) *RedisCatalogCache {
	return &RedisCatalogCache{client: client, key: key}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) Get(ctx context.Context) ([]domain.Product, bool, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get catalog")
	}

	var products []domain.Product
	if err := json.Unmarshal(val, &products); err != nil {
		return nil, false, errors.Wrap(err, "decode cached catalog")
	}
	return products, true, nil
}

func (c *RedisCatalogCache) Set(ctx context.Context, products []domain.Product, ttl time.Duration) error {
	if products == nil {
		return nil
	}
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return errors.Wrap(c.client.Set(ctx, c.key, payload, ttl).Err(), "redis set catalog")
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context) error {
	return errors.Wrap(c.client.Del(ctx, c.key).Err(), "redis del catalog")
}
