package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/shoe-store/internal/port"
)

const (
	stockStatusKeyPrefix     = "stock-status:"
	defaultIdempotencyKeyTTL = 24 * time.Hour
	stockStatusTTL           = 10 * time.Minute
)

// RedisAdapter holds idempotency keys and a read-through copy of product
// stock flags. The database stays the source of truth for both.
type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, idempotencyTTL time.Duration) *RedisAdapter {
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyKeyTTL
	}
	return &RedisAdapter{client: client, idempotencyTTL: idempotencyTTL}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) SetStockStatus(ctx context.Context, productID string, inStock bool) error {
	value := "0"
	if inStock {
		value = "1"
	}
	return r.client.Set(ctx, stockStatusKeyPrefix+productID, value, stockStatusTTL).Err()
}

func (r *RedisAdapter) GetStockStatuses(ctx context.Context, productIDs []string) (map[string]bool, error) {
	statuses := make(map[string]bool, len(productIDs))
	if len(productIDs) == 0 {
		return statuses, nil
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = stockStatusKeyPrefix + id
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		statuses[productIDs[i]] = raw == "1"
	}
	return statuses, nil
}

// NopCache is used when no Redis address is configured. Idempotency keys
// are always accepted and stock flags are never cached.
type NopCache struct{}

func (NopCache) SetIdempotency(ctx context.Context, key string) (bool, error) { return true, nil }

func (NopCache) ReleaseIdempotency(ctx context.Context, key string) error { return nil }

func (NopCache) SetStockStatus(ctx context.Context, productID string, inStock bool) error {
	return nil
}

func (NopCache) GetStockStatuses(ctx context.Context, productIDs []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

var (
	_ port.CacheRepository = (*RedisAdapter)(nil)
	_ port.CacheRepository = NopCache{}
)
