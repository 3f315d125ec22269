package metrics

import (
	"context"
	"time"

	"github.com/mmdatafocus/depletions_backend/config"
)

// Cache holds metric inputs keyed by query and ledger watermark. Any append
// for the SKU moves the watermark, so entries never go stale; the TTL only
// bounds memory.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisCache uses the process Redis client and is a no-op while Redis is not
// connected.
type RedisCache struct{}

func (RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	return config.GetRedisObject(ctx, key, dest)
}

func (RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return config.SetRedisObject(ctx, key, value, ttl)
}
