package accounts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nordstay/nordstay/internal/shared"
)

// Cache is a read-through redis cache for account snapshots. A nil Cache (or a
// nil client) degrades to pass-through so tests and tools can run without
// redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Fetch loads the cached account or populates it using the loader. Cache
// transport errors fall through to the loader; only loader errors surface.
func (c *Cache) Fetch(ctx context.Context, code string, loader func(context.Context) (Account, error)) (Account, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := shared.AccountCacheKey(code)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var account Account
		if err := json.Unmarshal(payload, &account); err == nil {
			return account, nil
		}
	}
	account, err := loader(ctx)
	if err != nil {
		return Account{}, err
	}
	if raw, err := json.Marshal(account); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return account, nil
}

// Invalidate drops the cached snapshot after a mutation.
func (c *Cache) Invalidate(ctx context.Context, code string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, shared.AccountCacheKey(code)).Err()
}
