package accounts

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheFetchPopulatesAndServes(t *testing.T) {
	cache, _ := newTestCache(t)
	loads := 0
	loader := func(ctx context.Context) (Account, error) {
		loads++
		return Account{Code: "1000", Name: "Cash", Type: AccountTypeAsset, IsActive: true}, nil
	}

	first, err := cache.Fetch(context.Background(), "1000", loader)
	require.NoError(t, err)
	require.Equal(t, "Cash", first.Name)
	require.Equal(t, 1, loads)

	second, err := cache.Fetch(context.Background(), "1000", loader)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, loads, "second fetch must be served from cache")
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	cache, _ := newTestCache(t)
	loads := 0
	loader := func(ctx context.Context) (Account, error) {
		loads++
		return Account{Code: "1000", Name: "Cash", Type: AccountTypeAsset}, nil
	}

	_, err := cache.Fetch(context.Background(), "1000", loader)
	require.NoError(t, err)
	cache.Invalidate(context.Background(), "1000")
	_, err = cache.Fetch(context.Background(), "1000", loader)
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

func TestNilCachePassesThrough(t *testing.T) {
	var cache *Cache
	account, err := cache.Fetch(context.Background(), "1000", func(ctx context.Context) (Account, error) {
		return Account{Code: "1000"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "1000", account.Code)
	cache.Invalidate(context.Background(), "1000")
}
