package relayer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedConst(n uint64) SeedFunc {
	return func(context.Context) (uint64, error) { return n, nil }
}

func newRedisStore(t *testing.T) (*RedisNonceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisNonceStore(client, "test", time.Hour), mr
}

func storesUnderTest(t *testing.T) map[string]NonceStore {
	redisStore, _ := newRedisStore(t)
	return map[string]NonceStore{
		"memory": NewMemoryNonceStore(),
		"redis":  redisStore,
	}
}

func TestNonceStore_ReserveSeedsOnce(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			calls := 0
			seed := func(context.Context) (uint64, error) {
				calls++
				return 7, nil
			}
			n, err := store.Reserve(ctx, "0xAbC", seed)
			require.NoError(t, err)
			assert.Equal(t, uint64(7), n)

			n, err = store.Reserve(ctx, "0xabc", seed)
			require.NoError(t, err)
			assert.Equal(t, uint64(8), n, "address lookup is case-insensitive")
			assert.Equal(t, 1, calls)
		})
	}
}

func TestNonceStore_ReserveSeedError(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Reserve(context.Background(), "0xabc", func(context.Context) (uint64, error) {
				return 0, errors.New("rpc down")
			})
			assert.Error(t, err)
		})
	}
}

func TestNonceStore_ConcurrentReserveIsUnique(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 32
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = map[uint64]bool{}
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := store.Reserve(context.Background(), "0xabc", seedConst(0))
					assert.NoError(t, err)
					mu.Lock()
					defer mu.Unlock()
					assert.False(t, seen[n], "nonce %d issued twice", n)
					seen[n] = true
				}()
			}
			wg.Wait()
			assert.Len(t, seen, workers)
			for i := uint64(0); i < workers; i++ {
				assert.True(t, seen[i])
			}
		})
	}
}

func TestNonceStore_Consume(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.ErrorIs(t, store.Consume(ctx, "0xabc", 0), ErrNonceNotIssued)

			n, err := store.Reserve(ctx, "0xabc", seedConst(5))
			require.NoError(t, err)

			require.NoError(t, store.Consume(ctx, "0xabc", n))
			assert.ErrorIs(t, store.Consume(ctx, "0xabc", n), ErrNonceUsed)
			assert.ErrorIs(t, store.Consume(ctx, "0xabc", n+1), ErrNonceNotIssued)

			require.NoError(t, store.Release(ctx, "0xabc", n))
			assert.NoError(t, store.Consume(ctx, "0xabc", n), "released nonce can be consumed again")
		})
	}
}

func TestNonceStore_Sync(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Reserve(ctx, "0xabc", seedConst(0))
			require.NoError(t, err)

			require.NoError(t, store.Sync(ctx, "0xabc", 42))
			n, err := store.Reserve(ctx, "0xabc", seedConst(0))
			require.NoError(t, err)
			assert.Equal(t, uint64(42), n)
		})
	}
}

func TestRedisNonceStore_Keys(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "0xABC", seedConst(3))
	require.NoError(t, err)
	require.NoError(t, store.Consume(ctx, "0xABC", 3))

	v, err := mr.Get("test:nonce:0xabc")
	require.NoError(t, err)
	assert.Equal(t, "4", v)
	assert.True(t, mr.Exists("test:used:0xabc:3"))
	assert.Greater(t, mr.TTL("test:used:0xabc:3"), time.Duration(0))
}
