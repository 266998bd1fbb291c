package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisBalanceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBalanceStore(client, time.Hour), mr
}

func TestRedisBalanceStoreRoundTripsDecimalStrings(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, found)

	precise := decimal.RequireFromString("0.999999999999999999999999999999999")
	require.NoError(t, store.Set(ctx, 42, precise))

	raw, err := mr.Get("matchfunds:balance:42")
	require.NoError(t, err)
	assert.Equal(t, "0.999999999999999999999999999999999", raw)
	assert.Equal(t, time.Hour, mr.TTL("matchfunds:balance:42"))

	got, found, err := store.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(precise))

	require.NoError(t, store.Delete(ctx, 42))
	assert.False(t, mr.Exists("matchfunds:balance:42"))
}

func TestRedisBalanceStoreCompareAndSet(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	ok, err := store.CompareAndSet(ctx, 1, nil, decimal.RequireFromString("10.00"))
	require.NoError(t, err)
	assert.True(t, ok, "absent key should be seeded")

	ok, err = store.CompareAndSet(ctx, 1, nil, decimal.RequireFromString("99"))
	require.NoError(t, err)
	assert.False(t, ok, "seeding must not overwrite an existing balance")

	stale := decimal.RequireFromString("9")
	ok, err = store.CompareAndSet(ctx, 1, &stale, decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.False(t, ok)

	current := decimal.RequireFromString("10")
	ok, err = store.CompareAndSet(ctx, 1, &current, decimal.RequireFromString("4.00"))
	require.NoError(t, err)
	assert.True(t, ok, "10 and 10.00 compare equal")

	got, _, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "4", got.String())

	missing := decimal.RequireFromString("1")
	ok, err = store.CompareAndSet(ctx, 2, &missing, decimal.Zero)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBalanceStoreSetIfAbsent(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, 7, decimal.RequireFromString("5"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.SetIfAbsent(ctx, 7, decimal.RequireFromString("6"))
	require.NoError(t, err)
	assert.False(t, ok)

	got, _, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "5", got.String())
}

func TestRedisBalanceStoreConcurrentCompareAndSetNeverLosesUpdates(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, 3, decimal.Zero))

	const workers = 8
	const perWorker = 10
	one := decimal.NewFromInt(1)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perWorker; n++ {
				for {
					current, _, err := store.Get(ctx, 3)
					if err != nil {
						t.Errorf("get: %v", err)
						return
					}
					ok, err := store.CompareAndSet(ctx, 3, &current, current.Add(one))
					if err != nil {
						t.Errorf("cas: %v", err)
						return
					}
					if ok {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	got, _, err := store.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), got.IntPart())
}

func TestMemoryBalanceStoreMatchesRedisSemantics(t *testing.T) {
	store := NewMemoryBalanceStore()
	ctx := context.Background()

	ok, err := store.CompareAndSet(ctx, 1, nil, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = store.CompareAndSet(ctx, 1, nil, decimal.NewFromInt(3))
	assert.False(t, ok)

	expected := decimal.RequireFromString("3.00")
	ok, _ = store.CompareAndSet(ctx, 1, &expected, decimal.NewFromInt(2))
	assert.True(t, ok)

	ok, _ = store.SetIfAbsent(ctx, 1, decimal.NewFromInt(9))
	assert.False(t, ok)
	require.NoError(t, store.Delete(ctx, 1))
	_, found, _ := store.Get(ctx, 1)
	assert.False(t, found)
}
