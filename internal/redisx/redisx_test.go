package redisx_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb, err := redisx.Connect(context.Background(), addr)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCartStore_ConcurrentUpdatesKeepEveryLine(t *testing.T) {
	rdb := getRedisClient(t)
	ctx := context.Background()
	store := redisx.NewCartStore(rdb)
	customer := "cust-" + uuid.NewString()
	t.Cleanup(func() { _ = store.Delete(ctx, customer) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, customer, func(c *cart.Cart) error {
				c.Lines = append(c.Lines, cart.Line{ProductID: uuid.NewString(), Quantity: 1, PriceSnapshotMinor: int64(i)})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	c, err := store.Get(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, c.Lines, 8)

	require.NoError(t, store.Delete(ctx, customer))
	c, err = store.Get(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.Equal(t, customer, c.CustomerID)
}

func TestLease_SingleHolder(t *testing.T) {
	rdb := getRedisClient(t)
	ctx := context.Background()
	name := "sweep-" + uuid.NewString()
	a := redisx.NewLease(rdb, name)
	b := redisx.NewLease(rdb, name)

	ok, err := a.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// b never held it, so its release must not free a's lease
	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}

func TestClaimsAndDedup(t *testing.T) {
	rdb := getRedisClient(t)
	ctx := context.Background()
	claims := redisx.NewClaims(rdb, time.Minute)
	key := uuid.NewString()

	ok, err := claims.Claim(ctx, "cust-1", key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = claims.Claim(ctx, "cust-1", key)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, claims.Release(ctx, "cust-1", key))
	ok, err = claims.Claim(ctx, "cust-1", key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, claims.Release(ctx, "cust-1", key))

	dedup := redisx.NewDedup(rdb, "test")
	id := uuid.NewString()
	seen, err := dedup.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, dedup.Mark(ctx, id))
	seen, err = dedup.Seen(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestOrderCache(t *testing.T) {
	rdb := getRedisClient(t)
	ctx := context.Background()
	cache := redisx.NewOrderCache(rdb)
	o := orders.Order{ID: uuid.NewString(), CustomerID: "cust-1", Status: orders.StatusConfirmed, TotalMinor: 1200}

	_, ok, err := cache.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, o))
	got, ok, err := cache.Get(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, o.Status, got.Status)
	assert.Equal(t, o.TotalMinor, got.TotalMinor)

	require.NoError(t, cache.Invalidate(ctx, o.ID))
	_, ok, err = cache.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
