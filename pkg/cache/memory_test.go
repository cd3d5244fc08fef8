package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCandle struct {
	Symbol string
	Close  float64
}

func newTestCache(t *testing.T, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, GenerateKey("price", "BTCUSDT"), 64250.5, time.Minute))

	var price float64
	require.NoError(t, mc.Get(ctx, "price:BTCUSDT", &price))
	assert.Equal(t, 64250.5, price)

	candles := []testCandle{{Symbol: "BTCUSDT", Close: 64250.5}, {Symbol: "BTCUSDT", Close: 64300}}
	require.NoError(t, mc.Set(ctx, "klines:BTCUSDT:15m:100", candles, time.Minute))

	var got []testCandle
	require.NoError(t, mc.Get(ctx, "klines:BTCUSDT:15m:100", &got))
	assert.Equal(t, candles, got)
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := newTestCache(t)

	var price float64
	err := mc.Get(context.Background(), "price:ETHUSDT", &price)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "price:BTCUSDT", 64250.5, 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	var price float64
	err := mc.Get(ctx, "price:BTCUSDT", &price)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheDestValidation(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "price:BTCUSDT", 64250.5, time.Minute))

	var price float64
	err := mc.Get(ctx, "price:BTCUSDT", price)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-nil pointer")

	var wrong string
	err = mc.Get(ctx, "price:BTCUSDT", &wrong)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot assign")
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "klines:BTCUSDT:15m:100", 1, time.Minute))
	require.NoError(t, mc.Set(ctx, "klines:BTCUSDT:1h:100", 2, time.Minute))
	require.NoError(t, mc.Set(ctx, "klines:ETHUSDT:15m:100", 3, time.Minute))

	require.NoError(t, mc.DeleteByPattern(ctx, GenerateKeyWithParams("klines", "BTCUSDT", "*")))

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "klines:BTCUSDT:15m:100", &v), ErrCacheMiss)
	assert.ErrorIs(t, mc.Get(ctx, "klines:BTCUSDT:1h:100", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "klines:ETHUSDT:15m:100", &v))

	err := mc.DeleteByPattern(ctx, "klines:[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad pattern")
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	locked, err := mc.TryLock(ctx, "klines:BTCUSDT:15m:100:fetch", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = mc.TryLock(ctx, "klines:BTCUSDT:15m:100:fetch", time.Minute)
	require.NoError(t, err)
	assert.False(t, locked, "second holder must not acquire a live lock")

	require.NoError(t, mc.Unlock(ctx, "klines:BTCUSDT:15m:100:fetch"))

	locked, err = mc.TryLock(ctx, "klines:BTCUSDT:15m:100:fetch", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "lock must be free again after unlock")
}

func TestMemoryCacheTryLockExpires(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	locked, err := mc.TryLock(ctx, "fetch", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, locked)

	time.Sleep(25 * time.Millisecond)

	locked, err = mc.TryLock(ctx, "fetch", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "expired lock must be reacquirable")
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	mc := newTestCache(t, WithMemoryMaxSize(2))
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Minute))
	time.Sleep(2 * time.Millisecond)

	// Touch "a" so "b" becomes the eviction candidate.
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, mc.Set(ctx, "c", 3, time.Minute))

	assert.NoError(t, mc.Get(ctx, "a", &v))
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "c", &v))
}
