package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	limiter := NewMemoryLimiter(2, time.Second)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "conn-a")
		require.NoError(t, err)
		assert.True(t, allowed, "event %d should fit in the burst", i+1)
	}
	allowed, _ := limiter.Allow(ctx, "conn-a")
	assert.False(t, allowed, "burst exhausted")

	allowed, _ = limiter.Allow(ctx, "conn-b")
	assert.True(t, allowed, "keys are independent")

	now = now.Add(time.Second)
	allowed, _ = limiter.Allow(ctx, "conn-a")
	assert.True(t, allowed, "one token refilled after one interval")
	allowed, _ = limiter.Allow(ctx, "conn-a")
	assert.False(t, allowed)

	limiter.Forget("conn-a")
	allowed, _ = limiter.Allow(ctx, "conn-a")
	assert.True(t, allowed, "forgotten key starts with a full bucket")
}

func TestMemoryLimiterDefaults(t *testing.T) {
	limiter := NewMemoryLimiter(0, 0)
	assert.Equal(t, float64(1), limiter.capacity)
	assert.Equal(t, float64(1), limiter.rate)
}

func newTestRedisLimiter(t *testing.T, burst int, interval time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, burst, interval), mr
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newTestRedisLimiter(t, 2, time.Second)
	now := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "conn-a")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, "conn-a")
	require.NoError(t, err)
	assert.False(t, allowed, "third event in the window is limited")

	allowed, err = limiter.Allow(ctx, "conn-b")
	require.NoError(t, err)
	assert.True(t, allowed)

	key := limiter.windowKey("conn-a")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Second, mr.TTL(key))

	now = now.Add(2 * time.Second)
	allowed, err = limiter.Allow(ctx, "conn-a")
	require.NoError(t, err)
	assert.True(t, allowed, "next window starts fresh")

	limiter.Forget("conn-a")
	assert.False(t, mr.Exists(limiter.windowKey("conn-a")))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 1, time.Second)
	mr.Close()

	allowed, err := limiter.Allow(context.Background(), "conn-a")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestNewRedisLimiterFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewRedisLimiterFromURL(context.Background(), "redis://"+mr.Addr(), 5, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })
	assert.Equal(t, int64(5), limiter.limit)
	assert.Equal(t, 5*time.Second, limiter.window)

	_, err = NewRedisLimiterFromURL(context.Background(), "not a url", 5, time.Second)
	assert.Error(t, err)
}
