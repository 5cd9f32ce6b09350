package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hourse/backend/pkg/logger"
)

// Limiter decides whether the connection identified by key may handle
// another event.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Forget(key string)
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// MemoryLimiter is a token bucket per key: burst tokens, refilled at one
// token per interval.
type MemoryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	rate     float64
	now      func() time.Time
}

func NewMemoryLimiter(burst int, interval time.Duration) *MemoryLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &MemoryLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(burst),
		rate:     1 / interval.Seconds(),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastCheck: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
	}
	b.lastCheck = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

func (l *MemoryLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// RedisLimiter counts events per key in fixed windows of burst*interval.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, burst int, interval time.Duration) *RedisLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &RedisLimiter{
		client: client,
		limit:  int64(burst),
		window: time.Duration(burst) * interval,
		prefix: "hourse:realtime:rate:",
		now:    time.Now,
	}
}

// NewRedisLimiterFromURL parses a redis:// URL and pings the server.
func NewRedisLimiterFromURL(ctx context.Context, url string, burst int, interval time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLimiter(client, burst, interval), nil
}

func (l *RedisLimiter) windowKey(key string) string {
	slot := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("%s%s:%d", l.prefix, key, slot)
}

// Allow fails open: when redis is unreachable the event is allowed and the
// error is returned for logging.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := l.windowKey(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= l.limit, nil
}

func (l *RedisLimiter) Forget(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.client.Del(ctx, l.windowKey(key)).Err(); err != nil {
		logger.Warn("realtime_rate_forget_failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
