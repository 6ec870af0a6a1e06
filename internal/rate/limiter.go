package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Config holds window tuning. MaxAttempts <= 0 disables the limiter.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	Prefix      string
}

// Counter increments key and starts its window on the first hit.
type Counter interface {
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter enforces a per-key fixed-window budget.
type Limiter struct {
	counter Counter
	config  Config
}

// New creates a [Limiter] over counter.
func New(counter Counter, cfg Config) *Limiter {
	return &Limiter{
		counter: counter,
		config:  cfg,
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.counter != nil && l.config.MaxAttempts > 0
}

// AllowResend records one verification resend for uid and returns
// ErrRateLimited once the window budget is spent.
func (l *Limiter) AllowResend(ctx context.Context, uid string) error {
	if !l.Enabled() {
		return nil
	}
	count, err := l.counter.IncrementWithTTL(ctx, l.config.Prefix+resendKey(uid), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func resendKey(uid string) string {
	return "rv:" + uid
}

// RedisCounter keeps counters in Redis.
type RedisCounter struct {
	redis redis.UniversalClient
}

// NewRedisCounter returns a Counter backed by client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{redis: client}
}

func (r *RedisCounter) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := r.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}

// MemoryCounter keeps counters in process.
type MemoryCounter struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryCounter returns an in-process Counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (m *MemoryCounter) IncrementWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.c.Add(key, int64(1), ttl); err == nil {
		return 1, nil
	}
	count, err := m.c.IncrementInt64(key, 1)
	if err != nil {
		// expired between Add and Increment
		m.c.Set(key, int64(1), ttl)
		return 1, nil
	}
	return count, nil
}
