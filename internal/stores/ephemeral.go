package stores

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("stores: record not found")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("stores: backend unavailable")
)

// Ephemeral is the minimal key/value contract the tab store needs.
type Ephemeral interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Consume(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// consumeLua atomically reads and deletes KEYS[1].
// Returns false (redis.Nil) when the key does not exist.
var consumeLua = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
redis.call('DEL', KEYS[1])
return v
`)

// RedisEphemeral stores records in Redis.
type RedisEphemeral struct {
	redis redis.UniversalClient
}

func NewRedisEphemeral(client redis.UniversalClient) *RedisEphemeral {
	return &RedisEphemeral{redis: client}
}

func (r *RedisEphemeral) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (r *RedisEphemeral) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrUnavailable, err)
	}
	return v, nil
}

func (r *RedisEphemeral) Consume(ctx context.Context, key string) ([]byte, error) {
	res, err := consumeLua.Run(ctx, r.redis, []string{key}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrUnavailable, err)
	}
	s, ok := res.(string)
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(s), nil
}

func (r *RedisEphemeral) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, key).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// MemoryEphemeral keeps records in process. It models tab storage that does
// not outlive the process.
type MemoryEphemeral struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemoryEphemeral(defaultTTL time.Duration) *MemoryEphemeral {
	return &MemoryEphemeral{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *MemoryEphemeral) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := append([]byte(nil), value...)
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.mu.Lock()
	m.c.Set(key, cp, ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryEphemeral) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key)
}

func (m *MemoryEphemeral) Consume(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.getLocked(key)
	if err != nil {
		return nil, err
	}
	m.c.Delete(key)
	return v, nil
}

func (m *MemoryEphemeral) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.c.Delete(key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryEphemeral) getLocked(key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), nil
}
