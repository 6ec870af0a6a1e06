package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no cached session exists for a key.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable is returned when Redis cannot serve the request.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrCorrupt is returned when a stored blob cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

const minSlidingTTL = time.Second

// Store is a Redis-backed session cache with optional sliding expiration.
type Store struct {
	redis         redis.UniversalClient
	prefix        string
	ttl           time.Duration
	sliding       bool
	jitterEnabled bool
	jitterRange   time.Duration
	now           func() time.Time
}

// NewStore creates a cache backed by client. ttl of zero keeps records
// until they are deleted.
func NewStore(
	client redis.UniversalClient,
	prefix string,
	ttl time.Duration,
	sliding bool,
	jitterEnabled bool,
	jitterRange time.Duration,
) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{
		redis:         client,
		prefix:        prefix,
		ttl:           ttl,
		sliding:       sliding,
		jitterEnabled: jitterEnabled,
		jitterRange:   jitterRange,
		now:           time.Now,
	}
}

func (s *Store) key(sessionKey string) string {
	if sessionKey == "" {
		sessionKey = "current"
	}
	return s.prefix + ":" + sessionKey
}

// Save overwrites the record stored under sessionKey.
func (s *Store) Save(ctx context.Context, sessionKey string, rec *Record) error {
	if rec == nil {
		return errors.New("nil session record")
	}
	out := *rec
	out.Version = RecordVersion
	if out.SavedAt == 0 {
		out.SavedAt = s.now().Unix()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	ttl := s.ttl
	if ttl > 0 && s.jitterEnabled {
		j, err := randomJitter(s.jitterRange)
		if err != nil {
			return err
		}
		if ttl+j > minSlidingTTL {
			ttl += j
		}
	}

	if err := s.redis.Set(ctx, s.key(sessionKey), data, ttl).Err(); err != nil {
		return errors.Join(ErrRedisUnavailable, err)
	}
	return nil
}

// Load returns the cached record. With sliding expiration the TTL is renewed
// on every successful read.
func (s *Store) Load(ctx context.Context, sessionKey string) (*Record, error) {
	key := s.key(sessionKey)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrRedisUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Version != RecordVersion {
		_ = s.redis.Del(ctx, key).Err()
		return nil, ErrCorrupt
	}

	if s.sliding && s.ttl >= minSlidingTTL {
		// renewal failure must not fail the read
		_ = s.redis.Expire(ctx, key, s.ttl).Err()
	}
	return &rec, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, sessionKey string) error {
	if err := s.redis.Del(ctx, s.key(sessionKey)).Err(); err != nil {
		return errors.Join(ErrRedisUnavailable, err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrRedisUnavailable, err)
	}
	return nil
}

func randomJitter(jitterRange time.Duration) (time.Duration, error) {
	if jitterRange <= 0 {
		return 0, nil
	}

	max := jitterRange.Nanoseconds()
	if max > (math.MaxInt64-1)/2 {
		return 0, errors.New("jitter range too large")
	}
	span := max*2 + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, err
	}

	return time.Duration(n.Int64() - max), nil
}
