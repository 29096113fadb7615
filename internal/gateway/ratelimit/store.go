package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisClient "github.com/flowmesh/core/internal/common/redis"
)

// Store persists algorithm state keyed by rate-limit key. Values are
// JSON-encoded into the caller-provided destination struct, never decoded
// generically: a corrupted or malicious blob can fail to unmarshal into the
// expected struct, but it can never cause arbitrary code execution the way
// a gob or pickle-style decoder of an open type could.
type Store interface {
	Load(ctx context.Context, key string, dest interface{}) (bool, error)
	Save(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Lock scopes a critical section per key so concurrent requests for the
	// same key serialize their read-modify-write. Returns an unlock func.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryStore is a per-process map with per-key mutexes. An expired entry
// is dropped when it is next loaded; there is no background TTL sweep.
// Appropriate for single-instance gateways or as the default local backend
// alongside Redis for distributed deployments.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	expires map[string]time.Time
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		data:    map[string][]byte{},
		expires: map[string]time.Time{},
		locks:   map[string]*sync.Mutex{},
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[key]
	expiry, hasExpiry := s.expires[key]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	if hasExpiry && time.Now().After(expiry) {
		s.mu.Lock()
		delete(s.data, key)
		delete(s.expires, key)
		s.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("ratelimit: failed to decode state for %s: %w", key, err)
	}
	return true, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ratelimit: failed to encode state for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	if ttl > 0 {
		s.expires[key] = time.Now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock, nil
}

// RedisStore persists state as JSON blobs in Redis with server-side TTL.
// Locking uses the same SETNX-based distributed lock the rest of the
// platform shares (internal/common/redis), trading a little latency for
// correctness across multiple gateway instances.
type RedisStore struct {
	client *redisClient.Client
}

func NewRedisStore(client *redisClient.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := s.client.Get(ctx, "ratelimit:"+key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis get failed for %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("ratelimit: failed to decode state for %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ratelimit: failed to encode state for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, "ratelimit:"+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis set failed for %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "ratelimit-lock:" + key
	for {
		ok, err := s.client.AcquireLock(ctx, lockKey, 2*time.Second)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return func() { s.client.ReleaseLock(context.Background(), lockKey) }, nil
}
