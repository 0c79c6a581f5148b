/**
 * @description
 * This file provides the persistent key-value store used to cache per-user
 * state as JSON blobs under namespaced keys. Redis backs the production
 * implementation; an in-memory implementation serves tests and local
 * development when no Redis URL is configured.
 *
 * Each feature owns a disjoint key prefix, so no cross-key transaction is
 * ever needed. Values carry no version field: a blob that fails to parse is
 * replaced with a freshly-initialized default and rewritten.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when a key has never been written.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the get/set string-blob surface shared by all features.
type KVStore interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// RedisKVStore implements KVStore on a Redis client. All keys are placed
// under a single prefix so the store can share a Redis database with the
// rate limiter.
type RedisKVStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKVStore creates a Redis-backed store under the given prefix.
func NewRedisKVStore(client redis.UniversalClient, prefix string) *RedisKVStore {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "glowcheck:kv"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	return &RedisKVStore{client: client, prefix: trimmed}
}

func (s *RedisKVStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *RedisKVStore) GetItem(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *RedisKVStore) SetItem(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

func (s *RedisKVStore) RemoveItem(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// MemoryKVStore is a process-local KVStore. It is used by tests and as the
// fallback when REDIS_URL is not configured.
type MemoryKVStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryKVStore creates an empty in-memory store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{items: make(map[string]string)}
}

func (s *MemoryKVStore) GetItem(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return value, nil
}

func (s *MemoryKVStore) SetItem(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryKVStore) RemoveItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// LoadJSON reads the blob at key into a value of type T. A missing key yields
// the provided default. A blob that fails to parse is replaced by the default,
// which is written back so the next read succeeds.
func LoadJSON[T any](ctx context.Context, kv KVStore, key string, defaultValue T) (T, error) {
	raw, err := kv.GetItem(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		// Corrupt blob: substitute the default and rewrite it.
		if saveErr := SaveJSON(ctx, kv, key, defaultValue); saveErr != nil {
			return defaultValue, saveErr
		}
		return defaultValue, nil
	}
	return value, nil
}

// SaveJSON marshals value and writes it at key.
func SaveJSON(ctx context.Context, kv KVStore, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return kv.SetItem(ctx, key, string(raw))
}
