package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = time.Minute

type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, memoryCleanupInterval),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected value type %T for key %s", v, key)
	}
	return str, nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) (int, error) {
	deleted := 0
	for _, key := range keys {
		if _, ok := s.cache.Get(key); ok {
			deleted++
		}
		s.cache.Delete(key)
	}
	return deleted, nil
}

func (s *MemoryStore) DelByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return s.Del(ctx, keys...)
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	for key := range s.cache.Items() {
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	_, expiration, ok := s.cache.GetWithExpiration(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	if expiration.IsZero() {
		return 0, nil
	}
	return time.Until(expiration), nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.cache.Get(key)
	return ok, nil
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
