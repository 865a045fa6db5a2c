package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrKeyNotFound = errors.New("key not found")

// Store is a string key-value store with per-key expiration.
// Patterns accepted by Keys and DelByPattern are either an exact key or a
// prefix followed by a single trailing '*'.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int, error)
	DelByPattern(ctx context.Context, pattern string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL returns the remaining lifetime of the key, or 0 if it never expires.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

func matchPattern(pattern, key string) bool {
	if prefix := strings.TrimSuffix(pattern, "*"); prefix != pattern {
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}
