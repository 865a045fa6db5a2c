package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omni/vault-custody/config"
)

const (
	scanBatchSize = 100

	redisTTLMissing  = time.Duration(-2)
	redisTTLNoExpire = time.Duration(-1)
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("can't connect to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (res string, err error) {
	defer ObserveDuration("get")()
	defer func() { ObserveError("get", err) }()

	res, err = s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("can't get key %s: %w", key, err)
	}
	return res, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	defer ObserveDuration("set")()
	defer func() { ObserveError("set", err) }()

	if ttl < 0 {
		ttl = 0
	}
	if err = s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("can't set key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (n int, err error) {
	if len(keys) == 0 {
		return 0, nil
	}
	defer ObserveDuration("del")()
	defer func() { ObserveError("del", err) }()

	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("can't delete keys: %w", err)
	}
	return int(deleted), nil
}

func (s *RedisStore) DelByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	total := 0
	for start := 0; start < len(keys); start += scanBatchSize {
		end := start + scanBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		n, err := s.Del(ctx, keys[start:end]...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) (keys []string, err error) {
	defer ObserveDuration("scan")()
	defer func() { ObserveError("scan", err) }()

	keys = make([]string, 0)
	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err = iter.Err(); err != nil {
		return nil, fmt.Errorf("can't scan keys by pattern %s: %w", pattern, err)
	}
	return keys, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (ttl time.Duration, err error) {
	defer ObserveDuration("ttl")()
	defer func() { ObserveError("ttl", err) }()

	ttl, err = s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("can't get ttl of key %s: %w", key, err)
	}
	switch ttl {
	case redisTTLMissing:
		return 0, ErrKeyNotFound
	case redisTTLNoExpire:
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer ObserveDuration("exists")()
	defer func() { ObserveError("exists", err) }()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("can't check key %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
