package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gabs/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisSessionCache keeps serialized session blobs in Redis so several
// worker processes share one warm cache.
type RedisSessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSessionCache(client *redis.Client, ttl time.Duration) *RedisSessionCache {
	return &RedisSessionCache{client: client, ttl: ttl}
}

func sessionKey(username string) string {
	return fmt.Sprintf("session_blob:%s", username)
}

func (r *RedisSessionCache) Get(ctx context.Context, username string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, sessionKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session blob from redis: %w", err)
	}
	return val, nil
}

func (r *RedisSessionCache) Set(ctx context.Context, username, blob string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, sessionKey(username), blob, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session blob in redis: %w", err)
	}
	return nil
}

func (r *RedisSessionCache) Invalidate(ctx context.Context, username string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, sessionKey(username)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session blob in redis: %w", err)
	}
	return nil
}
