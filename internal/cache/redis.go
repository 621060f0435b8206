// Package cache holds the Redis-backed idempotency keys and metadata cache.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix  = "idem:"
	metadataKeyPrefix     = "meta:"
	defaultIdempotencyTTL = 24 * time.Hour
)

type RedisCache struct {
	client         *redis.Client
	idempotencyTTL time.Duration
}

// NewRedisCache wraps client. A non-positive ttl uses 24h.
func NewRedisCache(client *redis.Client, idempotencyTTL time.Duration) *RedisCache {
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyTTL
	}
	return &RedisCache{client: client, idempotencyTTL: idempotencyTTL}
}

// SetIdempotency claims key. It returns false if the key was already claimed.
func (r *RedisCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseIdempotency frees key so the request can be retried
func (r *RedisCache) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// Get returns a cached metadata document. ok is false on a miss.
func (r *RedisCache) Get(ctx context.Context, uri string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, metadataKeyPrefix+uri).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set caches a metadata document for ttl
func (r *RedisCache) Set(ctx context.Context, uri string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, metadataKeyPrefix+uri, data, ttl).Err()
}
