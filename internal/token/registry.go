package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry is the server-side record of issued tokens. A token whose
// registry entry is gone is invalid no matter what its signature says; this
// is what makes revocation effective before natural expiry.
type Registry interface {
	Save(ctx context.Context, key string, token string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Save(ctx context.Context, key string, token string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("registry save: %w", err)
	}
	return nil
}

// Get returns the stored token value, or "" when the entry is absent or
// already expired.
func (r *RedisRegistry) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("registry get: %w", err)
	}
	return value, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("registry delete: %w", err)
	}
	return nil
}

func (r *RedisRegistry) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.Delete(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("registry scan: %w", err)
	}
	return r.Delete(ctx, batch...)
}
