package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "otp:"

// RedisStore keeps codes in redis, expiry handled by redis TTLs
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, key string, code string, ttl time.Duration) error {
	err := s.client.Set(ctx, keyPrefix+key, code, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	code, err := s.client.Get(ctx, keyPrefix+key).Result()

	switch {
	case err == nil:
		return code, nil
	case errors.Is(err, redis.Nil):
		return "", ErrCodeNotFound
	default:
		return "", fmt.Errorf("redis error: %w", err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, keyPrefix+key).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	return nil
}
