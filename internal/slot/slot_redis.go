package slot

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type RedisSlot struct {
	client *redis.Client
}

func NewRedisSlot(client *redis.Client) *RedisSlot {
	return &RedisSlot{client: client}
}

func (s *RedisSlot) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v     string
		found bool
	)

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		val, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		v, found = val, true
		return nil
	})
	if err != nil {
		return "", false, mapRedisErr(err)
	}
	return v, found, nil
}

func (s *RedisSlot) Set(ctx context.Context, key, value string) error {
	return mapRedisErr(withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, 0).Err()
	}))
}

func (s *RedisSlot) Ping(ctx context.Context) error {
	return mapRedisErr(withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	}))
}

func (s *RedisSlot) Close() error {
	return s.client.Close()
}

func mapRedisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}
