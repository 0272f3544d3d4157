package shortlink

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/logging"
)

const keyPrefix = "short:"

// RedisStore keeps links as plain string keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logging.Info("Redis connected", zap.String("addr", addr))
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Resolve(ctx context.Context, token string) (string, error) {
	id, err := s.client.Get(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", token, err)
	}
	return id, nil
}

// Register picks a free token with SETNX so concurrent registrations never
// overwrite each other.
func (s *RedisStore) Register(ctx context.Context, itemID string) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		token, err := newToken()
		if err != nil {
			return "", err
		}
		ok, err := s.client.SetNX(ctx, keyPrefix+token, itemID, 0).Result()
		if err != nil {
			return "", fmt.Errorf("redis setnx %s: %w", token, err)
		}
		if ok {
			return token, nil
		}
	}
	return "", fmt.Errorf("no free token after %d attempts", maxAttempts)
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
