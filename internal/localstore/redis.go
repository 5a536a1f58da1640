package localstore

import (
	"context"
	"errors"
	"time"

	"ikak/internal/cache"

	"github.com/redis/go-redis/v9"
)

// RedisStorage stores one browser session's keys in Redis so the state
// survives a web host restart.
type RedisStorage struct {
	client    *redis.Client
	sessionID string
	ttl       time.Duration
}

// NewRedisStorage returns a Storage namespaced to sessionID. A zero ttl
// keeps keys until they are removed.
func NewRedisStorage(client *redis.Client, sessionID string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, sessionID: sessionID, ttl: ttl}
}

// Get implements Storage.
func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, cache.SessionKey(s.sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements Storage.
func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, cache.SessionKey(s.sessionID, key), value, s.ttl).Err()
}

// Remove implements Storage.
func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, cache.SessionKey(s.sessionID, key)).Err()
}
