package core

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned by session stores for absent or expired keys.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the key-value contract the session manager relies on.
// Every operation must be atomic per key.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetNX stores value only when key does not exist yet and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// SetXX overwrites value and TTL only when key still exists and reports whether it did.
	SetXX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// RedisClientRaw exposes the subset of go-redis used by the session store.
type RedisClientRaw interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	SetXX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisSessionStore implements SessionStore using go-redis.
type RedisSessionStore struct {
	client RedisClientRaw
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// NewRedisSessionStore wraps a redis client with session helpers.
func NewRedisSessionStore(client RedisClientRaw) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *RedisSessionStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisSessionStore) SetXX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetXX(ctx, key, value, ttl).Result()
}

// Delete removes key; deleting an absent key is not an error.
func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Count returns the number of live keys under prefix. It walks the keyspace with SCAN
// and is meant for status reporting, not hot paths.
func (s *RedisSessionStore) Count(ctx context.Context, prefix string) (int64, error) {
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var n int64
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return n, nil
}
