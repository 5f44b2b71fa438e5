package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a Redis server
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis server at redisURL and verifies the connection
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	store := NewRedisStoreFromClient(redis.NewClient(opts))

	// Test connection
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return store, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value stored at key
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", wrapRedisErr("get", key, err)
	}
	return val, nil
}

// Set stores value at key. A zero ttl stores the key without expiry.
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapRedisErr("set", key, err)
	}
	return nil
}

// SetNX issues SET key value NX EX ttl
func (r *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapRedisErr("setnx", key, err)
	}
	return ok, nil
}

// Exists reports whether key is present
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapRedisErr("exists", key, err)
	}
	return count > 0, nil
}

// TTL returns the remaining lifetime of key
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrapRedisErr("ttl", key, err)
	}

	// go-redis passes the raw -2/-1 replies through unscaled
	switch ttl {
	case -2:
		return 0, fmt.Errorf("ttl %s: %w", key, ErrNotFound)
	case -1:
		return NoExpiry, nil
	}
	return ttl, nil
}

// Expire sets a new ttl on an existing key
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return wrapRedisErr("expire", key, err)
	}
	if !ok {
		return fmt.Errorf("expire %s: %w", key, ErrNotFound)
	}
	return nil
}

// HSet sets a single field of the hash at key
func (r *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return wrapRedisErr("hset", key, err)
	}
	return nil
}

// HSetIncr runs HSET and INCR in one MULTI/EXEC transaction
func (r *RedisStore) HSetIncr(ctx context.Context, key, field, value, counter string) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		incr = pipe.Incr(ctx, counter)
		return nil
	})
	if err != nil {
		return 0, wrapRedisErr("hsetincr", key, err)
	}
	return incr.Val(), nil
}

// HGetAll returns every field of the hash at key. A missing hash is empty.
func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapRedisErr("hgetall", key, err)
	}
	return fields, nil
}

// Ping checks the connection to Redis
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection pool
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func wrapRedisErr(op, key string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %v", op, key, ErrUnavailable, err)
}
