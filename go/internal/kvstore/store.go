package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist (or has expired)
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable wraps any failure to reach the backing store
	ErrUnavailable = errors.New("store unavailable")
)

// NoExpiry is returned by TTL for keys that exist without an expiry
const NoExpiry time.Duration = -1

// Store is the TTL-capable key-value capability the canvas, session and
// cooldown components are built on. Every method is atomic for the single key
// it touches; multi-key sequences are not transactional.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if it is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	HSet(ctx context.Context, key, field, value string) error
	// HSetIncr sets a hash field and increments the integer at counter in one
	// atomic step, returning the counter's new value.
	HSetIncr(ctx context.Context, key, field, value, counter string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Ping(ctx context.Context) error
	Close() error
}
