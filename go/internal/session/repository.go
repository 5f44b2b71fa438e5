package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
)

// Repository persists session keys in the key-value store
type Repository struct {
	store kvstore.Store
}

// NewRepository creates a new session repository
func NewRepository(store kvstore.Store) *Repository {
	return &Repository{store: store}
}

func sessionKey(id string) string {
	return "session:" + id
}

// CreateSession stores session:{id} with the creation time as value
func (r *Repository) CreateSession(ctx context.Context, id string, createdAt time.Time, ttl time.Duration) error {
	value := strconv.FormatInt(createdAt.Unix(), 10)
	if err := r.store.Set(ctx, sessionKey(id), value, ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// SessionExists reports whether the session key is still present
func (r *Repository) SessionExists(ctx context.Context, id string) (bool, error) {
	exists, err := r.store.Exists(ctx, sessionKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

// SessionTTL returns the remaining lifetime of the session, or ErrInvalidSession
func (r *Repository) SessionTTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := r.store.TTL(ctx, sessionKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, ErrInvalidSession
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get session ttl: %w", err)
	}
	return ttl, nil
}
