package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
)

// DefaultCooldown is the minimum time between two accepted paints of one session
const DefaultCooldown = 30 * time.Second

// maxAttempts bounds the SETNX/TTL loop when the marker expires between the two calls
const maxAttempts = 3

// ErrRateLimited matches any *LimitedError via errors.Is
var ErrRateLimited = errors.New("rate limited")

// LimitedError carries how long the session must wait before painting again
type LimitedError struct {
	Remaining time.Duration
	Cooldown  time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("You can only change one pixel every %d seconds. %d seconds remaining.",
		int(e.Cooldown.Seconds()), e.RemainingSeconds())
}

func (e *LimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RemainingSeconds rounds the remaining cooldown up to whole seconds (minimum 1)
func (e *LimitedError) RemainingSeconds() int {
	secs := int(math.Ceil(e.Remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Outcome is the result of TryConsume
type Outcome struct {
	Allowed   bool
	Remaining time.Duration
	cooldown  time.Duration
}

// Err returns nil when allowed and a *LimitedError otherwise
func (o Outcome) Err() error {
	if o.Allowed {
		return nil
	}
	return &LimitedError{Remaining: o.Remaining, Cooldown: o.cooldown}
}

// Limiter enforces one accepted paint per session per cooldown window
type Limiter struct {
	store    kvstore.Store
	cooldown time.Duration
}

// NewLimiter creates a new cooldown limiter
func NewLimiter(store kvstore.Store, cooldown time.Duration) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{
		store:    store,
		cooldown: cooldown,
	}
}

func markerKey(sessionID string) string {
	return "pixel:" + sessionID
}

// Cooldown returns the configured cooldown window
func (l *Limiter) Cooldown() time.Duration {
	return l.cooldown
}

// TryConsume atomically checks and sets the cooldown marker for the session.
// An Allowed outcome means the marker has been set and the caller owns this
// window's paint. Store failures are not retried: a retried SETNX that had in
// fact succeeded would report the session as limited.
func (l *Limiter) TryConsume(ctx context.Context, sessionID string) (Outcome, error) {
	key := markerKey(sessionID)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		set, err := l.store.SetNX(ctx, key, "1", l.cooldown)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to set cooldown marker: %w", err)
		}
		if set {
			return Outcome{Allowed: true, cooldown: l.cooldown}, nil
		}

		ttl, err := l.store.TTL(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			// Marker expired between SETNX and TTL, try to claim it again
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to read cooldown ttl: %w", err)
		}
		if ttl == kvstore.NoExpiry {
			// Marker written without expiry by something else; repair it
			if err := l.store.Expire(ctx, key, l.cooldown); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
				return Outcome{}, fmt.Errorf("failed to repair cooldown marker: %w", err)
			}
			ttl = l.cooldown
		}

		return Outcome{Allowed: false, Remaining: ttl, cooldown: l.cooldown}, nil
	}

	return Outcome{Allowed: false, Remaining: time.Second, cooldown: l.cooldown}, nil
}

// Remaining reports the session's remaining cooldown without consuming it
func (l *Limiter) Remaining(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := l.store.TTL(ctx, markerKey(sessionID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cooldown ttl: %w", err)
	}
	if ttl == kvstore.NoExpiry {
		return l.cooldown, nil
	}
	return ttl, nil
}
