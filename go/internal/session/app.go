package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SessionRepository defines what the app layer needs from the repository
type SessionRepository interface {
	CreateSession(ctx context.Context, id string, createdAt time.Time, ttl time.Duration) error
	SessionExists(ctx context.Context, id string) (bool, error)
	SessionTTL(ctx context.Context, id string) (time.Duration, error)
}

// App issues and validates sessions. Sessions are never refreshed by
// activity: a session expires ttl after creation no matter how it is used.
type App struct {
	repo  SessionRepository
	clock clockwork.Clock
	ttl   time.Duration
}

// NewApp creates a new session App
func NewApp(repo SessionRepository, clock clockwork.Clock, ttl time.Duration) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &App{
		repo:  repo,
		clock: clock,
		ttl:   ttl,
	}
}

// CreateSession generates a fresh session id and stores it with a fixed expiry
func (a *App) CreateSession(ctx context.Context) (*Session, error) {
	now := a.clock.Now()
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	if err := a.repo.CreateSession(ctx, sess.ID, now, a.ttl); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID).
		Time("expires_at", sess.ExpiresAt).
		Msg("session created")

	return sess, nil
}

// ValidateSession returns nil if the session exists, ErrInvalidSession otherwise.
// It never extends the session's expiry.
func (a *App) ValidateSession(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidSession
	}

	exists, err := a.repo.SessionExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrInvalidSession
	}
	return nil
}

// Remaining returns how long the session has left to live
func (a *App) Remaining(ctx context.Context, id string) (time.Duration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, ErrInvalidSession
	}
	return a.repo.SessionTTL(ctx, id)
}

// TTL returns the fixed lifetime given to new sessions
func (a *App) TTL() time.Duration {
	return a.ttl
}
