package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
)

func newTestApp(t *testing.T) (*App, *clockwork.FakeClock, *kvstore.MemoryStore) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := kvstore.NewMemoryStore(clock)
	return NewApp(NewRepository(store), clock, DefaultTTL), clock, store
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	app, clock, store := newTestApp(t)

	sess, err := app.CreateSession(ctx)
	require.NoError(t, err)

	_, err = uuid.Parse(sess.ID)
	assert.NoError(t, err, "session id should be a uuid")
	assert.Equal(t, clock.Now().Add(time.Hour), sess.ExpiresAt)

	ttl, err := store.TTL(ctx, "session:"+sess.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	other, err := app.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, other.ID)
}

func TestValidateSession(t *testing.T) {
	ctx := context.Background()
	app, clock, _ := newTestApp(t)

	sess, err := app.CreateSession(ctx)
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		advance time.Duration
		wantErr error
	}{
		{name: "fresh session", id: sess.ID},
		{name: "empty id", id: "", wantErr: ErrInvalidSession},
		{name: "not a uuid", id: "not-a-session", wantErr: ErrInvalidSession},
		{name: "never created", id: uuid.New().String(), wantErr: ErrInvalidSession},
		{name: "just before expiry", id: sess.ID, advance: time.Hour - time.Second},
		{name: "after expiry", id: sess.ID, advance: time.Second, wantErr: ErrInvalidSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Advance(tt.advance)
			err := app.ValidateSession(ctx, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateSession_DoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	app, clock, _ := newTestApp(t)

	sess, err := app.CreateSession(ctx)
	require.NoError(t, err)

	// Validate repeatedly across the whole lifetime
	for i := 0; i < 59; i++ {
		clock.Advance(time.Minute)
		require.NoError(t, app.ValidateSession(ctx, sess.ID))
	}

	remaining, err := app.Remaining(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, remaining)

	clock.Advance(time.Minute)
	assert.ErrorIs(t, app.ValidateSession(ctx, sess.ID), ErrInvalidSession)

	_, err = app.Remaining(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidateSession_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	app, _, store := newTestApp(t)

	sess, err := app.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Close())

	err = app.ValidateSession(ctx, sess.ID)
	assert.ErrorIs(t, err, kvstore.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidSession)

	_, err = app.CreateSession(ctx)
	assert.ErrorIs(t, err, kvstore.ErrUnavailable)
}
