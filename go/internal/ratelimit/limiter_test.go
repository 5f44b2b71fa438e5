package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
)

func TestTryConsume_LimitsWithinWindow(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	limiter := NewLimiter(kvstore.NewMemoryStore(clock), DefaultCooldown)

	outcome, err := limiter.TryConsume(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
	assert.NoError(t, outcome.Err())

	outcome, err = limiter.TryConsume(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Greater(t, outcome.Remaining, time.Duration(0))
	assert.LessOrEqual(t, outcome.Remaining, 30*time.Second)

	clock.Advance(12 * time.Second)
	outcome, err = limiter.TryConsume(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Equal(t, 18*time.Second, outcome.Remaining)

	var limited *LimitedError
	require.ErrorAs(t, outcome.Err(), &limited)
	assert.Equal(t, 18, limited.RemainingSeconds())
	assert.ErrorIs(t, outcome.Err(), ErrRateLimited)
	assert.Equal(t, "You can only change one pixel every 30 seconds. 18 seconds remaining.", limited.Error())

	// Another session is unaffected
	outcome, err = limiter.TryConsume(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)

	clock.Advance(18 * time.Second)
	outcome, err = limiter.TryConsume(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
}

func TestTryConsume_ConcurrentSameSession(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(kvstore.NewMemoryStore(clockwork.NewFakeClock()), DefaultCooldown)

	const workers = 50
	var allowed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcome, err := limiter.TryConsume(ctx, "fresh")
			if err == nil && outcome.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load(), "exactly one concurrent attempt may pass")
}

func TestLimitedError_RemainingSecondsRoundsUp(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      int
	}{
		{remaining: 30 * time.Second, want: 30},
		{remaining: 29*time.Second + time.Millisecond, want: 30},
		{remaining: 500 * time.Millisecond, want: 1},
		{remaining: 0, want: 1},
	}
	for _, tt := range tests {
		err := &LimitedError{Remaining: tt.remaining, Cooldown: DefaultCooldown}
		assert.Equal(t, tt.want, err.RemainingSeconds(), tt.remaining.String())
	}
}

// vanishingStore reports the marker as present on SETNX but gone on TTL,
// as happens when the marker expires between the two calls.
type vanishingStore struct {
	kvstore.Store
	setnxCalls int
}

func (v *vanishingStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	v.setnxCalls++
	return v.setnxCalls > 1, nil
}

func (v *vanishingStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, kvstore.ErrNotFound
}

func TestTryConsume_MarkerExpiresBetweenCalls(t *testing.T) {
	store := &vanishingStore{}
	limiter := NewLimiter(store, DefaultCooldown)

	outcome, err := limiter.TryConsume(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
	assert.Equal(t, 2, store.setnxCalls)
}

type failingStore struct {
	kvstore.Store
	calls int
}

func (f *failingStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.calls++
	return false, errors.Join(kvstore.ErrUnavailable, errors.New("connection refused"))
}

func TestTryConsume_StoreUnavailableNotRetried(t *testing.T) {
	store := &failingStore{}
	limiter := NewLimiter(store, DefaultCooldown)

	_, err := limiter.TryConsume(context.Background(), "s1")
	assert.ErrorIs(t, err, kvstore.ErrUnavailable)
	assert.Equal(t, 1, store.calls)
}

func TestRemaining(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	limiter := NewLimiter(kvstore.NewMemoryStore(clock), 10*time.Second)

	remaining, err := limiter.Remaining(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = limiter.TryConsume(ctx, "s1")
	require.NoError(t, err)
	clock.Advance(4 * time.Second)

	remaining, err = limiter.Remaining(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, remaining)
}
