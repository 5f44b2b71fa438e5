package canvas

import (
	"context"
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
)

func newTestApp(t *testing.T) (*App, *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore(clockwork.NewFakeClock())
	config := DefaultConfig()
	config.ReadBackoff = 0
	return NewApp(NewRepository(store), config, nil), store
}

func TestSetCell_Validation(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)

	tests := []struct {
		name    string
		coord   Coordinate
		color   string
		wantErr error
		want    string
	}{
		{name: "origin", coord: Coordinate{0, 0}, color: "#ff0000", want: "#ff0000"},
		{name: "far corner", coord: Coordinate{499, 499}, color: "#00FF00", want: "#00ff00"},
		{name: "negative x", coord: Coordinate{-1, 0}, color: "#ff0000", wantErr: ErrOutOfBounds},
		{name: "negative y", coord: Coordinate{0, -1}, color: "#ff0000", wantErr: ErrOutOfBounds},
		{name: "x == width", coord: Coordinate{500, 0}, color: "#ff0000", wantErr: ErrOutOfBounds},
		{name: "y == height", coord: Coordinate{0, 500}, color: "#ff0000", wantErr: ErrOutOfBounds},
		{name: "missing hash", coord: Coordinate{1, 1}, color: "ff0000", wantErr: ErrInvalidColor},
		{name: "short", coord: Coordinate{1, 1}, color: "#fff", wantErr: ErrInvalidColor},
		{name: "not hex", coord: Coordinate{1, 1}, color: "#gggggg", wantErr: ErrInvalidColor},
		{name: "named colour", coord: Coordinate{1, 1}, color: "red", wantErr: ErrInvalidColor},
		{name: "empty", coord: Coordinate{1, 1}, color: "", wantErr: ErrInvalidColor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pixel, err := app.SetCell(ctx, tt.coord, tt.color)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pixel.Colour)
		})
	}
}

func TestSetCell_RejectedLeavesCanvasUnchanged(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)

	_, err := app.SetCell(ctx, Coordinate{3, 4}, "#123456")
	require.NoError(t, err)
	before, err := app.GetAll(ctx)
	require.NoError(t, err)

	for _, c := range []Coordinate{{-1, 4}, {500, 4}, {3, -7}, {3, 500}, {1000, 1000}} {
		_, err := app.SetCell(ctx, c, "#abcdef")
		require.ErrorIs(t, err, ErrOutOfBounds)
	}

	after, err := app.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestGetAll_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)

	colors := []string{"#000001", "#000002", "#000003", "#0000ff"}
	for _, color := range colors {
		_, err := app.SetCell(ctx, Coordinate{7, 7}, color)
		require.NoError(t, err)
	}
	_, err := app.SetCell(ctx, Coordinate{8, 7}, "#ff0000")
	require.NoError(t, err)

	pixels, err := app.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7,7": "#0000ff", "8,7": "#ff0000"}, pixels)
}

// flakyRepo fails the first n reads with ErrUnavailable
type flakyRepo struct {
	failures int
	reads    int
	writes   int
	err      error
}

func (f *flakyRepo) GetPixels(ctx context.Context) (map[string]string, error) {
	f.reads++
	if f.reads <= f.failures {
		return nil, f.err
	}
	return map[string]string{"0,0": "#000000"}, nil
}

func (f *flakyRepo) SetPixel(ctx context.Context, coord Coordinate, color string) (int64, error) {
	f.writes++
	return int64(f.writes), f.err
}

func TestGetAll_RetriesUnavailable(t *testing.T) {
	ctx := context.Background()
	unavailable := fmt.Errorf("hgetall pixels: %w", kvstore.ErrUnavailable)

	t.Run("recovers within budget", func(t *testing.T) {
		repo := &flakyRepo{failures: 2, err: unavailable}
		app := NewApp(repo, Config{Bounds: Bounds{10, 10}, ReadRetries: 3}, nil)

		pixels, err := app.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, pixels, 1)
		assert.Equal(t, 3, repo.reads)
	})

	t.Run("gives up after budget", func(t *testing.T) {
		repo := &flakyRepo{failures: 10, err: unavailable}
		app := NewApp(repo, Config{Bounds: Bounds{10, 10}, ReadRetries: 3}, nil)

		_, err := app.GetAll(ctx)
		assert.ErrorIs(t, err, kvstore.ErrUnavailable)
		assert.Equal(t, 3, repo.reads)
	})

	t.Run("writes are not retried", func(t *testing.T) {
		repo := &flakyRepo{err: unavailable}
		app := NewApp(repo, Config{Bounds: Bounds{10, 10}, ReadRetries: 3}, nil)

		_, err := app.SetCell(ctx, Coordinate{1, 1}, "#ffffff")
		assert.ErrorIs(t, err, kvstore.ErrUnavailable)
		assert.Equal(t, 1, repo.writes)
	})
}

func TestSetCell_SequenceFollowsWriteOrder(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)

	first, err := app.SetCell(ctx, Coordinate{1, 1}, "#ff0000")
	require.NoError(t, err)
	second, err := app.SetCell(ctx, Coordinate{2, 2}, "#00ff00")
	require.NoError(t, err)
	third, err := app.SetCell(ctx, Coordinate{1, 1}, "#0000ff")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, int64(3), third.Seq)
	assert.Equal(t, Coordinate{1, 1}, third.Coordinate())

	// Rejected writes do not consume a sequence number
	_, err = app.SetCell(ctx, Coordinate{-1, 1}, "#000000")
	require.ErrorIs(t, err, ErrOutOfBounds)
	next, err := app.SetCell(ctx, Coordinate{3, 3}, "#000000")
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Seq)
}

func TestCoordinateKey(t *testing.T) {
	assert.Equal(t, "12,499", Coordinate{X: 12, Y: 499}.Key())
	assert.Equal(t, "0,0", Coordinate{}.Key())
}
