package canvas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
)

// CanvasRepository defines what the app layer needs from the repository
type CanvasRepository interface {
	GetPixels(ctx context.Context) (map[string]string, error)
	SetPixel(ctx context.Context, coord Coordinate, color string) (int64, error)
}

// Config holds canvas dimensions and read retry policy
type Config struct {
	Bounds      Bounds
	Background  string
	ReadRetries int
	ReadBackoff time.Duration
}

// DefaultConfig returns the 500x500 canvas configuration
func DefaultConfig() Config {
	return Config{
		Bounds:      Bounds{Width: DefaultWidth, Height: DefaultHeight},
		Background:  DefaultBackground,
		ReadRetries: 3,
		ReadBackoff: 100 * time.Millisecond,
	}
}

// App holds the authoritative canvas: full-state reads and single-cell writes
type App struct {
	repo   CanvasRepository
	config Config
	clock  clockwork.Clock
}

// NewApp creates a new canvas App
func NewApp(repo CanvasRepository, config Config, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.ReadRetries < 1 {
		config.ReadRetries = 1
	}
	if config.Background == "" {
		config.Background = DefaultBackground
	}
	return &App{
		repo:   repo,
		config: config,
		clock:  clock,
	}
}

// Bounds returns the canvas size
func (a *App) Bounds() Bounds {
	return a.config.Bounds
}

// Background returns the color of cells that were never painted
func (a *App) Background() string {
	return a.config.Background
}

// Validate checks a paint request without touching the store and returns
// the normalized color
func (a *App) Validate(coord Coordinate, color string) (string, error) {
	if !a.config.Bounds.Contains(coord) {
		return "", fmt.Errorf("%w: (%d,%d) outside %dx%d canvas",
			ErrOutOfBounds, coord.X, coord.Y, a.config.Bounds.Width, a.config.Bounds.Height)
	}
	return NormalizeColor(color)
}

// GetAll returns the full canvas as "x,y" -> color. Store unavailability is
// retried a bounded number of times since the read has no side effects.
func (a *App) GetAll(ctx context.Context) (map[string]string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.config.ReadRetries; attempt++ {
		pixels, err := a.repo.GetPixels(ctx)
		if err == nil {
			return pixels, nil
		}
		if !errors.Is(err, kvstore.ErrUnavailable) {
			return nil, err
		}
		lastErr = err

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", a.config.ReadRetries).
			Msg("canvas read failed, retrying")

		if attempt < a.config.ReadRetries {
			if err := a.wait(ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed to read canvas after %d attempts: %w", a.config.ReadRetries, lastErr)
}

// SetCell validates and writes one cell, last write wins. Writes are never retried.
func (a *App) SetCell(ctx context.Context, coord Coordinate, color string) (Pixel, error) {
	normalized, err := a.Validate(coord, color)
	if err != nil {
		return Pixel{}, err
	}

	seq, err := a.repo.SetPixel(ctx, coord, normalized)
	if err != nil {
		return Pixel{}, err
	}

	return Pixel{X: coord.X, Y: coord.Y, Colour: normalized, Seq: seq}, nil
}

func (a *App) wait(ctx context.Context) error {
	if a.config.ReadBackoff <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(a.config.ReadBackoff):
		return nil
	}
}
