package paint

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
	"github.com/mcdev12/pixelcanvas/go/internal/ratelimit"
)

// publishTimeout bounds how long an accepted paint waits to be queued for viewers
const publishTimeout = 5 * time.Second

// SessionValidator checks that a session may paint
type SessionValidator interface {
	ValidateSession(ctx context.Context, id string) error
}

// CooldownLimiter atomically claims the session's paint for the current window
type CooldownLimiter interface {
	TryConsume(ctx context.Context, sessionID string) (ratelimit.Outcome, error)
}

// Canvas is the canvas store as the paint pipeline sees it
type Canvas interface {
	Validate(coord canvas.Coordinate, color string) (string, error)
	SetCell(ctx context.Context, coord canvas.Coordinate, color string) (canvas.Pixel, error)
}

// EventPublisher fans an accepted paint out to live viewers
type EventPublisher interface {
	PublishPixel(ctx context.Context, pixel canvas.Pixel) error
}

// Request is one paint attempt
type Request struct {
	X         int
	Y         int
	Colour    string
	SessionID string
}

// App runs the paint pipeline: validate input, validate session, claim the
// cooldown, write the cell, publish the change
type App struct {
	sessions  SessionValidator
	limiter   CooldownLimiter
	canvas    Canvas
	publisher EventPublisher

	// Serializes write+publish so viewers see changes in canvas acceptance
	// order. Paints in one process therefore run one store round trip at a time.
	writeMu sync.Mutex
}

// NewApp creates a new paint App
func NewApp(sessions SessionValidator, limiter CooldownLimiter, canvas Canvas, publisher EventPublisher) *App {
	return &App{
		sessions:  sessions,
		limiter:   limiter,
		canvas:    canvas,
		publisher: publisher,
	}
}

// Paint applies one paint request. Once the cooldown marker is set the paint
// is committed: a failed broadcast is logged and never reported to the painter.
func (a *App) Paint(ctx context.Context, req Request) (canvas.Pixel, error) {
	coord := canvas.Coordinate{X: req.X, Y: req.Y}

	// Reject bad input before it costs the session its cooldown
	if _, err := a.canvas.Validate(coord, req.Colour); err != nil {
		return canvas.Pixel{}, err
	}

	if err := a.sessions.ValidateSession(ctx, req.SessionID); err != nil {
		return canvas.Pixel{}, err
	}

	outcome, err := a.limiter.TryConsume(ctx, req.SessionID)
	if err != nil {
		return canvas.Pixel{}, err
	}
	if err := outcome.Err(); err != nil {
		log.Debug().
			Str("session_id", req.SessionID).
			Dur("remaining", outcome.Remaining).
			Msg("paint rate limited")
		return canvas.Pixel{}, err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	pixel, err := a.canvas.SetCell(ctx, coord, req.Colour)
	if err != nil {
		return canvas.Pixel{}, err
	}

	log.Info().
		Str("session_id", req.SessionID).
		Int("loc_x", pixel.X).
		Int("loc_y", pixel.Y).
		Str("colour", pixel.Colour).
		Msg("pixel painted")

	// The painter hanging up must not keep viewers from seeing the change
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := a.publisher.PublishPixel(publishCtx, pixel); err != nil {
		log.Error().
			Err(err).
			Int("loc_x", pixel.X).
			Int("loc_y", pixel.Y).
			Msg("failed to publish pixel to viewers")
	}

	return pixel, nil
}
