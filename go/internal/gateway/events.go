package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
)

// ErrConnectionLost marks a viewer connection that failed to accept a message.
// It never leaves the gateway.
var ErrConnectionLost = errors.New("connection lost")

// EventEnvelope is the message relayed between replicas over NATS
type EventEnvelope struct {
	EventID   string       `json:"eventId"`
	Origin    string       `json:"origin"`
	Timestamp time.Time    `json:"timestamp"`
	Seq       int64        `json:"seq,omitempty"`
	Pixel     canvas.Pixel `json:"pixel"`
}

// NewEventEnvelope wraps an accepted paint for relaying
func NewEventEnvelope(origin string, pixel canvas.Pixel) EventEnvelope {
	return EventEnvelope{
		EventID:   uuid.New().String(),
		Origin:    origin,
		Timestamp: time.Now().UTC(),
		Seq:       pixel.Seq,
		Pixel:     pixel,
	}
}

// encodePixel renders the payload pushed to websocket viewers: {loc_x, loc_y, colour}
func encodePixel(pixel canvas.Pixel) ([]byte, error) {
	data, err := json.Marshal(pixel)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pixel event: %w", err)
	}
	return data, nil
}

func encodeEnvelope(env EventEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return EventEnvelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.Pixel.Colour == "" {
		return EventEnvelope{}, fmt.Errorf("event %s has no pixel payload", env.EventID)
	}
	env.Pixel.Seq = env.Seq
	return env, nil
}
