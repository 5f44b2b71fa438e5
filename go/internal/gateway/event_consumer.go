package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
)

// NATSConfig holds configuration for the cross-replica event relay
type NATSConfig struct {
	URL           string
	Subject       string
	Origin        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default relay configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "canvas.pixels",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// ConnectNATS dials NATS with reconnect handling that logs through zerolog
func ConnectNATS(config NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("pixelcanvas-" + config.Origin),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSPublisher relays accepted paints to every replica, including this one
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	origin  string
}

// NewNATSPublisher creates a new NATS publisher
func NewNATSPublisher(nc *nats.Conn, config NATSConfig) *NATSPublisher {
	return &NATSPublisher{
		nc:      nc,
		subject: config.Subject,
		origin:  config.Origin,
	}
}

// PublishPixel publishes one paint. A single NATS connection preserves publish order.
func (p *NATSPublisher) PublishPixel(ctx context.Context, pixel canvas.Pixel) error {
	data, err := encodeEnvelope(NewEventEnvelope(p.origin, pixel))
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// PixelSink receives relayed paints; implemented by ConnectionManager
type PixelSink interface {
	PublishPixel(ctx context.Context, pixel canvas.Pixel) error
}

// EventConsumer subscribes to the relay subject and feeds the local broadcaster
type EventConsumer struct {
	sink    PixelSink
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	ctx     context.Context
}

// NewEventConsumer creates a new relay consumer
func NewEventConsumer(nc *nats.Conn, sink PixelSink, config NATSConfig) *EventConsumer {
	return &EventConsumer{
		sink:    sink,
		nc:      nc,
		subject: config.Subject,
		ctx:     context.Background(),
	}
}

// Start subscribes and delivers until ctx is cancelled
func (ec *EventConsumer) Start(ctx context.Context) error {
	ec.ctx = ctx

	sub, err := ec.nc.Subscribe(ec.subject, ec.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", ec.subject, err)
	}
	ec.sub = sub

	log.Info().Str("subject", ec.subject).Msg("relay consumer started")

	<-ctx.Done()
	log.Info().Msg("relay consumer shutting down")
	return ec.Stop()
}

// handleMessage is called serially per subscription, so relay order is kept
func (ec *EventConsumer) handleMessage(msg *nats.Msg) {
	env, err := decodeEnvelope(msg.Data)
	if err != nil {
		log.Error().
			Err(err).
			Str("subject", msg.Subject).
			Msg("failed to process relayed event")
		return
	}

	if err := ec.sink.PublishPixel(ec.ctx, env.Pixel); err != nil {
		log.Error().
			Err(err).
			Str("event_id", env.EventID).
			Msg("failed to queue relayed event")
		return
	}

	log.Debug().
		Str("event_id", env.EventID).
		Str("origin", env.Origin).
		Int("loc_x", env.Pixel.X).
		Int("loc_y", env.Pixel.Y).
		Msg("relayed event queued for broadcast")
}

// Stop unsubscribes from the relay subject
func (ec *EventConsumer) Stop() error {
	if ec.sub == nil {
		return nil
	}
	if err := ec.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}
