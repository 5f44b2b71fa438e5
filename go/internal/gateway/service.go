package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
)

// Config holds configuration for the live update gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	RequireSession   bool
	Clock            clockwork.Clock

	// NATS is used only when NATS.URL is set
	NATS NATSConfig
}

// DefaultConfig returns default configuration for a single-replica gateway
func DefaultConfig() Config {
	natsConfig := DefaultNATSConfig()
	natsConfig.URL = ""
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		NATS:             natsConfig,
	}
}

// Service is the live update gateway: viewer websockets plus the path by
// which accepted paints reach them
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler

	nc            *nats.Conn
	natsPublisher *NATSPublisher
	eventConsumer *EventConsumer
}

// NewService creates a new gateway service. With a NATS URL configured,
// paints are relayed through NATS so every replica's viewers see them.
func NewService(config Config, sessions SessionValidator) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, config.Clock)

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, sessions, config.RequireSession),
	}

	if config.NATS.URL != "" {
		nc, err := ConnectNATS(config.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to create event relay: %w", err)
		}
		s.nc = nc
		s.natsPublisher = NewNATSPublisher(nc, config.NATS)
		s.eventConsumer = NewEventConsumer(nc, connectionManager, config.NATS)
	}

	return s, nil
}

// Start runs the dispatcher (and relay consumer) until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("relay", s.eventConsumer != nil).Msg("starting live update gateway")

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("relay consumer failed")
			}
		}()
	}

	s.connectionManager.Start(ctx)
	return s.Stop()
}

// Stop releases the NATS connection
func (s *Service) Stop() error {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
			s.nc.Close()
		}
	}
	log.Info().Msg("live update gateway stopped")
	return nil
}

// PublishPixel hands an accepted paint to the fan-out path
func (s *Service) PublishPixel(ctx context.Context, pixel canvas.Pixel) error {
	if s.natsPublisher != nil {
		return s.natsPublisher.PublishPixel(ctx, pixel)
	}
	return s.connectionManager.PublishPixel(ctx, pixel)
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() Stats {
	return s.connectionManager.GetConnectionStats()
}
