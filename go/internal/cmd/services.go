package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
	"github.com/mcdev12/pixelcanvas/go/internal/config"
	"github.com/mcdev12/pixelcanvas/go/internal/gateway"
	"github.com/mcdev12/pixelcanvas/go/internal/httpapi"
	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
	"github.com/mcdev12/pixelcanvas/go/internal/paint"
	"github.com/mcdev12/pixelcanvas/go/internal/ratelimit"
	"github.com/mcdev12/pixelcanvas/go/internal/session"
)

type Services struct {
	Store   kvstore.Store
	memory   *kvstore.MemoryStore
	throttle *httpapi.SessionThrottle
	Gateway  *gateway.Service
	API      *httpapi.Handler
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store layer → Repository layer → App layer → HTTP layer
	clock := clockwork.NewRealClock()

	services := &Services{}
	if cfg.RedisURL != "" {
		store, err := kvstore.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up redis store: %w", err)
		}
		services.Store = store
		log.Info().Msg("using redis store")
	} else {
		services.memory = kvstore.NewMemoryStore(clock)
		services.Store = services.memory
		log.Warn().Msg("REDIS_URL not set, canvas and sessions are kept in process memory")
	}

	// Sessions
	sessionApp := session.NewApp(session.NewRepository(services.Store), clock, cfg.Limits.SessionTTL)

	// Cooldown
	limiter := ratelimit.NewLimiter(services.Store, cfg.Limits.Cooldown)

	// Canvas
	canvasConfig := canvas.DefaultConfig()
	canvasConfig.Bounds = canvas.Bounds{Width: cfg.Canvas.Width, Height: cfg.Canvas.Height}
	canvasConfig.Background = cfg.Canvas.Background
	canvasApp := canvas.NewApp(canvas.NewRepository(services.Store), canvasConfig, clock)

	// Live updates
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.RequireSession = cfg.WebSocket.RequireSession
	gatewayConfig.Clock = clock
	gatewayConfig.ConnectionConfig.WriteTimeout = cfg.WebSocket.WriteTimeout
	gatewayConfig.ConnectionConfig.SendBufferSize = cfg.WebSocket.SendBuffer
	gatewayConfig.NATS.URL = cfg.NATS.URL
	gatewayConfig.NATS.Subject = cfg.NATS.Subject
	gatewayConfig.NATS.Origin = replicaName()

	gatewayService, err := gateway.NewService(gatewayConfig, sessionApp)
	if err != nil {
		services.Store.Close()
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}
	services.Gateway = gatewayService

	// Paint pipeline and REST API
	painter := paint.NewApp(sessionApp, limiter, canvasApp, gatewayService)
	services.throttle = httpapi.NewSessionThrottle(
		cfg.Limits.SessionCreateRate,
		cfg.Limits.SessionCreateBurst,
		cfg.Limits.ClientIPHeader,
		clock,
	)
	services.API = httpapi.NewHandler(canvasApp, painter, sessionApp, services.throttle, services.Store, limiter)

	return services, nil
}

// start runs the background workers until ctx is cancelled
func (s *Services) start(ctx context.Context) {
	go func() {
		if err := s.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	if s.memory != nil {
		go s.memory.StartSweeper(ctx, time.Minute)
	}

	if s.throttle.Enabled() {
		go s.throttle.StartSweeper(ctx, time.Minute)
	}
}

func (s *Services) close() {
	if err := s.Store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close store")
	}
}

func replicaName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}
