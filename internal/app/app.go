package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkroom/talkroom-server/internal/auth"
	"github.com/talkroom/talkroom-server/internal/bus"
	"github.com/talkroom/talkroom-server/internal/config"
	"github.com/talkroom/talkroom-server/internal/core"
	"github.com/talkroom/talkroom-server/internal/store"
	"github.com/talkroom/talkroom-server/internal/store/sqlite"
	transporthttp "github.com/talkroom/talkroom-server/internal/transport/http"
)

// App wires together store, bus, hub, and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	bus             bus.Bus
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var messageBus bus.Bus
	if cfg.RedisURL != "" {
		messageBus, err = bus.NewRedisBus(ctx, cfg.RedisURL, cfg.BusChannel, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init bus: %w", err)
		}
		logger.Info().Str("channel", cfg.BusChannel).Msg("connected to shared message bus")
	} else {
		messageBus = bus.NewLocalBus()
		logger.Warn().Msg("no redis_url configured; running with in-process bus, cross-instance fan-out disabled")
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	hub := core.NewHub(st, messageBus, logger)
	server := transporthttp.NewServer(hub, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		bus:             messageBus,
		log:             logger,
	}, nil
}

// Run starts the hub relay and HTTP server and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	if err := a.hub.Start(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("start hub: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		return a.shutdown(serverErr)
	}
}

func (a *App) shutdown(serverErr <-chan error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	a.log.Info().Msg("shutting down http server")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.cleanup()
		return err
	}

	a.cleanup()
	return <-serverErr
}

// cleanup closes the bus and database.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close bus")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
