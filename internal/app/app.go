package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-hub/internal/auth"
	"github.com/vovakirdan/wirechat-hub/internal/config"
	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/relay"
	"github.com/vovakirdan/wirechat-hub/internal/relay/natsrelay"
	"github.com/vovakirdan/wirechat-hub/internal/relay/redisrelay"
	"github.com/vovakirdan/wirechat-hub/internal/store"
	"github.com/vovakirdan/wirechat-hub/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-hub/internal/transport/http"
	"github.com/vovakirdan/wirechat-hub/internal/utils"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	chat            *core.Chat
	store           store.Store
	log             *zerolog.Logger
}

// OpenStore opens the SQLite database and applies the schema.
func OpenStore(path string) (*sqlite.SQLiteStore, error) {
	st, err := sqlite.NewWithSetup(path, sqlite.ApplySchema)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return st, nil
}

// NewAuthService builds the auth service from configuration.
func NewAuthService(cfg *config.Config, users store.UserStore) *auth.Service {
	return auth.NewService(users, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	rel, err := newRelay(ctx, cfg.Relay, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	authService := NewAuthService(cfg, st)
	registry := core.NewRegistry(st, cfg.PublicRoomKey, logger)
	hub := core.NewHub(logger, rel)
	chat := core.NewChat(registry, hub, st, authService, core.Options{
		QueueSize:    cfg.OutboundQueueSize,
		HistoryLimit: cfg.HistoryLimit,
	}, logger)

	if _, err := registry.EnsurePublicRoom(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure public room: %w", err)
	}

	server := transporthttp.NewServer(chat, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		chat:            chat,
		store:           st,
		log:             logger,
	}, nil
}

// newRelay returns nil when the process runs alone.
func newRelay(ctx context.Context, cfg config.RelayConfig, logger *zerolog.Logger) (core.Relay, error) {
	var (
		backend relay.Backend
		err     error
	)
	switch cfg.Driver {
	case "":
		return nil, nil
	case "redis":
		backend, err = redisrelay.Dial(ctx, cfg.RedisAddr, cfg.RedisChannel)
	case "nats":
		backend, err = natsrelay.Dial(cfg.NATSURL, cfg.NATSSubject)
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s relay: %w", cfg.Driver, err)
	}
	logger.Info().Str("driver", cfg.Driver).Msg("relay connected")
	return relay.New(utils.NewToken(), backend, logger), nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("starting http server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := a.hub.RunRelay(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("relay: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked sockets are not tracked by Shutdown.
		n := a.chat.CloseAll(core.ReasonShutdown)
		a.log.Info().Int("connections", n).Msg("closed live connections")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
