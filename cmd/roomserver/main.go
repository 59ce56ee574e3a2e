// Package main provides the room server binary: the websocket gateway to the
// shared rooms plus the account HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/frontend/httpapi"
	"github.com/cory-johannsen/plaza/internal/frontend/ws"
	"github.com/cory-johannsen/plaza/internal/game/chat"
	"github.com/cory-johannsen/plaza/internal/game/movement"
	"github.com/cory-johannsen/plaza/internal/game/room"
	"github.com/cory-johannsen/plaza/internal/game/session"
	"github.com/cory-johannsen/plaza/internal/game/world"
	"github.com/cory-johannsen/plaza/internal/gameserver"
	"github.com/cory-johannsen/plaza/internal/identity"
	"github.com/cory-johannsen/plaza/internal/observability"
	"github.com/cory-johannsen/plaza/internal/server"
	"github.com/cory-johannsen/plaza/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	healthInterval := flag.Duration("db-health-interval", 30*time.Second, "interval between database health checks")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting room server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage", cfg.Storage.Backend),
	)

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	var (
		store    gameserver.RoomStore
		accounts *postgres.AccountRepository
		resolver *identity.TokenResolver
		health   func(ctx context.Context) error
	)
	switch cfg.Storage.Backend {
	case config.BackendStatic:
		roomStart := time.Now()
		rooms, err := world.LoadRoomsFromDir(cfg.Storage.RoomsDir)
		if err != nil {
			logger.Fatal("loading rooms", zap.Error(err))
		}
		static, err := world.NewStaticStore(rooms)
		if err != nil {
			logger.Fatal("indexing rooms", zap.Error(err))
		}
		store = static
		logger.Info("rooms loaded",
			zap.String("dir", cfg.Storage.RoomsDir),
			zap.Int("count", len(rooms)),
			zap.Duration("elapsed", time.Since(roomStart)),
		)

	case config.BackendPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store = postgres.NewRoomRepository(pool.DB())
		accounts = postgres.NewAccountRepository(pool.DB())
		health = func(ctx context.Context) error { return pool.Health(ctx, 5*time.Second) }
		lifecycle.Add("postgres", dbHealthService(pool, *healthInterval, logger))
	}

	if cfg.Auth.JWTSecret != "" {
		resolver = identity.NewTokenResolver(cfg.Auth.JWTSecret, accounts)
	}

	registry := room.NewRegistry()
	gateway := gameserver.NewGateway(
		gameserver.GatewayConfig{SittableTypes: cfg.Game.SittableTypes},
		registry,
		session.NewManager(cfg.WebSocket.SendBuffer),
		movement.NewScheduler(registry, cfg.Game.StepDuration, logger),
		chat.NewGuard(cfg.Game.ChatCooldown, cfg.Game.ChatMaxLength),
		store,
		tokenResolver(resolver),
		logger,
	)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := gateway.InitializeRooms(initCtx); err != nil {
		cancel()
		logger.Fatal("initializing rooms", zap.Error(err))
	}
	cancel()

	wsHandler := ws.NewHandler(ws.Options{
		WebSocket:      cfg.WebSocket,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowGuests:    cfg.Auth.AllowGuests,
	}, gateway, wsResolver(resolver), logger)

	deps := httpapi.Deps{
		WebSocket: wsHandler,
		Metrics: func() map[string]int64 {
			m := gateway.Metrics().Snapshot()
			m["websocket_connections"] = int64(wsHandler.ConnCount())
			return m
		},
		Health: health,
	}
	if accounts != nil && resolver != nil {
		deps.Accounts = accounts
		deps.Tokens = resolver
	}
	router := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TokenTTL:       cfg.Auth.TokenTTL,
		SecureCookies:  cfg.Auth.SecureCookies,
	}, deps, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	// Stopped in reverse: HTTP stops accepting upgrades before live
	// websocket connections are closed.
	lifecycle.Add("websocket", wsHandler)
	lifecycle.Add("http", server.NewHTTPService(httpServer, logger))

	logger.Info("room server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("token_login", resolver != nil),
		zap.Bool("guests", cfg.Auth.AllowGuests),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// dbHealthService periodically pings the database and closes the pool on stop.
func dbHealthService(pool *postgres.Pool, interval time.Duration, logger *zap.Logger) server.Service {
	quit := make(chan struct{})
	return &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-quit:
					return nil
				case <-ticker.C:
					if err := pool.Health(context.Background(), 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func(context.Context) error {
			close(quit)
			pool.Close()
			return nil
		},
	}
}

// tokenResolver and wsResolver keep a nil *TokenResolver from becoming a
// non-nil interface value.
func tokenResolver(r *identity.TokenResolver) gameserver.IdentityResolver {
	if r == nil {
		return nil
	}
	return r
}

func wsResolver(r *identity.TokenResolver) ws.Resolver {
	if r == nil {
		return nil
	}
	return r
}
