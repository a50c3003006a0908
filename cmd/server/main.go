package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quietend-server/internal/bounty"
	"quietend-server/internal/channel"
	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/gateway"
	"quietend-server/internal/group"
	"quietend-server/internal/home"
	"quietend-server/internal/lifecycle"
	"quietend-server/internal/middleware"
	"quietend-server/internal/notify"
	"quietend-server/internal/presence"
	"quietend-server/internal/reaper"
	"quietend-server/internal/server"
	"quietend-server/internal/ship"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/database"
	"quietend-server/internal/shared/logger"
	"quietend-server/internal/shared/redis"
	"quietend-server/internal/travel"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init()
	cfg := config.GlobalConfig

	db, err := database.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	rdb, err := redis.Connect()
	if err != nil {
		slog.Warn("Redis unavailable, continuing with in-memory activity only", "error", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	clk := clock.NewReal()
	ctx := context.Background()

	// Repositories.
	characters := character.NewRepository(db)
	ships := ship.NewRepository(db)
	homes := home.NewRepository(db)
	locations := galaxy.NewRepository(db.DB)
	channelRepo := channel.NewRepository(db)
	guilds := channel.NewGuildRepository(db)
	travelRepo := travel.NewRepository(db, characters, ships)
	groupRepo := group.NewRepository(db)
	bountyRepo := bounty.NewRepository(db, characters)
	notifyRepo := notify.NewRepository(db)
	lifecycleRepo := lifecycle.NewRepository(db, characters, ships, homes, locations)

	// The chat-platform binding plugs in here. Until one is wired, the
	// in-memory gateway keeps the engine runnable for development.
	var gw gateway.Gateway = gateway.NewFake()
	slog.Warn("Using in-memory chat gateway; no platform binding configured")
	gw = gateway.NewRateLimited(gw, cfg.RateLimit)

	// Per-guild overrides from server_config.
	gameCfg := cfg.Game
	guildID := gameCfg.HomeGuildID
	if settings, err := guilds.Get(ctx, guildID); err != nil {
		slog.Warn("Failed to load guild settings, using defaults", "error", err)
	} else if settings != nil {
		gameCfg = settings.Apply(gameCfg)
	}

	// In-memory presence, rebuilt from committed state.
	idx := presence.NewIndex()
	loggedIn, err := characters.GetLoggedIn(ctx)
	if err != nil {
		return fmt.Errorf("failed to load logged-in characters: %w", err)
	}
	traveling, err := travelRepo.TravelingRefs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load traveling sessions: %w", err)
	}
	idx.Rebuild(loggedIn, traveling)

	// Engine components.
	activity := channel.NewActivity(rdb)
	channels := channel.NewManager(gw, channelRepo, idx, activity, clk, gameCfg, guildID)
	subAreas := channel.NewSubAreas(gw, channels, channelRepo, idx)
	travelEngine := travel.NewEngine(travelRepo, channels, idx, clk, gameCfg)
	groupCoord := group.NewCoordinator(groupRepo, travelEngine, nil, gw, clk, gameCfg)

	corridors, err := locations.GetAllCorridors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load corridors: %w", err)
	}
	graph := galaxy.NewGraph(corridors)
	centerID, err := locations.GetGalacticCenterID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve galactic center: %w", err)
	}

	bus := notify.NewBus(notifyRepo, channels, gw, graph, centerID, clk, gameCfg)
	ledger := bounty.NewLedger(bountyRepo, bus, clk, gameCfg)
	characterSvc := lifecycle.NewService(lifecycleRepo, channels, subAreas, idx,
		travelEngine, groupCoord, gw, clk, gameCfg, centerID)

	// Pick up work that predates this process: in-flight travel timers
	// and queued news deliveries.
	if err := travelEngine.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume travel sessions: %w", err)
	}
	if err := bus.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume news queue: %w", err)
	}

	sweeper := reaper.New(groupCoord, ledger,
		map[string]reaper.GuildChannels{guildID: channels},
		travelEngine, clk, gameCfg)
	sweeper.Start()
	defer sweeper.Stop()

	// Ops HTTP surface.
	routes := server.NewRoutes(db, sweeper, characterSvc, slog.Default())
	handler := http.Handler(routes.Setup())
	handler = middleware.NewCORS().Handler(handler)
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			Enabled:           true,
		})
		handler = limiter.Middleware(handler)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Server stopped")
	return nil
}
