package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/livemap/internal/adapters/http"
	natsadapter "github.com/samirrijal/livemap/internal/adapters/nats"
	"github.com/samirrijal/livemap/internal/adapters/postgres"
	"github.com/samirrijal/livemap/internal/adapters/routing"
	"github.com/samirrijal/livemap/internal/adapters/valkey"
	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/core/usecases"
	"github.com/samirrijal/livemap/internal/pkg/config"
	"github.com/samirrijal/livemap/internal/pkg/logging"
	"github.com/samirrijal/livemap/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("livemap-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolStats(ctx, 15*time.Second)

	// Cache
	var cache ports.CacheService
	var cachePinger http.Pinger
	if vc, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.KeyPrefix); err != nil {
		slog.Warn("valkey unavailable, search runs uncached", "error", err)
	} else {
		defer vc.Close()
		cache, cachePinger = vc, vc
	}

	// NATS: JetStream for publishing, core subscriptions for the change feed
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()
	feed := natsadapter.NewChangeFeed(pub.Conn())

	// Repos
	presenceRepo := postgres.NewPresenceRepo(db)
	productRepo := postgres.NewProductRepo(db)
	orgRepo := postgres.NewOrganizationRepo(db)
	userRepo := postgres.NewUserRepo(db)

	// Use cases
	searchSvc := usecases.NewSearchService(productRepo, orgRepo, userRepo, cache, searchConfig(cfg))
	router := routing.NewOSRMClient(routing.Config{
		BaseURL:          cfg.Routing.BaseURL,
		Profile:          cfg.Routing.Profile,
		Timeout:          cfg.Routing.Timeout,
		RatePerSecond:    cfg.Routing.RatePerSecond,
		Burst:            cfg.Routing.Burst,
		BreakerFailures:  cfg.Routing.BreakerFailures,
		BreakerOpenDelay: cfg.Routing.BreakerOpenDelay,
	})

	deps := &http.Dependencies{
		Presence:      presenceRepo,
		Events:        pub,
		Feed:          feed,
		Search:        searchSvc,
		Routing:       router,
		Organizations: orgRepo,
		Auth:          http.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Session:       sessionConfig(cfg),
		RateLimit:     cfg.Server.RateLimit,
		DB:            db,
		Cache:         cachePinger,
		NATS:          pub.Conn(),
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Livemap API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests and map sessions up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func searchConfig(cfg *config.Config) usecases.SearchConfig {
	return usecases.SearchConfig{
		PerTypeLimit: cfg.Search.PerTypeLimit,
		CacheTTL:     cfg.Search.CacheTTL,
		OrgCacheTTL:  cfg.Search.OrgCacheTTL,
	}
}

func sessionConfig(cfg *config.Config) http.SessionConfig {
	return http.SessionConfig{
		Scene: usecases.SceneConfig{
			InitTimeout: cfg.Map.InitTimeout,
			Extrusion:   cfg.Map.Extrusion,
		},
		SceneOptions: domain.SceneOptions{
			Container:   "map",
			StyleURL:    cfg.Map.StyleURL,
			Center:      domain.Position{Latitude: cfg.Map.CenterLat, Longitude: cfg.Map.CenterLon},
			Zoom:        cfg.Map.Zoom,
			Pitch:       cfg.Map.Pitch,
			AccessToken: cfg.Map.AccessToken,
		},
		Publisher: usecases.PublisherConfig{
			Interval:     cfg.Presence.PublishInterval,
			MinDistance:  cfg.Presence.MinDistanceM,
			Heartbeat:    cfg.Presence.Heartbeat,
			WriteTimeout: cfg.Presence.WriteTimeout,
		},
		FixTimeout:     cfg.Presence.FixTimeout,
		StopPolicy:     domain.StopPolicy(cfg.Presence.StopPolicy),
		SearchDebounce: cfg.Search.Debounce,
	}
}
