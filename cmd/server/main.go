package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/redisplay/server/internal/app"
	"github.com/redisplay/server/internal/bus"
	"github.com/redisplay/server/internal/config"
	"github.com/redisplay/server/internal/database"
	"github.com/redisplay/server/internal/enrich"
	"github.com/redisplay/server/internal/hub"
	"github.com/redisplay/server/internal/logging"
	"github.com/redisplay/server/internal/scheduler"
	"github.com/redisplay/server/internal/server"
)

// blobCacheTTL bounds how stale enrichment data may get before a source
// has to push a fresh blob.
const blobCacheTTL = 15 * time.Minute

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := bus.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func healthChecks(pool *pgxpool.Pool, rdb *goredis.Client) []server.HealthCheck {
	return []server.HealthCheck{
		{Name: "postgres", Check: func(ctx context.Context) error { return pool.Ping(ctx) }},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
}

func runGracefulShutdown(srv *server.Server, h *hub.Hub, sched *scheduler.Scheduler) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		sched.Stop()
		h.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	viewRepo := database.NewViewRepo(pool)
	channelRepo := database.NewChannelRepo(pool)

	galleries := enrich.NewRedisGalleryStore(redisClient)
	blobCache := enrich.NewBlobCache(redisClient, blobCacheTTL)

	messageBus := bus.NewRedisBus(redisClient)

	broadcastHub := hub.New(messageBus, hub.NewRewriter(cfg.PublicBaseURL), clock, cfg.MaxSinksPerChannel)
	sched := scheduler.New(clock, viewRepo, channelRepo, messageBus, galleries, enrich.Injectors(blobCache))

	appSvc := app.NewService(viewRepo, channelRepo, sched, broadcastHub, galleries, blobCache)

	srv := server.NewServer(cfg, appSvc, clock, healthChecks(pool, redisClient))

	done := runGracefulShutdown(srv, broadcastHub, sched)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
