package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skridlevsky/patrolstats/internal/api"
	"github.com/skridlevsky/patrolstats/internal/collector"
	"github.com/skridlevsky/patrolstats/internal/config"
	"github.com/skridlevsky/patrolstats/internal/db"
	"github.com/skridlevsky/patrolstats/internal/patrol"
	"github.com/skridlevsky/patrolstats/internal/progress"
	"github.com/skridlevsky/patrolstats/internal/store"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.SlogLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run history is optional; without a database only the last run is kept.
	var database *db.Postgres
	var history *store.Store
	if cfg.DatabaseURL != "" {
		database, err = db.NewPostgres(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := db.RunMigrations(ctx, database.Pool()); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		history = store.NewStore(database.Pool())
		slog.Info("Run store initialized")
	} else {
		slog.Warn("DATABASE_URL not set, run history will not be persisted")
	}

	detailCache := patrol.NewDetailCache(cfg.DetailCacheTTL)
	client := patrol.NewClient(patrol.ClientConfig{
		BaseURL:   cfg.BaseURL,
		OrgID:     cfg.OrgID,
		Token:     cfg.AuthToken,
		Timeout:   cfg.RequestTimeout,
		VerifyTLS: cfg.VerifyTLS,
	}, detailCache)
	if !client.HasToken() {
		slog.Warn("AUTH_TOKEN not set, every run will fail until it is configured")
	}
	go cleanCache(ctx, detailCache, cfg.DetailCacheTTL)

	sinks := progress.Multi{progress.LogSink{Logger: slog.Default()}}
	var natsSink *progress.NATSSink
	if cfg.NatsURL != "" {
		natsSink, err = progress.NewNATSSink(cfg.NatsURL, cfg.NatsToken, cfg.ProgressSubject, slog.Default())
		if err != nil {
			slog.Error("Failed to connect to NATS, progress stays local", "error", err)
		} else {
			sinks = append(sinks, natsSink)
		}
	}

	runner := collector.NewRunner(client, collector.OptionsFromConfig(cfg), slog.Default())
	var persister collector.Persister
	if history != nil {
		persister = history
	}
	manager := collector.NewManager(runner, persister, sinks, slog.Default())

	var scheduler *collector.Scheduler
	if cfg.ScheduleInterval > 0 {
		scheduler = collector.NewScheduler(manager, cfg.ScheduleInterval, cfg.ScheduleLookbackDays, cfg.Location())
		scheduler.Run()
	}

	routerCfg := &api.RouterConfig{
		Runs:     manager,
		Location: cfg.Location(),
	}
	if database != nil {
		routerCfg.Database = database
		routerCfg.History = history
	}
	if scheduler != nil {
		routerCfg.Scheduler = scheduler
	}
	routerResult := api.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      routerResult.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second, // Must exceed Export handler's 30s context timeout
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}

	// Cancels the active run; its partial report is still stored.
	slog.Info("Stopping collection runs...")
	manager.Shutdown()

	routerResult.RateLimiters.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if natsSink != nil {
		natsSink.Close()
	}
	if database != nil {
		database.Close()
	}

	slog.Info("Server exited")
}

func setupLogging(level slog.Level) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// cleanCache drops expired activity details every ttl until ctx ends.
func cleanCache(ctx context.Context, cache *patrol.DetailCache, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := cache.CleanExpired(); n > 0 {
				slog.Debug("Expired activity details dropped", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
