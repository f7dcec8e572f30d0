// Package main is the entrypoint for the generation relay API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deneee3444-wq/api/internal/api"
	"github.com/deneee3444-wq/api/internal/api/handler"
	mw "github.com/deneee3444-wq/api/internal/api/middleware"
	"github.com/deneee3444-wq/api/internal/artifact"
	"github.com/deneee3444-wq/api/internal/cache"
	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/internal/jobs"
	"github.com/deneee3444-wq/api/internal/pool"
	"github.com/deneee3444-wq/api/internal/provider"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	})))
	slog.Info("config loaded", "provider", cfg.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	dbPool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbPool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create providers
	generator, err := provider.NewGenerationProvider(cfg)
	if err != nil {
		return fmt.Errorf("create generation provider: %w", err)
	}
	speech := provider.NewSpeechSynthesizer(cfg)
	slog.Info("providers initialized", "provider", generator.Name(), "speech", speech != nil)

	artifacts, err := artifact.NewFileStore(cfg.Artifacts.Dir, cfg.Artifacts.BaseURL)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	// 6. Create store, pool and job service
	pgStore := store.NewPostgresStore(dbPool)
	credPool := pool.New(pgStore, pool.NewSealer(cfg.Auth.SealKey))

	svc := jobs.NewService(jobs.Deps{
		Store:     pgStore,
		Pool:      credPool,
		Cache:     redisCache,
		Provider:  generator,
		Speech:    speech,
		Artifacts: artifacts,
		Logger:    slog.Default(),
	}, cfg.Jobs)

	// 7. Reconcile jobs left behind by the previous process before admitting new ones
	if _, err := svc.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	// 8. Build router with dependencies
	router := newRouter(cfg, routerDeps{
		store:     pgStore,
		cache:     redisCache,
		pool:      credPool,
		jobs:      svc,
		artifacts: artifacts,
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout. Executors stop after the listener so no
	// job is admitted once they have been told to stop.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("job executor shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// routerDeps are the runtime components the HTTP layer is built over.
type routerDeps struct {
	store interface {
		handler.TenantData
		handler.Pinger
		mw.TenantStore
	}
	cache     cache.Cache
	pool      handler.CredentialPool
	jobs      handler.JobService
	artifacts *artifact.FileStore
}

func newRouter(cfg *config.Config, d routerDeps) http.Handler {
	admin := handler.NewAdmin(d.pool, d.store, d.artifacts, d.jobs)

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(d.store, cfg.Auth.AdminAPIKey),
		RateLimit: mw.NewRateLimit(d.cache, cfg.Server.RateLimitPerMin),

		HealthHandler: handler.NewHealthHandler(d.store, d.cache),
		Artifacts:     d.artifacts.Handler(),

		GenerateImage: handler.NewGenerateHandler(d.jobs, models.JobKindImage),
		GenerateVideo: handler.NewGenerateHandler(d.jobs, models.JobKindVideo),
		GenerateTTS:   handler.NewGenerateHandler(d.jobs, models.JobKindTTS),

		ListJobs:  handler.NewListJobsHandler(d.jobs),
		GetJob:    handler.NewGetJobHandler(d.jobs),
		JobStatus: handler.NewJobStatusHandler(d.jobs),
		Quota:     handler.NewQuotaHandler(d.jobs),
		Voices:    handler.NewVoicesHandler(d.jobs),

		ListCredentials:  handler.NewListCredentialsHandler(d.pool),
		AddCredentials:   handler.NewAddCredentialsHandler(d.pool),
		DeleteCredential: handler.NewDeleteCredentialHandler(d.pool),
		ResetCredentials: handler.NewResetCredentialsHandler(d.pool),

		AdminResetPool:        admin.ResetPool,
		AdminDeleteTenant:     admin.DeleteTenant,
		AdminDeleteTenantData: admin.DeleteTenantData,
		AdminDeleteAllData:    admin.DeleteAllData,
		AdminStats:            admin.Stats,
	})
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
