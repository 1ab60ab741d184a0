// Command api serves the outbound message delivery HTTP surface: message
// submission, health/readiness, and the tenant/key admin endpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/api"
	"github.com/outpostmsg/outpost/internal/audit"
	"github.com/outpostmsg/outpost/internal/auth"
	"github.com/outpostmsg/outpost/internal/database"
	"github.com/outpostmsg/outpost/internal/enqueue"
	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/metrics"
	middlewares "github.com/outpostmsg/outpost/internal/middleware"
	"github.com/outpostmsg/outpost/internal/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting outpost api",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	if cfg.Metrics.Enabled {
		metrics.Init()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("failed to apply migrations", "error", err)
	}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", "error", err)
	}
	defer db.Close(ctx)

	messageStore := store.New(db)
	authRepo := auth.NewRepository(messageStore)
	enqueuer := enqueue.New(messageStore)

	auditLog := audit.New(0)
	go auditLog.Run(ctx)
	defer auditLog.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.ReadTimeout))
	r.Use(middlewares.Security)
	r.Use(middlewares.RateLimit(cfg.Server.HTTPRateLimitPerMinute))
	r.Use(maxBodyBytes(cfg.Server.MaxBodyBytes))

	apiHandler := api.NewHandler(messageStore, authRepo, enqueuer, auditLog, cfg.Admin.ReadKey, cfg.Admin.WriteKey, Version, BuildTime, GitCommit)
	apiHandler.RegisterRoutes(r)

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting http server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}

// maxBodyBytes caps the request body per spec.md §6 so a single oversized
// submission can't exhaust server memory ahead of the Enqueuer's own checks.
func maxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server", "address", addr, "path", path)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}
