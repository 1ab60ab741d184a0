// Command worker runs the background dispatcher that claims queued
// messages, hands them to the provider broker, and retires them according to
// the retry/dead-letter policy, alongside the retention janitor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/database"
	"github.com/outpostmsg/outpost/internal/dispatch"
	"github.com/outpostmsg/outpost/internal/janitor"
	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/metrics"
	"github.com/outpostmsg/outpost/internal/provider"
	"github.com/outpostmsg/outpost/internal/store"
	"github.com/outpostmsg/outpost/internal/supervisor"
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
	logger.Info("starting outpost worker",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", "error", err)
	}
	defer db.Close(ctx)

	messageStore := store.New(db)
	broker := provider.NewBrokerFromConfig(cfg.Provider)
	dispatcher := dispatch.New(messageStore, broker, cfg.Worker.BatchSize)
	sweeper := janitor.New(messageStore, cfg.Janitor)

	supervisor.ValidateStartup(cfg.Worker)
	sup := supervisor.New(dispatcher, sweeper, cfg.Worker)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down worker...")
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		logger.Fatal("supervisor exited with error", "error", err)
	}

	logger.Info("worker exited")
}
