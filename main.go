package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"filecatalog/config"
	"filecatalog/core"
	"filecatalog/logging"
	"filecatalog/metrics"
	"filecatalog/server"
)

func main() {
	configPath := flag.String("config", "catalog.toml", "Path to config file")
	listen := flag.String("listen", "", "Override the listen address from the config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// 2. Init Logging
	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}); err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}
	defer logging.Sync()
	logger := logging.L()

	// 3. Init Artifact Ledger
	ledger := core.NewArtifactLedger(cfg.Janitor.Ledger)
	if err := ledger.Load(); err != nil {
		logger.Warn("failed to load artifact ledger", zap.String("path", cfg.Janitor.Ledger), zap.Error(err))
	}

	// 4. Init Janitor
	retention := time.Duration(cfg.Janitor.RetentionMinutes) * time.Minute
	janitor := core.NewJanitor(ledger, cfg.Archive.ScratchDir, cfg.Janitor.Cron, retention, logger.Named("janitor"))
	if err := janitor.Start(); err != nil {
		logger.Fatal("failed to schedule janitor", zap.Error(err))
	}

	// 5. Metrics
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	// 6. Serve until signalled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.OptionsFromConfig(cfg, ledger, logger))
	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		janitor.Stop()
		logger.Fatal("server failed", zap.Error(err))
	}

	logger.Info("shutting down")
	janitor.Stop()
	if err := ledger.Save(); err != nil {
		logger.Warn("failed to save artifact ledger", zap.Error(err))
	}
}
