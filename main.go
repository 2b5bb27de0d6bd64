package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"salaryclf/batch"
	"salaryclf/config"
	"salaryclf/db"
	qhttp "salaryclf/http"
	"salaryclf/logging"
	"salaryclf/monitoring"
	"salaryclf/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(config.Locate(*configPath))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.Log)
	defer logger.Sync()

	// 2. Load model artifacts
	artifacts, err := pipeline.LoadArtifacts(cfg)
	if err != nil {
		logger.Fatal("failed to load artifacts", zap.Error(err))
	}
	logger.Info("artifacts loaded",
		zap.String("model_type", cfg.ML.ModelType),
		zap.Int("features", artifacts.Features.Len()),
		zap.Strings("classes", artifacts.Model.Classes()))

	// 3. Initialize database
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 4. Observers and the pipeline service
	metrics := monitoring.NewMetrics()
	hub := monitoring.NewHub(logger.Named("ws"), cfg.Http.AllowedOrigins)
	go hub.Start()

	svc, err := pipeline.NewService(artifacts, pipeline.OptionsFromConfig(cfg), logger.Named("pipeline"),
		store.Observer(logger.Named("audit")), metrics, hub)
	if err != nil {
		logger.Fatal("failed to build prediction service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Batch inbox
	if cfg.Batch.InboxDir != "" {
		watcher, err := batch.NewWatcher(cfg.Batch, svc, logger.Named("inbox"))
		if err != nil {
			logger.Fatal("failed to prepare batch inbox", zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("batch inbox stopped", zap.Error(err))
			}
		}()
	}

	// 6. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfigFrom(cfg.Http), &qhttp.API{
		Service: svc,
		Store:   store,
		Hub:     hub,
		Metrics: metrics,
		Logger:  logger.Named("http"),
		Charset: cfg.Batch.Charset,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// 7. Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	hub.Stop()

	logger.Info("exiting")
}
