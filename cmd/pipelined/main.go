// Package main is the entry point for the pipeline graph service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/api"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/config"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/pipelinestore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/positionstore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/tracing"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/validator"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting pipeline graph service",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
	)

	// Tracing
	tp, err := tracing.Init(context.Background(), cfg.TracingConfig(), logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	}

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator; nodes are stored unchecked
		v = nil
	}
	var nodeValidator pipelinestore.NodeValidator
	if v != nil {
		nodeValidator = v
	}

	// Pipeline store
	var store pipelinestore.Store
	switch cfg.PipelineStoreType {
	case "redis":
		redisStore, err := pipelinestore.NewRedisStore(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, nodeValidator)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory pipeline store", "error", err)
			store = pipelinestore.NewMemoryStore(nodeValidator)
		} else {
			store = redisStore
			logger.Info("using Redis pipeline store", slog.String("url", cfg.RedisURL))
		}
	default:
		store = pipelinestore.NewMemoryStore(nodeValidator)
		logger.Info("using in-memory pipeline store")
	}
	defer store.Close()

	// Saved arrangements
	var positions positionstore.Store
	switch cfg.PositionStoreType {
	case "redis":
		redisPositions, err := positionstore.NewRedisStore(&positionstore.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PositionTTL,
		})
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory position store", "error", err)
			positions = positionstore.NewMemoryStore()
		} else {
			positions = redisPositions
			logger.Info("using Redis position store", slog.Duration("ttl", cfg.PositionTTL))
		}
	default:
		positions = positionstore.NewMemoryStore()
		logger.Info("using in-memory position store")
	}
	defer positions.Close()

	// Initialize API handlers
	handlers := api.NewHandlers(store, positions, v, cfg, logger)
	server := api.NewServer(handlers)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}

	logger.Info("server stopped")
}
