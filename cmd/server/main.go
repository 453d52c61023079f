package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/resona/internal/api"
	"github.com/Harshitk-cp/resona/internal/backend"
	"github.com/Harshitk-cp/resona/internal/buildconfig"
	"github.com/Harshitk-cp/resona/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func main() {
	if err := config.Load(); err != nil {
		zap.L().Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	b, err := backend.Open(ctx, backend.ConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer b.Close()

	if _, err := b.CheckTables(ctx, logger); err != nil {
		logger.Warn("could not check schema", zap.Error(err))
	}

	app, err := api.NewApp(b.Stores, api.OptionsFromConfig(), logger)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("driver", b.Driver),
			zap.String("version", buildconfig.Version()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	// Closing the live feed first lets streaming handlers return so
	// Shutdown does not wait on them.
	app.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
