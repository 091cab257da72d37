package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/api"
	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/config"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreBackend).Str("locks", cfg.LockBackend).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(rootCtx, cfg, "opd-api-server", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// The memory store starts empty, so seed it unless asked not to.
	if cfg.SeedOnStart || cfg.StoreBackend == config.StoreMemory {
		today := time.Now().UTC().Format(allocation.DateLayout)
		n, err := a.Engine.SeedDay(rootCtx, allocation.DefaultDoctors(), today)
		if err != nil {
			logger.Fatal().Err(err).Msg("seed failed")
		}
		logger.Info().Str("date", today).Int("slots", n).Msg("seeded schedule")
	}

	rc := api.RouterConfig{
		Engine:  a.Engine,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	}
	if a.PgPool != nil {
		rc.Postgres = a.PgPool
	}
	if a.Redis != nil {
		rc.Redis = api.RedisPinger(a.Redis)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(rc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}
