package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "expiry-worker")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry-worker starting up")

	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn().Msg("memory store is private to this process, the worker will find nothing to expire")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(rootCtx, cfg, "opd-expiry-worker", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	runOnce(rootCtx, a.Engine, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Engine, logger)
		}
	}
}

func runOnce(ctx context.Context, engine *allocation.Engine, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := engine.ExpireWaitlist(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("expiry run failed")
		return
	}
	logger.Info().Int("expired", n).Dur("took", time.Since(start)).Msg("expiry run complete")
}
