package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, "reconcile-worker")
	logger.Info().
		Dur("interval", cfg.WorkerInterval).
		Str("store", cfg.StoreDriver).
		Msg("reconcile worker starting up")

	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn().Msg("memory store is private to this process; the worker only sees its own data")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("store open error")
	}
	defer backend.Close()

	// Reconciliation never cancels on a schedule, so it needs no lock or sink.
	svc := appointment.NewService(backend.Store, nil, nil, cfg.Policy, logger)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	res, err := svc.Reconcile(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("reconcile run error")
		return
	}
	logger.Info().
		Int("scanned", res.Scanned).
		Int("changed", res.Changed).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
}
