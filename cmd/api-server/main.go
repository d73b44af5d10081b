package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/store"
)

const version = "0.3.0"

type sink interface {
	appointment.Sink
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, "api-server")
	logger.Info().
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("timezone", cfg.Policy.Timezone).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("store open error")
	}
	defer backend.Close()

	var locker appointment.Locker = appointment.NewLocalLocker()
	if backend.Redis != nil {
		locker = redisclient.NewScheduleLocker(backend.Redis, cfg.LockTTL)
		logger.Info().Dur("lock_ttl", cfg.LockTTL).Msg("using redis schedule lock")
	}

	var notes sink = notify.NewLogSink(logger)
	if cfg.KafkaBrokers != "" {
		ks, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka sink error")
		}
		notes = ks
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("publishing notifications to kafka")
	}
	defer func() {
		if err := notes.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing notification sink")
		}
	}()

	svc := appointment.NewService(backend.Store, locker, notes, cfg.Policy, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Store:          backend.Store,
		Redis:          backend.Redis,
		Logger:         logger,
		Env:            cfg.Env,
		Version:        version,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
