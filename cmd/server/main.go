package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/tradepilot/internal/config"
	"github.com/aristath/tradepilot/internal/di"
	"github.com/aristath/tradepilot/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting tradepilot")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire container")
	}
	defer container.Close()

	if err := container.ScheduleRecurring(); err != nil {
		log.Fatal().Err(err).Msg("failed to register periodic jobs")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container.Workers.Start()
	container.Scheduler.Start()

	registrations, err := container.SignalRegistrations(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build signal generator registrations")
	}
	go container.SignalGen.Run(ctx, registrations)

	for _, signalType := range di.ConsumedSignalTypes() {
		st := signalType
		go func() {
			if err := container.Dispatcher.Consume(ctx, st, "dispatcher"); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("signal_type", string(st)).Msg("dispatcher consumer exited")
			}
		}()
	}
	go container.Dispatcher.RunCacheRefreshLoop(ctx)

	go func() {
		if err := container.Server.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	container.Scheduler.Stop()
	container.Workers.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("stopped")
}
