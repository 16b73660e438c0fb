package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"zigbridge/internal/config"
	"zigbridge/internal/mqtt"
	"zigbridge/internal/observability"
	"zigbridge/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New(*configPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logger := observability.NewLogger(cfg.LogLevel, observability.WithJSON(cfg.LogJSON))
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()

	store, err := storage.New(
		storage.Config{
			Path:                cfg.DatabaseFile,
			IdleTTL:             cfg.IdleTTLSeconds,
			ZCLValueMaxAge:      cfg.ZCLValueMaxAge,
			ConstrainedPlatform: cfg.ConstrainedPlatform,
		},
		storage.WithLogger(logger.With(slog.String("component", "storage"))),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("failed to initialise store", slog.Any("error", err))
		return
	}

	if err := store.Open(); err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", slog.Any("error", err))
		}
	}()

	if !store.Migrate() {
		logger.Error("schema migration failed")
		return
	}

	cache := storage.NewCache()
	if err := store.LoadAll(cache, nil, nil); err != nil {
		logger.Warn("hydration finished with errors", slog.Any("error", err))
	}

	schedOpts := []storage.SchedulerOption{
		storage.WithCommitDelays(
			time.Duration(cfg.SaveDelaySeconds)*time.Second,
			time.Duration(cfg.LongDelaySeconds)*time.Second,
		),
	}

	var notifier *mqtt.Notifier
	if cfg.NotifierEnabled {
		notifier, err = mqtt.NewNotifier(mqtt.Config{
			BrokerHost: cfg.MQTTBrokerAddress,
			BrokerPort: cfg.MQTTPort,
			Username:   cfg.MQTTUsername,
			Password:   cfg.MQTTPassword,
			Topic:      cfg.MQTTTopic,
		}, logger.With(slog.String("component", "notifier")))
		if err != nil {
			logger.Error("failed to initialise event notifier", slog.Any("error", err))
			return
		}
		if err := notifier.Start(); err != nil {
			logger.Warn("event notifier unavailable", slog.Any("error", err))
		} else {
			defer notifier.Stop()
			schedOpts = append(schedOpts, storage.WithOnCommit(func(sum storage.CommitSummary) {
				notifier.Publish(mqtt.CommitEvent{
					Classes:    uint32(sum.Classes),
					Rows:       sum.Rows,
					DurationMS: sum.Duration.Milliseconds(),
				})
			}))
		}
	}

	scheduler := storage.NewScheduler(store, cache, schedOpts...)
	scheduler.Start()
	defer scheduler.Stop()

	obsServer := observability.NewServer(observability.ServerConfig{
		Address: cfg.ObservabilityAddress,
		Logger:  logger.With(slog.String("component", "observability")),
		Metrics: metrics,
	})
	go obsServer.Run(ctx)

	logger.Info("zigbridge starting",
		slog.String("database", cfg.DatabaseFile),
		slog.String("observability_address", cfg.ObservabilityAddress),
	)

	<-ctx.Done()
	logger.Info("zigbridge stopping")
}
