package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/config"
	"github.com/lexiqai/live-translator/internal/export"
	"github.com/lexiqai/live-translator/internal/resilience"
	"github.com/lexiqai/live-translator/internal/settings"
)

// openSettings returns the configured favorites store and its release func
func openSettings(ctx context.Context, cfg *config.Config) (settings.Store, func(), error) {
	switch cfg.SettingsBackend {
	case "postgres":
		store, err := settings.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to migrate settings database: %w", err)
		}
		return store, store.Close, nil
	default:
		return settings.NewFileStore(cfg.SettingsFile), func() {}, nil
	}
}

// openExporter returns nil when export is disabled
func openExporter(cfg *config.Config, logger zerolog.Logger) (*export.Exporter, func(), error) {
	var (
		sink    export.Sink
		release = func() {}
	)

	switch cfg.ExportBackend {
	case "none":
		return nil, release, nil
	case "dir":
		sink = export.NewDirSink(cfg.ExportDir)
	case "s3":
		sink = export.NewS3Sink(export.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	case "mqtt":
		mqttSink, err := export.NewMQTTSink(export.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			AckTimeout:  time.Duration(cfg.MQTTAckTimeout) * time.Second,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		sink = mqttSink
		release = mqttSink.Close
	default:
		return nil, nil, fmt.Errorf("unknown export backend %q", cfg.ExportBackend)
	}

	exporter := export.NewExporter(sink, export.Options{
		Timeout: time.Duration(cfg.ExportTimeout) * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Breaker: resilience.NewCircuitBreaker("export_"+sink.Name(),
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
	}, logger)

	logger.Info().Str("sink", sink.Name()).Msg("Turn export enabled")
	return exporter, release, nil
}
