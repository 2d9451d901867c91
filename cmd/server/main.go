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

	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/config"
	"github.com/lexiqai/live-translator/internal/live"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/recorder"
	"github.com/lexiqai/live-translator/internal/server"
	"github.com/lexiqai/live-translator/internal/transcript"
	"github.com/lexiqai/live-translator/internal/translate"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("live_model", cfg.LiveModel).
		Str("translate_model", cfg.TranslateModel).
		Str("export_backend", cfg.ExportBackend).
		Str("settings_backend", cfg.SettingsBackend).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Live Translator starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audio input
	backend, err := capture.NewBackend(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize audio backend")
	}
	defer backend.Close()

	// Settings
	store, closeStore, err := openSettings(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open settings store")
	}
	defer closeStore()

	// Export of completed turns
	exporter, closeExporter, err := openExporter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open export sink")
	}
	defer closeExporter()

	// Text translation
	gen, err := translate.NewGenAIGenerator(ctx, cfg.GeminiAPIKey, cfg.TranslateModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create translation client")
	}
	translator := translate.NewTranslator(gen, time.Duration(cfg.TranslateTimeout)*time.Second, logger)

	// Live sessions and the recorder
	liveClient := live.NewClient(live.Config{
		Endpoint:       cfg.LiveEndpoint,
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.LiveModel,
		Voice:          cfg.LiveVoice,
		ConnectTimeout: cfg.ConnectTimeout(),
		SendQueueSize:  cfg.LiveSendQueueSize,
	}, logger)

	hub := server.NewHub(logger)
	defer hub.Close()

	var turnExporter recorder.TurnExporter
	if exporter != nil {
		turnExporter = exporter
	}
	rec := recorder.New(
		recorder.Config{
			FrameSize: cfg.CaptureFrameSize,
			Limits: transcript.Limits{
				MaxEntries: cfg.TranscriptMaxEntries,
				MaxChars:   cfg.TranscriptMaxChars,
			},
		},
		recorder.BackendMicrophone{Backend: backend},
		recorder.OtoSpeaker{BufferSize: time.Duration(cfg.PlaybackBufferMs) * time.Millisecond},
		recorder.LiveConnector{Client: liveClient},
		turnExporter,
		hub,
		logger,
	)
	if _, err := rec.RefreshDevices(); err != nil {
		logger.Warn().Err(err).Msg("Initial device enumeration failed")
	}

	// Readiness checks
	checks := map[string]observability.HealthCheckFunc{
		"audio": func(ctx context.Context) (bool, error) {
			err := backend.Healthy()
			return err == nil, err
		},
		"settings": func(ctx context.Context) (bool, error) {
			err := store.Healthy(ctx)
			return err == nil, err
		},
	}
	if exporter != nil {
		checks["export"] = func(ctx context.Context) (bool, error) {
			err := exporter.Healthy(ctx)
			return err == nil, err
		}
	}

	router := server.NewRouter(server.Deps{
		Recorder:       rec,
		Translator:     translator,
		Favorites:      store,
		Events:         hub.ServeWS,
		ReadyChecks:    checks,
		MetricsEnabled: cfg.MetricsEnabled,
		Logger:         logger,
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("events", fmt.Sprintf("ws://localhost:%s/api/events", cfg.Port)).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		watcher := capture.NewWatcher(backend, cfg.DevicePoll(), logger)
		return watcher.Run(gctx, rec.DevicesChanged)
	})

	if exporter != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case w := <-exporter.Warnings():
					rec.Publish(recorder.Event{Type: recorder.EventWarning, Time: w.Time, Data: w})
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Int("event_clients", hub.Clients()).Msg("Shutting down server...")

		if err := rec.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop recording")
		}

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Server stopped with error")
	}

	if exporter != nil {
		exporter.Wait()
	}
	logger.Info().Msg("Server exited gracefully")
}
