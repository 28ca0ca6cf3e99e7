package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwase8/MedPredi/internal/analysis"
	"github.com/uwase8/MedPredi/internal/config"
	"github.com/uwase8/MedPredi/internal/genai"
	"github.com/uwase8/MedPredi/internal/metrics"
	"github.com/uwase8/MedPredi/internal/openaicompat"
	"github.com/uwase8/MedPredi/internal/playback"
	"github.com/uwase8/MedPredi/internal/server"
	"github.com/uwase8/MedPredi/internal/session"
	"github.com/uwase8/MedPredi/internal/speech"
	"github.com/uwase8/MedPredi/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "medpredi"
	serviceVersion    = "1.0.0"
)

// provider is a hosted model that can both predict and speak
type provider interface {
	analysis.Generator
	speech.Synthesizer
	Close() error
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with provider credentials")
	flag.Parse()

	// A missing .env file is fine; the environment may already carry the keys
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to read env file %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("provider", cfg.Provider),
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.String("score_policy", cfg.Analysis.ScorePolicy),
		slog.String("playback_device", cfg.Playback.Device),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Int("session_timeout", cfg.Session.Timeout),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	model, upstream, voice, err := newProvider(cfg)
	if err != nil {
		logger.Error("Failed to create model provider", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer model.Close()

	analysisClient, err := analysis.NewClient(model, logger, analysis.Options{
		ScorePolicy: analysis.ScorePolicy(cfg.Analysis.ScorePolicy),
		Timeout:     cfg.Analysis.GetTimeoutDuration(),
	}, appMetrics)
	if err != nil {
		logger.Error("Failed to create analysis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	device, err := playback.NewDevice(cfg.Playback.Device, cfg.Playback.OutputDir)
	if err != nil {
		logger.Error("Failed to open playback device", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Playback device ready", slog.String("device", device.Name()))

	results, err := store.New(store.Config{
		Backend:   cfg.Store.Backend,
		TTL:       cfg.Session.GetTimeoutDuration(),
		Addr:      cfg.Store.Addr,
		Password:  cfg.Store.Password,
		DB:        cfg.Store.DB,
		KeyPrefix: cfg.Store.KeyPrefix,
	})
	if err != nil {
		logger.Error("Failed to create result store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer results.Close()

	speechConfig := speech.Config{
		Voice:         voice,
		FramingPrefix: cfg.Audio.FramingPrefix,
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		Realtime:      cfg.Playback.Realtime,
		Period:        cfg.Playback.GetPeriodDuration(),
	}

	sessionMgr, err := session.NewManager(logger, session.ManagerConfig{
		Timeout:         cfg.Session.GetTimeoutDuration(),
		CleanupInterval: cfg.Session.GetCleanupIntervalDuration(),
		Analyzer:        analysisClient,
		Results:         results,
		NewSpeaker: func() (session.Speaker, error) {
			return speech.NewPipeline(model, device, logger, speechConfig, appMetrics)
		},
	}, appMetrics)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Session.GetTimeoutDuration()),
	)

	httpServer := server.NewHTTPServer(cfg, logger, sessionMgr, analysisClient, upstream, prometheus.DefaultGatherer, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stops every playback and the cleanup routine
	sessionMgr.Stop()

	stats := analysisClient.GetStats()
	logger.Info("Final analysis statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("validation_failures", stats.ValidationFailures),
	)

	logger.Info("Service stopped")
}

// newProvider builds the configured model provider. upstream is nil for providers
// that keep no request statistics.
func newProvider(cfg *config.Config) (provider, server.UpstreamStats, string, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		p, err := openaicompat.NewProvider(openaicompat.Config{
			BaseURL:       cfg.OpenAI.BaseURL,
			APIKey:        cfg.OpenAI.APIKey,
			AnalysisModel: cfg.OpenAI.AnalysisModel,
			SpeechModel:   cfg.OpenAI.SpeechModel,
			Timeout:       cfg.OpenAI.GetTimeoutDuration(),
		})
		if err != nil {
			return nil, nil, "", err
		}
		return p, nil, cfg.OpenAI.Voice, nil

	default:
		c, err := genai.NewClient(genai.Config{
			BaseURL:           cfg.GenAI.BaseURL,
			APIKey:            cfg.GenAI.APIKey,
			AnalysisModel:     cfg.GenAI.AnalysisModel,
			SpeechModel:       cfg.GenAI.SpeechModel,
			Timeout:           cfg.GenAI.GetTimeoutDuration(),
			MaxRetries:        cfg.GenAI.MaxRetries,
			MaxConcurrent:     cfg.GenAI.MaxConcurrent,
			RequestsPerSecond: cfg.GenAI.RequestsPerSecond,
		})
		if err != nil {
			return nil, nil, "", err
		}
		return c, c, cfg.GenAI.Voice, nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
