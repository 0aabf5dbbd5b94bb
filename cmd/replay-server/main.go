package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/backend"
	"github.com/miradorstack/mirador-replay/internal/capture"
	"github.com/miradorstack/mirador-replay/internal/config"
	"github.com/miradorstack/mirador-replay/internal/metrics"
	"github.com/miradorstack/mirador-replay/internal/record"
	"github.com/miradorstack/mirador-replay/internal/services"
	"github.com/miradorstack/mirador-replay/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	policy := capture.ParsePolicy(cfg.Capture.Policy)
	logger.Info("starting mirador-replay server",
		slog.String("address", cfg.Server.Address),
		slog.String("capture_policy", policy.String()),
		slog.String("dump_dir", cfg.Capture.DumpDir),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	compression, err := record.ParseCompression(cfg.Capture.Compression)
	if err != nil {
		logger.Error("invalid capture compression", slog.Any("error", err))
		os.Exit(1)
	}
	store := capture.NewDumpStore(capture.DumpStoreConfig{
		Dir:             cfg.Capture.DumpDir,
		Compression:     compression,
		BreakerFailures: cfg.Capture.BreakerFailures,
		BreakerCooldown: cfg.Capture.BreakerCooldown,
		OnBreakerChange: func(from, to string) {
			logger.Warn("capture breaker state changed", slog.String("from", from), slog.String("to", to))
		},
	})

	runtime := backend.NewReference()
	executors := make([]services.ModelExecutor, 0, len(cfg.Models))
	for _, sig := range cfg.Models {
		executors = append(executors, capture.NewRecorder(sig, runtime, capture.RecorderConfig{
			Policy: policy,
			Store:  store,
			Logger: logger,
		}))
		logger.Info("model loaded", slog.String("model", sig.Name), slog.Int("inputs", len(sig.Inputs)), slog.Int("outputs", len(sig.Outputs)))
	}

	inferenceService := services.NewInferenceService(logger, executors...)

	server, err := api.NewServer(cfg.Server, inferenceService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	inferenceService.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-replay server stopped", slog.Duration("p95_latency", inferenceService.LatencyP95()))
}
