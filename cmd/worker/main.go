// Command worker analyzes proposals queued on Redpanda and publishes the
// results for downstream report generation.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/proposal-evaluator/internal/app"
	"github.com/fairyhunter13/proposal-evaluator/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Expose worker metrics on a dedicated port for Prometheus.
	observability.InitMetrics()
	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	rdb, err := app.NewRedisClient(ctx, cfg)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	orch, err := app.BuildOrchestrator(cfg, app.BuildRegistry(cfg, rdb))
	if err != nil {
		slog.Error("orchestrator init failed", slog.Any("error", err))
		os.Exit(1)
	}

	producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, cfg.KafkaResultsTopic)
	if err != nil {
		slog.Error("redpanda producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close producer", slog.Any("error", err))
		}
	}()

	consumer, err := redpanda.NewConsumer(ctx, redpanda.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		GroupID:       cfg.KafkaGroupID,
		RequestsTopic: cfg.KafkaRequestsTopic,
		ResultsTopic:  cfg.KafkaResultsTopic,
		Concurrency:   cfg.AnalysisConcurrency,
	}, orch, producer)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	runErr := consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil {
		slog.Error("worker stopped", slog.Any("error", runErr))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
