// Command dataflow runs the analytics consumer aggregating the secondary bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/queue/kafka"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/chat-orchestrator/internal/config"
	"github.com/fairyhunter13/chat-orchestrator/internal/dataflow"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	// Topic bootstrap only; this service never produces.
	bootstrap, err := kafka.NewProducer(ctx, cfg.KafkaBrokers)
	if err != nil {
		slog.Error("kafka connect failed", "error", err)
		os.Exit(1)
	}
	if err := kafka.EnsureTopics(ctx, bootstrap.Client(), cfg.TopicPartitions, cfg.TopicReplication,
		cfg.AnalyticsTopics()...); err != nil {
		bootstrap.Close()
		slog.Error("topic bootstrap failed", "error", err)
		os.Exit(1)
	}
	bootstrap.Close()

	proc := dataflow.NewProcessor(
		postgres.NewAnalyticsRepo(pool),
		cfg.TopicLLMCalls,
		cfg.TopicFileProcessing,
		cfg.MetricWindowMinutes,
		cfg.StatsEvery,
	)
	consumer, err := kafka.NewDataflowConsumer(cfg.KafkaBrokers, cfg.DataflowConsumerGroup, cfg.AnalyticsTopics(), proc)
	if err != nil {
		slog.Error("consumer setup failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	go serveMetrics(cfg.MetricsPort)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "port", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
