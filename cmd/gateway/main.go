// Command gateway starts the chat ingestion HTTP gateway.
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
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/queue/kafka"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/resultchannel"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/textextract"
	"github.com/fairyhunter13/chat-orchestrator/internal/config"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
	"github.com/fairyhunter13/chat-orchestrator/internal/service/ratelimiter"
	"github.com/fairyhunter13/chat-orchestrator/internal/usecase"
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

	ctx := context.Background()
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

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url invalid", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	producer, err := kafka.NewProducer(ctx, cfg.KafkaBrokers)
	if err != nil {
		slog.Error("kafka connect failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	topics := append(cfg.PrimaryTopics(), cfg.AnalyticsTopics()...)
	if err := kafka.EnsureTopics(ctx, producer.Client(), cfg.TopicPartitions, cfg.TopicReplication, topics...); err != nil {
		slog.Error("topic bootstrap failed", "error", err)
		os.Exit(1)
	}

	emitter := kafka.NewEmitter(producer, 1000)
	defer emitter.Close()

	results := resultchannel.New(rdb, cfg.ResultTTL)
	limiter := ratelimiter.New(rdb)
	extractor := textextract.New(cfg.TikaURL)

	gateway := usecase.NewGateway(
		producer,
		results,
		postgres.NewConversationRepo(pool),
		postgres.NewFileRepo(pool),
		postgres.NewKBRepo(pool),
		extractor,
		postgres.NewAuditRepo(pool),
		emitter,
		usecase.GatewayConfig{
			TopicChat:       cfg.TopicChat,
			TopicFile:       cfg.TopicFile,
			TopicKB:         cfg.TopicKB,
			TopicEvents:     cfg.TopicChatbotEvents,
			MaxMessageChars: cfg.MaxMessageChars,
		})
	dlqSvc := usecase.NewDLQService(postgres.NewDLQRepo(pool), producer, results)

	auth := httpserver.NewTokenAuth(cfg.AuthSecret, cfg.AuthTokenTTL)
	lockout := httpserver.NewLockout(rdb, cfg.LockoutAttempts, cfg.LockoutDuration)
	srv := httpserver.NewServer(gateway, dlqSvc, extractor, auth, lockout, limiter, cfg)

	go serveMetrics(cfg.MetricsPort)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(srv.Router(), "gateway"),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "port", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
