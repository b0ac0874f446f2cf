// Command orchestrator runs the worker pool consuming the primary job bus.
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
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/ai"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/queue/kafka"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/resultchannel"
	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/vector/qdrant"
	"github.com/fairyhunter13/chat-orchestrator/internal/config"
	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
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
	promptRepo := postgres.NewPromptRepo(pool)
	seedPrompts(ctx, cfg, promptRepo)

	aiClient := ai.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.EmbeddingModel, cfg.LLMTimeout)
	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantAPIKey)

	chatHandler := usecase.NewChatHandler(
		postgres.NewConversationRepo(pool), promptRepo, aiClient, vectors, results, emitter,
		usecase.ChatConfig{
			Budget: usecase.TokenBudget{
				MaxContextTokens: cfg.MaxContextTokens,
				MaxMessageTokens: cfg.MaxMessageTokens,
				MaxHistoryLength: cfg.MaxHistoryLength,
			},
			ResponseReserve:  cfg.ResponseReserve,
			KBCollection:     cfg.KBCollection,
			RAGTopK:          cfg.RAGTopK,
			RAGMaxDistance:   cfg.RAGMaxDistance,
			MaxRAGTokens:     cfg.MaxRAGTokens,
			TitleMaxTokens:   cfg.TitleMaxTokens,
			TitleTemperature: cfg.TitleTemperature,
			StreamFlushEvery: cfg.StreamFlushEvery,
			Model:            cfg.LLMModel,
			LLMTopic:         cfg.TopicLLMCalls,
		})
	fileHandler := usecase.NewFileHandler(
		postgres.NewFileRepo(pool), vectors, aiClient, results, emitter,
		usecase.FileConfig{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			FileTopic:    cfg.TopicFileProcessing,
		})
	kbHandler := usecase.NewKBHandler(
		postgres.NewKBRepo(pool), vectors, aiClient, results,
		usecase.KBConfig{
			Collection: cfg.KBCollection,
			MaxChars:   cfg.ChunkSize,
		})

	worker, err := kafka.NewWorker(
		kafka.WorkerConfig{
			Brokers:    cfg.KafkaBrokers,
			GroupID:    cfg.ConsumerGroup,
			Topics:     cfg.PrimaryTopics(),
			RetryTopic: cfg.TopicRetry,
			MaxWorkers: cfg.MaxWorkers,
			Policy: domain.RetryPolicy{
				MaxRetries: cfg.RetryMaxRetries,
				BaseDelay:  cfg.RetryBaseDelay,
				Multiplier: cfg.RetryMultiplier,
				MaxDelay:   cfg.RetryMaxDelay,
				JitterMax:  cfg.RetryJitterMax,
			},
		},
		map[string]kafka.HandlerFunc{
			cfg.TopicChat: chatHandler.Handle,
			cfg.TopicFile: fileHandler.Handle,
			cfg.TopicKB:   kbHandler.Handle,
		},
		producer,
		postgres.NewDLQRepo(pool),
		results,
	)
	if err != nil {
		slog.Error("worker setup failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	go serveMetrics(cfg.MetricsPort)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
}

// seedPrompts applies operator prompt overrides from the optional YAML file.
func seedPrompts(ctx context.Context, cfg config.Config, repo *postgres.PromptRepo) {
	po, err := config.LoadPromptOverrides(cfg.PromptsFile)
	if err != nil {
		slog.Error("prompt overrides load failed", "path", cfg.PromptsFile, "error", err)
		return
	}
	if po.SystemPrompt == "" && po.RAGPromptTemplate == "" && po.TitlePrompt == "" {
		return
	}
	ps := domain.PromptSet{
		SystemPrompt:      po.SystemPrompt,
		RAGPromptTemplate: po.RAGPromptTemplate,
		TitlePrompt:       po.TitlePrompt,
	}
	if err := repo.Seed(ctx, ps); err != nil {
		slog.Error("prompt seed failed", "error", err)
		return
	}
	slog.Info("prompt overrides seeded", "path", cfg.PromptsFile)
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "port", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
