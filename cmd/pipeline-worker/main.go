// cmd/pipeline-worker/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"memberflow/internal/callback"
	"memberflow/internal/common/alerts"
	"memberflow/internal/common/config"
	"memberflow/internal/common/database"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/msgraph"
	"memberflow/internal/common/observability"
	"memberflow/internal/common/openai"
	"memberflow/internal/common/queue"
	"memberflow/internal/sink"
	chatpipeline "memberflow/internal/workers/chat-pipeline"
	provisioningpipeline "memberflow/internal/workers/provisioning-pipeline"
	"memberflow/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pipeline worker...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("pipeline-worker", cfg.Tracing.JaegerEndpoint)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		return err
	}, 10, 2*time.Second, zapLog, "Redis initialization")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "PostgreSQL initialization")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var es *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping()
	}, 10, 2*time.Second, zapLog, "Elasticsearch initialization")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Load model registry ---
	modelRegistry, err := registry.LoadRegistry(cfg.Models.RegistryPath)
	if err != nil {
		zapLog.Fatal("model registry load failed", zap.Error(err))
	}
	zapLog.Info("model registry loaded",
		zap.String("version", modelRegistry.Version),
		zap.Int("models", len(modelRegistry.Models)),
	)

	// --- Shared pipeline dependencies ---
	alerter, err := alerts.New(ctx, cfg.Alerts, log)
	if err != nil {
		zapLog.Fatal("alert notifier init failed", zap.Error(err))
	}

	deduper := queue.NewDeduper(rdb.GetClient(), time.Duration(cfg.Queue.DedupeTTL)*time.Second)
	resultSink := sink.New(pg.DB, es.Client, cfg.Database.Elasticsearch.AuditIndex, log)
	notifier := callback.New(config.GetDuration(cfg.Callback.Timeout), log)

	// --- Chat pipeline ---
	completer := openai.NewClient(cfg.Azure.OpenAI)
	// The shared HTTP client must outlast the slowest registered model;
	// per-call deadlines come from the registry entries.
	clientTimeout := config.GetDuration(cfg.Azure.OpenAI.Timeout)
	for _, model := range modelRegistry.Models {
		if d := time.Duration(model.Timeout) * time.Millisecond; d > clientTimeout {
			clientTimeout = d
		}
	}
	completer.SetTimeout(clientTimeout)

	chatHandler := chatpipeline.NewHandler(
		chatpipeline.NewConfig(cfg),
		modelRegistry,
		completer,
		chatpipeline.NewRetriever(es.Client, cfg.Search.Index, cfg.Search.TopK, log),
		deduper,
		resultSink,
		notifier,
		log,
	)

	// --- Provisioning pipeline ---
	graphClient := msgraph.NewClient(cfg.Azure, config.GetDuration(cfg.Pipelines.Provisioning.Timeout))
	provisioningHandler := provisioningpipeline.NewHandler(
		provisioningpipeline.NewConfig(cfg),
		graphClient,
		deduper,
		resultSink,
		notifier,
		alerter,
		log,
	)

	block := config.GetDuration(cfg.Queue.BlockTimeout)

	consumers := []struct {
		name     string
		enabled  bool
		consumer *queue.Consumer
		handle   queue.Handler
	}{
		{
			name:     "chat",
			enabled:  cfg.Pipelines.Chat.Enabled,
			consumer: queue.NewConsumer(rdb.GetClient(), cfg.Queue.ChatStream, cfg.Queue.ConsumerGroup, cfg.Queue.ConsumerName, block, log),
			handle:   chatHandler.Handle,
		},
		{
			name:     "provisioning",
			enabled:  cfg.Pipelines.Provisioning.Enabled,
			consumer: queue.NewConsumer(rdb.GetClient(), cfg.Queue.ProvisioningStream, cfg.Queue.ConsumerGroup, cfg.Queue.ConsumerName, block, log),
			handle:   provisioningHandler.Handle,
		},
	}

	var wg sync.WaitGroup
	started := 0
	for _, c := range consumers {
		if !c.enabled {
			zapLog.Info("pipeline disabled, skipping", zap.String("pipeline", c.name))
			continue
		}
		if err := c.consumer.EnsureGroup(ctx); err != nil {
			zapLog.Fatal("consumer group setup failed", zap.String("pipeline", c.name), zap.Error(err))
		}

		wg.Add(1)
		started++
		go func(name string, consumer *queue.Consumer, handle queue.Handler) {
			defer wg.Done()
			zapLog.Info("consumer started", zap.String("pipeline", name))
			consumer.Run(ctx, handle)
			zapLog.Info("consumer stopped", zap.String("pipeline", name))
		}(c.name, c.consumer, c.handle)
	}

	if started == 0 {
		zapLog.Fatal("no pipeline enabled, nothing to do")
	}

	// Metrics and pprof. The default mux already carries the pprof routes
	// from the blank import.
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		zapLog.Info("metrics server listening", zap.String("address", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	zapLog.Info("pipeline worker running", zap.Int("consumers", started))

	<-ctx.Done()
	zapLog.Info("Shutting down...")
	wg.Wait()
	zapLog.Info("Shutdown complete")
}
