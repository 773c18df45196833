package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/praekeltfoundation/who-smoking-cessation/cmd/mainconfig"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/api"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/archive"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/broker"
	appconfig "github.com/praekeltfoundation/who-smoking-cessation/internal/config"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/flows/cessation"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/observability/metrics"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/session"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/worker"
	"github.com/praekeltfoundation/who-smoking-cessation/pkg/logging"

	enginepkg "github.com/praekeltfoundation/who-smoking-cessation/internal/engine"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngineMetrics(registry)
	workerMetrics := metrics.NewWorkerMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	// Redis session store
	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOptions)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	sessions := session.New(redisClient, cfg.SessionTTL)

	// Queues
	inboundQueue, eventQueue, outboundQueue, answerQueue, err := buildQueues(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize queues", "error", err)
		os.Exit(1)
	}

	// Conversation flow
	flowRegistry, err := cessation.Registry()
	if err != nil {
		logger.Error("invalid state registry", "error", err)
		os.Exit(1)
	}
	newApp := func(user *models.User) *enginepkg.App {
		return cessation.NewApp(flowRegistry, user, engineMetrics)
	}

	inboundOpts := []worker.InboundOption{
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithMetrics(workerMetrics),
	}
	if cfg.AnswersEnabled() && answerQueue != nil {
		inboundOpts = append(inboundOpts, worker.WithAnswerQueue(answerQueue))
	}
	inbound := worker.NewInbound(newApp, sessions, inboundQueue, eventQueue, outboundQueue, logger, inboundOpts...)
	inbound.Start(ctx)
	logger.Info("inbound worker started", "transport", cfg.TransportName, "concurrency", cfg.Concurrency)

	var answers *worker.AnswerWorker
	if cfg.AnswersEnabled() && answerQueue != nil {
		answerOpts := []worker.AnswerOption{worker.WithAnswerMetrics(workerMetrics)}
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("pgx", cfg.DatabaseURL)
			if err != nil {
				logger.Error("failed to open postgres", "error", err)
				os.Exit(1)
			}
			defer func() { _ = db.Close() }()
			answerOpts = append(answerOpts, worker.WithArchiver(archive.NewStore(db)))
		}
		answers = worker.NewAnswerWorker(answerQueue, worker.AnswerConfig{
			BaseURL:       cfg.AnswerAPIURL,
			Token:         cfg.AnswerAPIToken,
			ResourceID:    cfg.AnswerResourceID,
			BatchSize:     cfg.AnswerBatchSize,
			FlushInterval: cfg.AnswerBatchTime,
		}, logger, answerOpts...)
		answers.Start(ctx)
		logger.Info("answer worker started", "batch_size", cfg.AnswerBatchSize)
	}

	// Operational HTTP surface
	router := api.New(&api.Config{
		Logger:         logger,
		Sessions:       sessions,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HTTPMetrics:    httpMetrics,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	inbound.Wait()
	if answers != nil {
		answers.Wait()
	}
	logger.Info("stopped")
}

// buildQueues wires either SQS or in-memory queues depending on
// USE_MEMORY_QUEUE. The answer queue is optional and nil when unconfigured.
func buildQueues(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (inbound, events, outbound, answers broker.Queue, err error) {
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory queues")
		return broker.NewMemoryQueue(1024), broker.NewMemoryQueue(1024), broker.NewMemoryQueue(1024), broker.NewMemoryQueue(1024), nil
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	client := sqs.NewFromConfig(awsCfg)

	inbound = broker.NewSQSQueue(client, cfg.InboundQueueURL)
	events = broker.NewSQSQueue(client, cfg.EventQueueURL)
	outbound = broker.NewSQSQueue(client, cfg.OutboundQueueURL)
	if cfg.AnswerQueueURL != "" {
		answers = broker.NewSQSQueue(client, cfg.AnswerQueueURL)
	}
	return inbound, events, outbound, answers, nil
}
