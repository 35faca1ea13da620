// File: cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"doc-ingest/internal/config"
	"doc-ingest/internal/domain/ports/adapter"
	"doc-ingest/internal/infra/adapters/ai"
	"doc-ingest/internal/infra/adapters/events"
	"doc-ingest/internal/infra/adapters/parser"
	"doc-ingest/internal/infra/adapters/store"
	"doc-ingest/internal/infra/adapters/tokenizer"
	pg "doc-ingest/internal/infra/db/postgres"
	adminhttp "doc-ingest/internal/infra/http"
	"doc-ingest/internal/infra/logging"
	"doc-ingest/internal/infra/metrics"
	red "doc-ingest/internal/infra/redis"
	"doc-ingest/internal/infra/sched"
	"doc-ingest/internal/infra/worker"
	"doc-ingest/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, verbose secrets)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Str("path", *cfgPath).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool)
	docRepo := pg.NewDocumentRepo(pool)
	pipelineRepo := pg.NewPipelineStatusRepo(pool)
	notifier := pg.NewNotifier(pool)

	// ---- Redis (optional) ----
	var (
		redisClient *red.Client
		limiter     adapter.RateLimiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient)
		logger.Info().Str("addr", cfg.Redis.URL).Msg("redis connected")
	}

	// ---- Object store ----
	var objects adapter.ObjectStore
	switch cfg.Store.Backend {
	case "badger":
		bs, err := store.OpenBadgerStore(cfg.Store.BadgerPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("badger store")
		}
		defer bs.Close()
		objects = bs
	case "redis":
		objects = red.NewObjectStore(redisClient)
	default:
		logger.Warn().Msg("store.backend=memory: chunks are lost on restart")
		objects = store.NewMemoryStore()
	}
	logger.Info().Str("backend", cfg.Store.Backend).Msg("object store ready")

	// ---- Embedding provider ----
	embedder, err := ai.NewEmbedder(ctx, cfg.Embedding, limiter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("embedder")
	}
	logger.Info().
		Str("provider", cfg.Embedding.Provider).
		Str("model", cfg.Embedding.Model).
		Str("key", logging.Redact(cfg.Embedding.OpenAIKey+cfg.Embedding.GeminiKey, cfg.Runtime.Dev)).
		Msg("embedding provider ready")

	// ---- Pipeline events ----
	var publisher adapter.EventPublisher
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka publisher")
		}
		publisher = kp
	} else {
		publisher = events.NewNoopPublisher(logger)
	}
	defer publisher.Close()

	// ---- Use cases ----
	configs, err := usecase.NewConfigValidator()
	if err != nil {
		logger.Fatal().Err(err).Msg("job config schemas")
	}
	queueUC := usecase.NewJobQueueUseCase(jobRepo, tm, notifier, configs, cfg.Queue.Channel, cfg.Queue.MaxRetries, logger)
	tracker := usecase.NewPipelineTracker(pipelineRepo, logger)
	chunkStore := usecase.NewChunkStoreUseCase(objects, cfg.Store.BatchSize, cfg.Store.ItemRetries, logger)
	chunker := usecase.NewChunker(tokenizer.New(cfg.Pipeline.TokenEncoding, logger))

	opts := []usecase.OrchestratorOption{usecase.WithEventPublisher(publisher)}
	if cfg.Pipeline.DocumentLock {
		opts = append(opts, usecase.WithLocker(red.NewLocker(redisClient), red.DocumentLockKey))
	}
	orch, err := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		MaxConcurrent:  cfg.Pipeline.MaxConcurrent,
		StageTimeout:   cfg.Pipeline.StageTimeout,
		CallTimeout:    cfg.Pipeline.CallTimeout,
		ChunkTokens:    cfg.Pipeline.ChunkTokens,
		EmbedBatchSize: cfg.Pipeline.EmbedBatchSize,
		EmbedWorkers:   cfg.Pipeline.EmbedWorkers,
		LockTTL:        cfg.Pipeline.LockTTL,
		Retry: usecase.RetryConfig{
			MaxRetries:    cfg.Pipeline.Retry.MaxRetries,
			BaseDelay:     cfg.Pipeline.Retry.BaseDelay,
			BackoffFactor: cfg.Pipeline.Retry.BackoffFactor,
			MaxDelay:      cfg.Pipeline.Retry.MaxDelay,
		},
	}, queueUC, docRepo, chunkStore, tracker, parser.NewTextParser(), chunker, embedder, logger, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator")
	}
	defer orch.Close()

	// ---- Dispatch ----
	workerID := worker.NewWorkerID()
	listener := pg.NewListener(pool, cfg.Queue.Channel, logger)
	go listener.Run(ctx)

	workers := worker.NewPool(cfg.Pipeline.MaxConcurrent, logger)
	workers.Start(ctx)
	processor := worker.NewJobProcessor(queueUC, orch, listener.Wake(), cfg.Queue.PollInterval, cfg.Queue.LeaseTimeout, workerID, logger)
	go processor.Start(ctx, workers)
	logger.Info().Str("worker_id", workerID).Int("slots", cfg.Pipeline.MaxConcurrent).Msg("worker started")

	// ---- Background jobs ----
	reaper := sched.NewStaleJobReaper(cfg.Queue.ReapInterval, cfg.Queue.LeaseTimeout, queueUC, logger)
	go func() { _ = reaper.Run(ctx) }()
	poolStats := sched.NewPoolStatsWorker(15*time.Second, sched.PgxPoolStats(pool), logger)
	go func() { _ = poolStats.Run(ctx) }()

	// ---- Admin HTTP ----
	admin := adminhttp.NewServer(cfg.Admin.Port, queueUC, tracker, logger)
	go func() {
		if err := admin.Start(); err != nil {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin shutdown")
	}
	cancel()
	workers.Stop()
	logger.Info().Msg("worker stopped")
}
