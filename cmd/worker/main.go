package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-chat-pipeline/internal/config"
	"ai-chat-pipeline/internal/domain/ports/adapter"
	aiAdapters "ai-chat-pipeline/internal/infra/adapters/ai"
	pg "ai-chat-pipeline/internal/infra/db/postgres"
	"ai-chat-pipeline/internal/infra/logging"
	red "ai-chat-pipeline/internal/infra/redis"
	"ai-chat-pipeline/internal/infra/resilience"
	"ai-chat-pipeline/internal/infra/worker"
)

// Standalone worker binary. Multiple instances may run concurrently against
// the same queue; the store's atomic claim keeps them from colliding.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	workerID := flag.String("worker-id", "", "stable worker id (random when empty)")
	batchSize := flag.Int("batch-size", 0, "jobs per batch (config default when 0)")
	continuous := flag.Bool("continuous", false, "poll until the duration budget runs out")
	maxDuration := flag.Duration("max-duration", 0, "continuous run budget (config default when 0)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	feed := red.NewChangeFeed(redisClient)
	locker := red.NewLocker(redisClient)

	tm := pg.NewTxManager(pool)
	queueRepo := pg.NewQueueJobRepo(pool, tm, feed)
	chatJobRepo := pg.NewChatJobRepo(pool)
	sessionRepo := red.NewCachedSessionRepo(pg.NewChatSessionRepo(pool, feed), redisClient, cfg.Redis.TTL)
	workerRepo := pg.NewWorkerStatusRepo(pool)

	byProvider := map[string]adapter.CompletionAdapter{}
	if cfg.AI.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter init failed")
		}
		byProvider["openai"] = oa
	}
	if cfg.AI.GeminiKey != "" {
		ga, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini adapter init failed")
		}
		byProvider["gemini"] = ga
	}
	if len(byProvider) == 0 {
		logger.Fatal().Msg("no completion provider configured: set ai.openai_key or ai.gemini_key")
	}
	defaultProvider := "openai"
	if _, ok := byProvider[defaultProvider]; !ok {
		defaultProvider = "gemini"
	}
	var completion adapter.CompletionAdapter = aiAdapters.NewMultiAdapter(defaultProvider, byProvider, nil)
	completion = aiAdapters.NewLimitedCompletion(completion, cfg.AI.ConcurrentLimit)

	breaker := resilience.NewBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown)
	gateway := aiAdapters.NewGateway(completion, breaker, cfg.AI.FallbackMessage, cfg.AI.DefaultModel, logger)

	processor := worker.NewChatJobProcessor(chatJobRepo, sessionRepo, queueRepo, gateway, cfg.Queue.HistoryWindow, logger)
	runner := worker.NewRunner(
		queueRepo, workerRepo, locker,
		[]worker.Processor{processor},
		*workerID, cfg.Queue.LockLease, cfg.Queue.IdleInterval, cfg.Queue.BusyInterval,
		logger,
	)

	batch := *batchSize
	if batch <= 0 {
		batch = cfg.Queue.BatchSize
	}
	budget := *maxDuration
	if budget <= 0 {
		budget = cfg.Queue.MaxRunDuration
	}

	// A signal interrupts either mode through context cancellation.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("stopping worker")
		cancel()
	}()

	if *continuous {
		if err := runner.RunContinuous(ctx, batch, budget); err != nil {
			logger.Fatal().Err(err).Msg("continuous run failed")
		}
		logger.Info().Str("worker_id", runner.WorkerID()).Msg("continuous run finished")
		return
	}

	if err := runner.Register(ctx, budget); err != nil {
		logger.Fatal().Err(err).Msg("worker registration failed")
	}
	defer runner.Deregister(context.Background())

	start := time.Now()
	res, err := runner.RunBatch(ctx, batch, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("batch failed")
	}
	logger.Info().
		Str("worker_id", runner.WorkerID()).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Dur("elapsed", time.Since(start)).
		Bool("more", res.NextJobAvailable).
		Msg("batch finished")
}
