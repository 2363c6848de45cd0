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
	"ai-chat-pipeline/internal/infra/web"
	"ai-chat-pipeline/internal/infra/worker"
	"ai-chat-pipeline/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (bypass auth, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled: authentication bypassed")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	feed := red.NewChangeFeed(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	queueRepo := pg.NewQueueJobRepo(pool, tm, feed)
	chatJobRepo := pg.NewChatJobRepo(pool)
	sessionRepo := red.NewCachedSessionRepo(pg.NewChatSessionRepo(pool, feed), redisClient, cfg.Redis.TTL)
	workerRepo := pg.NewWorkerStatusRepo(pool)

	// ---- Completion providers ----
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

	// ---- Worker ----
	processor := worker.NewChatJobProcessor(chatJobRepo, sessionRepo, queueRepo, gateway, cfg.Queue.HistoryWindow, logger)
	runner := worker.NewRunner(
		queueRepo, workerRepo, locker,
		[]worker.Processor{processor},
		"", cfg.Queue.LockLease, cfg.Queue.IdleInterval, cfg.Queue.BusyInterval,
		logger,
	)

	// ---- Use case + HTTP ----
	chatUC := usecase.NewChatUseCase(queueRepo, chatJobRepo, sessionRepo, cfg.Queue.MaxRetries)
	auth := web.NewAuthManager(cfg.Web.AuthSecret, cfg.Web.FallbackToken, cfg.Web.SessionTTL)
	server := web.NewServer(
		chatUC, queueRepo, runner, auth, feed,
		cfg.Web.Port, cfg.Queue.LockLease, cfg.Queue.BatchSize, cfg.Queue.MaxRunDuration,
		cfg.Runtime.Dev, logger,
	)

	// ---- Embedded continuous worker ----
	if cfg.Web.EmbedWorker {
		go func() {
			for ctx.Err() == nil {
				if err := runner.RunContinuous(ctx, cfg.Queue.BatchSize, cfg.Queue.MaxRunDuration); err != nil {
					logger.Error().Err(err).Msg("embedded worker run failed")
					select {
					case <-ctx.Done():
						return
					case <-time.After(cfg.Queue.IdleInterval):
					}
				}
			}
		}()
		logger.Info().Str("worker_id", runner.WorkerID()).Msg("embedded worker enabled")
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server exited")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	logger.Info().Msg("stopped")
}
