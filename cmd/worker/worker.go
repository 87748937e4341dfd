package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mail-archive-search/internal/app"
	"mail-archive-search/internal/config"
	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/queue"
	"mail-archive-search/internal/telemetry"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if !cfg.RedisEnabled() {
		log.Fatal("REDIS_URL is required for the worker")
	}
	redisOpt, err := cfg.RedisOptions()
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}

	ctx := context.Background()
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	a, err := app.New(ctx, cfg, metrics, logger.Logger)
	if err != nil {
		log.Fatal("Failed to initialize pipeline:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Close(ctx)
	}()

	// Enrichment is sequential, one batch at a time.
	server := asynq.NewServer(
		queue.RedisConnOpt(redisOpt),
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				queue.QueueDefault: 1,
			},
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(a.Enrichment, logger.Logger)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskEnrichMails, processor.HandleEnrichTask)

	logger.Info("Starting enrichment worker", "redis", redisOpt.Addr, "llm", cfg.LLMProvider)
	if err := server.Start(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Stopping enrichment worker")
	server.Shutdown()
}
