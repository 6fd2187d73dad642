// Command embedding_worker computes deferred issue embeddings. With Redis it
// consumes the task queue; with -once or without Redis it sweeps pending
// jobs from the database.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civictriage/backend/internal/app"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	once := flag.Bool("once", false, "drain one batch and exit")
	interval := flag.Duration("interval", 30*time.Second, "sweep interval without Redis")
	concurrency := flag.Int("concurrency", 2, "parallel tasks with Redis")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize services: %v", err)
	}
	defer c.Close()

	workerID := "embedding-worker-" + uuid.NewString()[:8]
	batch := cfg.Embedding.SweepBatchSize

	if *once {
		drain(ctx, c, workerID, batch)
		return
	}

	if c.Tasks.IsAsync() {
		worker := services.NewWorker(&cfg.Redis, *concurrency, c.Queue.Processor(workerID))
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
		// catch jobs whose dispatch was lost
		drain(ctx, c, workerID, batch)
		<-ctx.Done()
		worker.Stop()
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		drain(ctx, c, workerID, batch)
		select {
		case <-ctx.Done():
			logger.Info().Msg("[EmbeddingWorker] Stopped")
			return
		case <-ticker.C:
		}
	}
}

func drain(ctx context.Context, c *app.Container, workerID string, batch int) {
	outcome, err := c.Queue.DrainPending(ctx, workerID, batch)
	if err != nil {
		logger.Error().Err(err).Msg("[EmbeddingWorker] Sweep failed")
		return
	}
	if outcome.Scanned > 0 {
		logger.Info().Str("outcome", outcome.String()).Msg("[EmbeddingWorker] Sweep finished")
	}
}
