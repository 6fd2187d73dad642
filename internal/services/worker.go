package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/hibiken/asynq"
)

// Worker consumes embedding tasks published by AsyncQueue.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor TaskProcessor
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, concurrency int, processor TaskProcessor) *Worker {
	if !cfg.Enabled {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				embeddingQueue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warnf("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	w := &Worker{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: processor,
	}
	w.mux.HandleFunc(TaskTypeEmbedding, w.handleEmbeddingTask)
	return w
}

// Start runs the asynq server in the background.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	logger.Infof("[Worker] Embedding worker started")
	return nil
}

// Run blocks until the process receives a termination signal.
func (w *Worker) Run() error {
	w.wg.Add(1)
	defer w.wg.Done()
	logger.Infof("[Worker] Embedding worker running")
	return w.server.Run(w.mux)
}

// Stop waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[Worker] Shutdown complete")
}

func (w *Worker) handleEmbeddingTask(ctx context.Context, t *asynq.Task) error {
	var task EmbeddingTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		// a bad payload never becomes valid
		return fmt.Errorf("decode task: %v: %w", err, asynq.SkipRetry)
	}

	logger.Debug().Uint("job_id", task.JobID).Str("issue_id", task.IssueID).Msg("[Worker] Processing embedding task")

	if w.processor == nil {
		logger.Warnf("[Worker] No processor set")
		return nil
	}
	return w.processor(ctx, &task)
}
