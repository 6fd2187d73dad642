package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/hibiken/asynq"
)

const (
	TaskTypeEmbedding = "embedding:generate"
	embeddingQueue    = "embeddings"
)

// EmbeddingTask asks a worker to process one embedding_queue row.
type EmbeddingTask struct {
	JobID   uint   `json:"job_id"`
	IssueID string `json:"issue_id"`
}

// TaskProcessor handles one delivered task.
type TaskProcessor func(context.Context, *EmbeddingTask) error

// TaskQueue delivers embedding tasks to a processor. Delivery may repeat;
// processors must claim the job before doing work.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *EmbeddingTask) error
	// IsAsync reports whether tasks leave the process (Redis-backed).
	IsAsync() bool
	Close() error
}

// NewTaskQueue returns a Redis-backed queue when enabled and reachable,
// otherwise an in-process queue.
func NewTaskQueue(cfg *config.RedisConfig) TaskQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err != nil {
			logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
			return NewSyncQueue()
		}
		logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
		return queue
	}
	logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	return NewSyncQueue()
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue publishes tasks through asynq.
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}
	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(ctx context.Context, task *EmbeddingTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeEmbedding, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(embeddingQueue),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Uint("job_id", task.JobID).Msg("[AsyncQueue] Task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs each task in a background goroutine of this process.
type SyncQueue struct {
	processor TaskProcessor
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor TaskProcessor) {
	q.processor = processor
}

// Enqueue never blocks the caller; the task outlives the request context.
func (q *SyncQueue) Enqueue(ctx context.Context, task *EmbeddingTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, job %d left for the sweep", task.JobID)
		return nil
	}

	go func() {
		if err := q.processor(context.WithoutCancel(ctx), task); err != nil {
			logger.Warnf("[SyncQueue] Task processing failed: job=%d: %v", task.JobID, err)
		}
	}()
	return nil
}

func (q *SyncQueue) IsAsync() bool { return false }

func (q *SyncQueue) Close() error { return nil }
