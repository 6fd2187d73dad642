// Package app wires the workflows from configuration. The HTTP server and
// the standalone runners build the same Container so that both entry points
// share one implementation of every workflow.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/internal/services/llm"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container holds every initialized service.
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	// Redis is nil when redis.enabled is false.
	Redis *redis.Client

	Usage     *services.AIUsageService
	Embedder  llm.Embedder
	Generator llm.Generator
	Events    *services.EventHub
	Tasks     services.TaskQueue
	Images    *services.LocalImageStore
	Notifier  *services.Notifier

	Index      *services.SimilarityIndex
	Feedback   *services.FeedbackService
	Queue      *services.EmbeddingQueue
	Issues     *services.IssueService
	Classifier *services.ClassificationService
	Chat       *services.ChatService
	Escalation *services.EscalationService
	Summary    *services.SummaryService
	Assist     *services.AssistService
}

// Build opens the database, runs migrations and constructs the services.
func Build(ctx context.Context, cfg *config.Config) (*Container, error) {
	metrics.Init()

	db, err := models.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	c := &Container{
		Config: cfg,
		DB:     db,
		Usage:  services.NewAIUsageService(db),
		Events: services.NewEventHub(),
	}

	if cfg.Redis.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if err := c.buildModels(ctx); err != nil {
		c.Close()
		return nil, err
	}

	maxBytes := int64(cfg.Storage.MaxUploadMB) << 20
	c.Images, err = services.NewLocalImageStore(cfg.Storage.ImageDir, cfg.Storage.PublicBaseURL, maxBytes)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Notifier = services.NewNotifier(cfg.Notification)
	c.Tasks = services.NewTaskQueue(&cfg.Redis)
	c.Index = services.NewSimilarityIndex(db)
	c.Feedback = services.NewFeedbackService(db)
	c.Queue = services.NewEmbeddingQueue(db, c.Embedder, c.Tasks, c.Events, services.EmbeddingQueueOptions{
		VisibilityTimeout: cfg.Embedding.VisibilityTimeout(),
		MaxAttempts:       cfg.Embedding.MaxAttempts,
	})
	if syncQueue, ok := c.Tasks.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(c.Queue.Processor("inline"))
	}

	async := cfg.Embedding.Mode == "async"
	c.Issues = services.NewIssueService(db, c.Embedder, c.Queue, c.Feedback, c.Events, async)
	c.Classifier = services.NewClassificationService(db, c.Index, c.Generator, c.Events, cfg.Classification)
	c.Chat = services.NewChatService(c.queryEmbedder(), c.Index, c.Generator, cfg.Chat)
	c.Escalation = services.NewEscalationService(db, c.Generator, c.Events, cfg.Escalation)
	c.Summary = services.NewSummaryService(db, c.Generator, c.Notifier, c.Events, cfg.Summary)
	c.Assist = services.NewAssistService(c.Issues, c.Generator)

	logger.Info().
		Str("llm", cfg.LLM.Provider+"/"+cfg.LLM.Model).
		Str("embedding", llm.ProviderOf(c.Embedder)+"/"+llm.ModelOf(c.Embedder)).
		Str("embedding_mode", cfg.Embedding.Mode).
		Bool("redis", c.Redis != nil).
		Msg("[App] Services initialized")
	return c, nil
}

// buildModels creates the model clients. Each call is recorded for usage
// stats and retried on transient upstream failures.
func (c *Container) buildModels(ctx context.Context) error {
	cfg := c.Config

	gen, err := llm.NewGenerator(ctx, llm.GeneratorOptions(cfg))
	if err != nil {
		return err
	}
	emb, err := llm.NewEmbedder(ctx, llm.EmbedderOptions(cfg))
	if err != nil {
		return err
	}

	c.Generator = llm.RetryGenerator(llm.InstrumentGenerator(gen, c.Usage), cfg.LLM.MaxRetries)
	c.Embedder = llm.RetryEmbedder(llm.InstrumentEmbedder(emb, c.Usage), cfg.LLM.MaxRetries)
	return nil
}

// queryEmbedder caches chat question embeddings in Redis when available.
func (c *Container) queryEmbedder() llm.Embedder {
	if c.Redis == nil || c.Config.Embedding.CacheTTLMinutes <= 0 {
		return c.Embedder
	}
	return llm.NewCachedEmbedder(c.Embedder, c.Redis, c.Config.Embedding.CacheTTL())
}

// Close flushes pending usage rows and releases connections.
func (c *Container) Close() {
	if c.Usage != nil {
		c.Usage.Flush()
	}
	if c.Tasks != nil {
		if err := c.Tasks.Close(); err != nil {
			logger.Warn().Err(err).Msg("[App] Failed to close task queue")
		}
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// RunTimeout bounds a standalone batch run.
func RunTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Minute
	}
	return context.WithTimeout(ctx, d)
}
