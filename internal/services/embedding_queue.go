package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services/llm"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobOutcome is the result of one Process call.
type JobOutcome string

const (
	OutcomeCompleted JobOutcome = "completed"
	// OutcomeSkipped means another worker holds the job or it is already done.
	OutcomeSkipped JobOutcome = "skipped"
	OutcomeRetry   JobOutcome = "retry"
	OutcomeFailed  JobOutcome = "failed"
)

// DrainOutcome aggregates a sweep over pending jobs.
type DrainOutcome struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// EmbeddingQueueOptions tune lease and retry behaviour.
type EmbeddingQueueOptions struct {
	VisibilityTimeout time.Duration
	MaxAttempts       int
}

// EmbeddingQueue is the deferred-embedding path. Each job is claimed with an
// atomic conditional update before any work starts, and the claim carries a
// lease so a crashed worker's job becomes claimable again.
type EmbeddingQueue struct {
	db       *gorm.DB
	embedder llm.Embedder
	tasks    TaskQueue
	events   EventPublisher
	opts     EmbeddingQueueOptions
	now      func() time.Time
}

func NewEmbeddingQueue(db *gorm.DB, embedder llm.Embedder, tasks TaskQueue, events EventPublisher, opts EmbeddingQueueOptions) *EmbeddingQueue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &EmbeddingQueue{
		db:       db,
		embedder: embedder,
		tasks:    tasks,
		events:   events,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Processor adapts Process to the task queue callback.
func (q *EmbeddingQueue) Processor(workerID string) TaskProcessor {
	return func(ctx context.Context, task *EmbeddingTask) error {
		outcome, err := q.Process(ctx, task.JobID, workerID)
		if outcome == OutcomeFailed {
			// terminal; a redelivery would be skipped anyway
			return nil
		}
		return err
	}
}

// createJob inserts a pending job inside tx.
func createJob(tx *gorm.DB, issueID string) (*models.EmbeddingJob, error) {
	job := &models.EmbeddingJob{IssueID: issueID, Status: models.JobPending}
	if err := tx.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// Enqueue inserts a pending job for issueID and dispatches it.
func (q *EmbeddingQueue) Enqueue(ctx context.Context, issueID string) (*models.EmbeddingJob, error) {
	job, err := createJob(q.db.WithContext(ctx), issueID)
	if err != nil {
		return nil, apperrors.Persistence("enqueue embedding job", err)
	}
	metrics.EmbeddingJobs.WithLabelValues(string(models.JobPending)).Inc()
	q.Dispatch(ctx, job)
	return job, nil
}

// Dispatch hands a stored job to the task queue. A dispatch failure is only
// logged: the job row stays pending and the periodic sweep picks it up.
func (q *EmbeddingQueue) Dispatch(ctx context.Context, job *models.EmbeddingJob) {
	if q.tasks == nil {
		return
	}
	if err := q.tasks.Enqueue(ctx, &EmbeddingTask{JobID: job.ID, IssueID: job.IssueID}); err != nil {
		logger.Warn().Err(err).Uint("job_id", job.ID).Msg("[EmbeddingQueue] Dispatch failed, leaving job for sweep")
	}
}

// Claim moves a job to in_progress for claimant. It succeeds only if the job
// is pending or its previous lease has expired; exactly one concurrent caller
// can win. claimant must be unique per claim for the lease guard in finish to
// hold.
func (q *EmbeddingQueue) Claim(ctx context.Context, jobID uint, claimant string) (bool, error) {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&models.EmbeddingJob{}).
		Where("id = ?", jobID).
		Where("status = ? OR (status = ? AND lease_expires_at < ?)", models.JobPending, models.JobInProgress, now).
		Updates(map[string]interface{}{
			"status":           models.JobInProgress,
			"claimed_by":       claimant,
			"lease_expires_at": now.Add(q.opts.VisibilityTimeout),
			"attempts":         gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, apperrors.Persistence("claim embedding job", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Process claims jobID and computes the issue's embedding. An issue that
// already has an embedding is never overwritten. Every call claims under its
// own token derived from workerID, so concurrent handlers sharing a worker id
// cannot finish each other's claims.
func (q *EmbeddingQueue) Process(ctx context.Context, jobID uint, workerID string) (JobOutcome, error) {
	workerID = claimToken(workerID)
	claimed, err := q.Claim(ctx, jobID, workerID)
	if err != nil {
		return OutcomeRetry, err
	}
	if !claimed {
		return OutcomeSkipped, nil
	}

	var job models.EmbeddingJob
	if err := q.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return OutcomeRetry, apperrors.Persistence("load embedding job", err)
	}

	var issue models.Issue
	err = q.db.WithContext(ctx).Select("id", "title", "description", "embedding").
		Where("id = ?", job.IssueID).First(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		q.finish(ctx, &job, workerID, models.JobFailed, "issue not found")
		return OutcomeFailed, apperrors.NotFound("issue", job.IssueID)
	}
	if err != nil {
		return OutcomeRetry, q.release(ctx, &job, workerID, apperrors.Persistence("load issue", err))
	}

	if issue.HasEmbedding() {
		q.finish(ctx, &job, workerID, models.JobCompleted, "")
		return OutcomeCompleted, nil
	}

	vec, err := q.embedder.Embed(llm.WithWorkflow(ctx, "embedding_queue"), models.EmbeddingText(issue.Title, issue.Description))
	if err != nil {
		return q.outcomeAfterFailure(&job), q.release(ctx, &job, workerID, err)
	}

	err = q.db.WithContext(ctx).Model(&models.Issue{}).
		Where("id = ? AND embedding IS NULL", issue.ID).
		Updates(map[string]interface{}{
			"embedding":       models.Vector(vec),
			"embedding_model": llm.ModelOf(q.embedder),
		}).Error
	if err != nil {
		return q.outcomeAfterFailure(&job), q.release(ctx, &job, workerID, apperrors.Persistence("store embedding", err))
	}

	q.finish(ctx, &job, workerID, models.JobCompleted, "")
	publish(q.events, IssueEvent{Type: EventIssueEmbedded, IssueID: issue.ID, At: q.now()})
	logger.Info().Uint("job_id", job.ID).Str("issue_id", issue.ID).Msg("[EmbeddingQueue] Embedding stored")
	return OutcomeCompleted, nil
}

func claimToken(workerID string) string {
	return workerID + "-" + uuid.NewString()[:8]
}

func (q *EmbeddingQueue) outcomeAfterFailure(job *models.EmbeddingJob) JobOutcome {
	if job.Attempts >= q.opts.MaxAttempts {
		return OutcomeFailed
	}
	return OutcomeRetry
}

// release returns a failed job to pending, or marks it failed once attempts
// are exhausted. It returns cause for the caller to propagate.
func (q *EmbeddingQueue) release(ctx context.Context, job *models.EmbeddingJob, workerID string, cause error) error {
	status := models.JobPending
	if job.Attempts >= q.opts.MaxAttempts {
		status = models.JobFailed
	}
	q.finish(ctx, job, workerID, status, cause.Error())
	logger.Warn().Err(cause).Uint("job_id", job.ID).Int("attempts", job.Attempts).
		Str("status", string(status)).Msg("[EmbeddingQueue] Job attempt failed")
	return cause
}

// finish writes the terminal or released state, but only while workerID still
// owns the claim.
func (q *EmbeddingQueue) finish(ctx context.Context, job *models.EmbeddingJob, workerID string, status models.EmbeddingJobStatus, lastError string) {
	updates := map[string]interface{}{
		"status":     status,
		"last_error": lastError,
	}
	if status == models.JobPending {
		updates["lease_expires_at"] = nil
		updates["claimed_by"] = ""
	}
	res := q.db.WithContext(context.WithoutCancel(ctx)).Model(&models.EmbeddingJob{}).
		Where("id = ? AND status = ? AND claimed_by = ?", job.ID, models.JobInProgress, workerID).
		Updates(updates)
	if res.Error != nil {
		logger.Error().Err(res.Error).Uint("job_id", job.ID).Msg("[EmbeddingQueue] Failed to update job state")
		return
	}
	if res.RowsAffected == 0 {
		logger.Warn().Uint("job_id", job.ID).Str("worker", workerID).Msg("[EmbeddingQueue] Lease lost before finishing job")
		return
	}
	metrics.EmbeddingJobs.WithLabelValues(string(status)).Inc()
}

// DrainPending processes up to limit claimable jobs sequentially, oldest first.
func (q *EmbeddingQueue) DrainPending(ctx context.Context, workerID string, limit int) (*DrainOutcome, error) {
	if limit <= 0 {
		limit = 5
	}
	var ids []uint
	err := q.db.WithContext(ctx).Model(&models.EmbeddingJob{}).
		Where("status = ? OR (status = ? AND lease_expires_at < ?)", models.JobPending, models.JobInProgress, q.now()).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, apperrors.Persistence("list pending jobs", err)
	}

	out := &DrainOutcome{Scanned: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		outcome, err := q.Process(ctx, id, workerID)
		switch outcome {
		case OutcomeCompleted:
			out.Completed++
		case OutcomeSkipped:
			out.Skipped++
		case OutcomeFailed:
			out.Failed++
		default:
			out.Retried++
		}
		if err != nil {
			logger.Debug().Err(err).Uint("job_id", id).Msg("[EmbeddingQueue] Sweep item did not complete")
		}
	}
	if out.Scanned > 0 {
		logger.Info().Int("scanned", out.Scanned).Int("completed", out.Completed).
			Int("retried", out.Retried).Int("failed", out.Failed).Msg("[EmbeddingQueue] Sweep finished")
	}
	return out, nil
}

// Counts returns the number of jobs per status.
func (q *EmbeddingQueue) Counts(ctx context.Context) (map[models.EmbeddingJobStatus]int64, error) {
	var rows []struct {
		Status models.EmbeddingJobStatus
		Count  int64
	}
	err := q.db.WithContext(ctx).Model(&models.EmbeddingJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Persistence("count jobs", err)
	}
	counts := make(map[models.EmbeddingJobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (o *DrainOutcome) String() string {
	return fmt.Sprintf("scanned=%d completed=%d retried=%d failed=%d skipped=%d",
		o.Scanned, o.Completed, o.Retried, o.Failed, o.Skipped)
}
