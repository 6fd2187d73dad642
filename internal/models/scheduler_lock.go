package models

import "time"

// SchedulerLock marks one occurrence of a cron job as taken, so that only one
// server instance runs it. The (job, occurrence) pair is unique.
type SchedulerLock struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	JobName    string    `gorm:"uniqueIndex:idx_job_occurrence;size:100;not null" json:"job_name"`
	Occurrence string    `gorm:"uniqueIndex:idx_job_occurrence;size:100;not null" json:"occurrence"`
	LockedBy   string    `gorm:"size:100" json:"locked_by"`
	LockedAt   time.Time `json:"locked_at"`
	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }

// EmbeddingJobStatus is the queue state of an EmbeddingJob.
type EmbeddingJobStatus string

const (
	JobPending    EmbeddingJobStatus = "pending"
	JobInProgress EmbeddingJobStatus = "in_progress"
	JobCompleted  EmbeddingJobStatus = "completed"
	JobFailed     EmbeddingJobStatus = "failed"
)

// EmbeddingJob is a deferred embedding computation for one issue.
// A worker owns a job while status is in_progress and the lease has not expired.
type EmbeddingJob struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	IssueID        string             `gorm:"size:36;index;not null" json:"issue_id"`
	Status         EmbeddingJobStatus `gorm:"size:20;not null;default:pending;index" json:"status"`
	Attempts       int                `gorm:"default:0" json:"attempts"`
	ClaimedBy      string             `gorm:"size:100" json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time         `gorm:"index" json:"lease_expires_at,omitempty"`
	LastError      string             `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func (EmbeddingJob) TableName() string { return "embedding_queue" }
