package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScheduledJob is one cron-triggered batch workflow.
type ScheduledJob struct {
	Name string
	Spec string
	// Workdays restricts the job to days the holiday calendar marks as workdays.
	Workdays bool
	Run      func(ctx context.Context) error
}

// Scheduler triggers batch workflows in-process. When several server
// instances share a database, each occurrence runs on exactly one of them.
type Scheduler struct {
	db         *gorm.DB
	cron       *cron.Cron
	holidays   *HolidayCalendar
	instanceID string
	lockTTL    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(db *gorm.DB, loc *time.Location, holidays *HolidayCalendar) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	host, _ := os.Hostname()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:         db,
		cron:       cron.New(cron.WithLocation(loc)),
		holidays:   holidays,
		instanceID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		lockTTL:    24 * time.Hour,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Add registers job. An invalid spec is returned as an error.
func (s *Scheduler) Add(job ScheduledJob) error {
	if job.Spec == "" {
		logger.Infof("[Scheduler] %s disabled (empty schedule)", job.Name)
		return nil
	}
	_, err := s.cron.AddFunc(job.Spec, func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.trigger(job, time.Now())
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	logger.Infof("[Scheduler] %s scheduled (cron: %s)", job.Name, job.Spec)
	return nil
}

func (s *Scheduler) trigger(job ScheduledJob, at time.Time) {
	if job.Workdays && s.holidays != nil && !s.holidays.IsWorkday(at) {
		logger.Infof("[Scheduler] %s skipped: %s is not a workday", job.Name, at.Format("2006-01-02"))
		return
	}

	occurrence := at.UTC().Truncate(time.Minute).Format(time.RFC3339)
	acquired, err := s.TryLock(s.ctx, job.Name, occurrence)
	if err != nil {
		logger.Error().Err(err).Str("job", job.Name).Msg("[Scheduler] Lock failed")
		return
	}
	if !acquired {
		logger.Debug().Str("job", job.Name).Str("occurrence", occurrence).Msg("[Scheduler] Taken by another instance")
		return
	}

	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		logger.Error().Err(err).Str("job", job.Name).Msg("[Scheduler] Job failed")
		return
	}
	logger.Info().Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("[Scheduler] Job finished")
}

// TryLock claims (job, occurrence) for this instance. It returns false if
// another instance already holds it.
func (s *Scheduler) TryLock(ctx context.Context, job, occurrence string) (bool, error) {
	now := time.Now().UTC()
	lock := &models.SchedulerLock{
		JobName:    job,
		Occurrence: occurrence,
		LockedBy:   s.instanceID,
		LockedAt:   now,
		ExpiresAt:  now.Add(s.lockTTL),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(lock)
	if res.Error != nil {
		return false, apperrors.Persistence("acquire scheduler lock", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PurgeLocks removes expired lock rows.
func (s *Scheduler) PurgeLocks(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", time.Now().UTC()).Delete(&models.SchedulerLock{})
	return res.RowsAffected, res.Error
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Infof("[Scheduler] Started (instance %s)", s.instanceID)
}

// Stop prevents new runs, cancels running ones and waits for them.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.wg.Wait()
	logger.Infof("[Scheduler] Stopped")
}
