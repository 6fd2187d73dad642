package main

import (
	"context"
	"time"

	"github.com/civictriage/backend/internal/app"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/internal/utils"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/google/uuid"
)

// appServices holds everything the router and the shutdown path need.
type appServices struct {
	*app.Container
	tokens    *utils.TokenManager
	scheduler *services.Scheduler
	worker    *services.Worker
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(ctx context.Context, cfg *config.Config) *appServices {
	container, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize services: %v", err)
	}

	svc := &appServices{
		Container: container,
		tokens:    utils.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer),
	}

	// Redis-backed delivery of embedding jobs
	if cfg.Redis.Enabled && container.Tasks.IsAsync() {
		svc.worker = services.NewWorker(&cfg.Redis, 2, container.Queue.Processor("worker-"+uuid.NewString()[:8]))
		if svc.worker != nil {
			if err := svc.worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start embedding worker")
				svc.worker = nil
			}
		}
	}

	if cfg.Schedule.Enabled {
		svc.scheduler = newScheduler(container)
		svc.scheduler.Start()
	}

	return svc
}

func newScheduler(c *app.Container) *services.Scheduler {
	cfg := c.Config.Schedule

	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("Unknown timezone, using local time")
		} else {
			loc = l
		}
	}

	holidays, err := services.NewHolidayCalendar(cfg.HolidayCountry, cfg.CustomHolidays)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid holiday calendar, falling back to weekends only")
		holidays, _ = services.NewHolidayCalendar("NONE", nil)
	}

	scheduler := services.NewScheduler(c.DB, loc, holidays)
	sweepBatch := c.Config.Embedding.SweepBatchSize
	jobs := []services.ScheduledJob{
		{
			Name:     "escalation",
			Spec:     cfg.EscalationCron,
			Workdays: cfg.SkipNonWorkdays,
			Run: func(ctx context.Context) error {
				_, err := c.Escalation.Run(ctx)
				return err
			},
		},
		{
			Name:     "summary",
			Spec:     cfg.SummaryCron,
			Workdays: cfg.SkipNonWorkdays,
			Run: func(ctx context.Context) error {
				_, err := c.Summary.Run(ctx)
				return err
			},
		},
		{
			Name: "embedding-sweep",
			Spec: cfg.EmbeddingSweepCron,
			Run: func(ctx context.Context) error {
				_, err := c.Queue.DrainPending(ctx, "sweeper", sweepBatch)
				return err
			},
		},
		{
			Name: "housekeeping",
			Spec: "30 3 * * *",
			Run: func(ctx context.Context) error {
				if n, err := scheduler.PurgeLocks(ctx); err == nil && n > 0 {
					logger.Infof("[Scheduler] Purged %d expired locks", n)
				}
				n, err := c.Usage.CleanupBefore(ctx, time.Now().AddDate(0, 0, -90))
				if err == nil && n > 0 {
					logger.Infof("[AIUsage] Removed %d usage rows older than 90 days", n)
				}
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := scheduler.Add(job); err != nil {
			logger.Error().Err(err).Str("job", job.Name).Msg("Failed to schedule job")
		}
	}
	return scheduler
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		logger.Info().Msg("Scheduler stopped")
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	s.Container.Close()
}
