package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services/llm"
	"github.com/civictriage/backend/pkg/logger"
	"gorm.io/gorm"
)

// SummaryOutcome describes one summarization run.
type SummaryOutcome struct {
	Skipped     bool                  `json:"skipped"`
	IssueCount  int                   `json:"issue_count"`
	WindowStart time.Time             `json:"window_start"`
	WindowEnd   time.Time             `json:"window_end"`
	Summary     *models.WeeklySummary `json:"summary,omitempty"`
	Notified    bool                  `json:"notified"`
}

// SummaryService writes the trailing-window issue bulletin. Every run with a
// non-empty window appends a new row; earlier rows are never touched.
type SummaryService struct {
	db        *gorm.DB
	generator llm.Generator
	notifier  *Notifier
	events    EventPublisher
	cfg       config.SummaryConfig
	now       func() time.Time
}

func NewSummaryService(db *gorm.DB, generator llm.Generator, notifier *Notifier, events EventPublisher, cfg config.SummaryConfig) *SummaryService {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	return &SummaryService{
		db:        db,
		generator: generator,
		notifier:  notifier,
		events:    events,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *SummaryService) Run(ctx context.Context) (outcome *SummaryOutcome, err error) {
	defer func() { observeRun("summary", err) }()
	ctx = llm.WithWorkflow(ctx, "summary")

	end := s.now()
	start := end.Add(-s.cfg.Window())
	outcome = &SummaryOutcome{WindowStart: start, WindowEnd: end}

	var issues []models.Issue
	err = s.db.WithContext(ctx).
		Select("id", "title", "category", "severity", "status", "created_at").
		Where("created_at > ?", start).
		Order("created_at ASC, id ASC").
		Find(&issues).Error
	if err != nil {
		return nil, apperrors.Persistence("select window issues", err)
	}
	outcome.IssueCount = len(issues)

	if len(issues) == 0 {
		logger.Info().Int("window_days", s.cfg.WindowDays).Msg("[Summary] No issues in window, nothing to do")
		outcome.Skipped = true
		return outcome, nil
	}

	text, err := s.generator.Generate(ctx, buildSummaryPrompt(issues, s.cfg.WindowDays), false)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.InvalidOutput("summary is empty")
	}

	summary := &models.WeeklySummary{
		SummaryText: text,
		IssueCount:  len(issues),
		WindowStart: start,
		WindowEnd:   end,
		ModelUsed:   llm.ModelOf(s.generator),
	}
	if err := s.db.WithContext(ctx).Create(summary).Error; err != nil {
		return nil, apperrors.Persistence("insert weekly summary", err)
	}
	outcome.Summary = summary
	publish(s.events, IssueEvent{Type: EventSummaryCreated, At: end})
	logger.Info().Uint("summary_id", summary.ID).Int("issues", len(issues)).Msg("[Summary] Weekly summary saved")

	if s.cfg.Notify && s.notifier.Enabled() {
		title := fmt.Sprintf("Weekly Issue Bulletin (%s to %s)", formatDate(start), formatDate(end))
		if err := s.notifier.Notify(ctx, title, text); err != nil {
			logger.Warn().Err(err).Msg("[Summary] Bulletin saved but not delivered to every bot")
		} else {
			outcome.Notified = true
		}
	}
	return outcome, nil
}

type SummaryListResult struct {
	Items []models.WeeklySummary `json:"items"`
	Total int64                  `json:"total"`
}

func (s *SummaryService) List(ctx context.Context, page, pageSize int) (*SummaryListResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}
	query := s.db.WithContext(ctx).Model(&models.WeeklySummary{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, apperrors.Persistence("count summaries", err)
	}
	var items []models.WeeklySummary
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Persistence("list summaries", err)
	}
	return &SummaryListResult{Items: items, Total: total}, nil
}

func (s *SummaryService) Latest(ctx context.Context) (*models.WeeklySummary, error) {
	var summary models.WeeklySummary
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("weekly summary", "latest")
	}
	if err != nil {
		return nil, apperrors.Persistence("load latest summary", err)
	}
	return &summary, nil
}
