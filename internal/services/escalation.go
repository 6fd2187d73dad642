package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services/llm"
	"github.com/civictriage/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// BatchOutcome is the aggregate result of a batch workflow run.
type BatchOutcome struct {
	Selected  int           `json:"selected"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// ItemFailure records why one item of a batch was skipped.
type ItemFailure struct {
	IssueID string `json:"issue_id"`
	Error   string `json:"error"`
}

type escalationOutput struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ParseEscalation decodes a {subject, body} object; both must be non-empty.
func ParseEscalation(content string) (string, string, error) {
	var out escalationOutput
	if err := llm.DecodeJSONObject(content, &out); err != nil {
		return "", "", err
	}
	subject, body := strings.TrimSpace(out.Subject), strings.TrimSpace(out.Body)
	if subject == "" || body == "" {
		return "", "", apperrors.InvalidOutput("escalation draft needs a non-empty subject and body")
	}
	return subject, body, nil
}

// EscalationService drafts escalation emails for stale high-severity issues.
type EscalationService struct {
	db        *gorm.DB
	generator llm.Generator
	events    EventPublisher
	cfg       config.EscalationConfig
	now       func() time.Time
}

func NewEscalationService(db *gorm.DB, generator llm.Generator, events EventPublisher, cfg config.EscalationConfig) *EscalationService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &EscalationService{
		db:        db,
		generator: generator,
		events:    events,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Candidates returns High or Critical issues still new and older than the
// age threshold, oldest first.
func (s *EscalationService) Candidates(ctx context.Context) ([]models.Issue, error) {
	cutoff := s.now().Add(-s.cfg.AgeThreshold())
	query := s.db.WithContext(ctx).
		Omit("embedding").
		Where("severity IN ?", []models.Severity{models.SeverityHigh, models.SeverityCritical}).
		Where("status = ?", models.StatusNew).
		Where("created_at < ?", cutoff).
		Order("created_at ASC, id ASC")
	if s.cfg.BatchLimit > 0 {
		query = query.Limit(s.cfg.BatchLimit)
	}

	var issues []models.Issue
	if err := query.Find(&issues).Error; err != nil {
		return nil, apperrors.Persistence("select escalation candidates", err)
	}
	return issues, nil
}

// Run drafts one escalation per candidate. Item failures are logged and
// counted; only a failure to select candidates aborts the run.
func (s *EscalationService) Run(ctx context.Context) (outcome *BatchOutcome, err error) {
	defer func() { observeRun("escalation", err) }()
	ctx = llm.WithWorkflow(ctx, "escalation")

	issues, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	outcome = &BatchOutcome{Selected: len(issues)}
	if len(issues) == 0 {
		logger.Info().Msg("[Escalation] No issues require escalation")
		return outcome, nil
	}
	logger.Info().Int("count", len(issues)).Msg("[Escalation] Drafting escalations")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range issues {
		issue := &issues[i]
		g.Go(func() error {
			itemErr := s.draft(gctx, issue)
			mu.Lock()
			defer mu.Unlock()
			if itemErr != nil {
				outcome.Failed++
				outcome.Failures = append(outcome.Failures, ItemFailure{IssueID: issue.ID, Error: itemErr.Error()})
				metrics.BatchItems.WithLabelValues("escalation", "failed").Inc()
				logger.Warn().Err(itemErr).Str("issue_id", issue.ID).Msg("[Escalation] Draft failed, continuing")
				return nil
			}
			outcome.Processed++
			metrics.BatchItems.WithLabelValues("escalation", "ok").Inc()
			return nil
		})
	}
	// items never return errors, so Wait only reports nil
	_ = g.Wait()

	logger.Info().Int("processed", outcome.Processed).Int("failed", outcome.Failed).Msg("[Escalation] Run finished")
	return outcome, nil
}

func (s *EscalationService) draft(ctx context.Context, issue *models.Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := s.generator.Generate(ctx, buildEscalationPrompt(issue, s.cfg.AgeThreshold()), true)
	if err != nil {
		return err
	}
	subject, body, err := ParseEscalation(content)
	if err != nil {
		return err
	}
	d := &models.EscalationDraft{
		IssueID:   issue.ID,
		Subject:   subject,
		Body:      body,
		IsSent:    false,
		ModelUsed: llm.ModelOf(s.generator),
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return apperrors.Persistence("insert escalation draft", err)
	}
	publish(s.events, IssueEvent{Type: EventDraftCreated, IssueID: issue.ID, Severity: issue.Severity, At: s.now()})
	logger.Info().Str("issue_id", issue.ID).Uint("draft_id", d.ID).Msg("[Escalation] Draft saved")
	return nil
}

// DraftListParams filters the draft review list.
type DraftListParams struct {
	Page     int
	PageSize int
	IssueID  string
	IsSent   *bool
}

type DraftListResult struct {
	Items []models.EscalationDraft `json:"items"`
	Total int64                    `json:"total"`
}

func (s *EscalationService) ListDrafts(ctx context.Context, params DraftListParams) (*DraftListResult, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 || params.PageSize > 100 {
		params.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.EscalationDraft{})
	if params.IssueID != "" {
		query = query.Where("issue_id = ?", params.IssueID)
	}
	if params.IsSent != nil {
		query = query.Where("is_sent = ?", *params.IsSent)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, apperrors.Persistence("count drafts", err)
	}

	var items []models.EscalationDraft
	err := query.Preload("Issue", func(db *gorm.DB) *gorm.DB { return db.Omit("embedding") }).
		Order("created_at DESC, id DESC").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Persistence("list drafts", err)
	}
	return &DraftListResult{Items: items, Total: total}, nil
}
