package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services/llm"
	"github.com/civictriage/backend/pkg/logger"
	"gorm.io/gorm"
)

// SubmitInput is a validated citizen submission minus the photo bytes.
type SubmitInput struct {
	Title       string
	Description string
	Latitude    float64
	Longitude   float64
	ImageURL    string
}

// Validate checks the submission constraints and reports every failing field.
func (in *SubmitInput) Validate() error {
	ve := &apperrors.ValidationError{}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(in.Title) < 3 {
		ve.Add("title", "must be at least 3 characters")
	}
	if utf8.RuneCountInString(in.Description) < 10 {
		ve.Add("description", "must be at least 10 characters")
	}
	if math.IsNaN(in.Latitude) || in.Latitude < -90 || in.Latitude > 90 {
		ve.Add("latitude", "must be between -90 and 90")
	}
	if math.IsNaN(in.Longitude) || in.Longitude < -180 || in.Longitude > 180 {
		ve.Add("longitude", "must be between -180 and 180")
	}
	if ve.Empty() {
		return nil
	}
	return ve
}

// IssueListParams filters the officer issue list.
type IssueListParams struct {
	Page     int
	PageSize int
	Status   string
	Category string
	Severity string
	Keyword  string
}

type IssueListResult struct {
	Items []models.Issue `json:"items"`
	Total int64          `json:"total"`
}

// IssueUpdate carries optional officer edits. Empty fields are left alone.
type IssueUpdate struct {
	Status   string `json:"status"`
	Category string `json:"category"`
	Severity string `json:"severity"`
}

func (u IssueUpdate) columns() (map[string]interface{}, error) {
	ve := &apperrors.ValidationError{}
	cols := make(map[string]interface{})
	if u.Status != "" {
		if s := models.Status(u.Status); s.Valid() {
			cols["status"] = s
		} else {
			ve.Add("status", "must be one of: "+models.StatusOptions())
		}
	}
	if u.Category != "" {
		if c := models.Category(u.Category); c.Valid() {
			cols["category"] = c
		} else {
			ve.Add("category", "must be one of: "+models.CategoryOptions())
		}
	}
	if u.Severity != "" {
		if s := models.Severity(u.Severity); s.Valid() {
			cols["severity"] = s
		} else {
			ve.Add("severity", "must be one of: "+models.SeverityOptions())
		}
	}
	if !ve.Empty() {
		return nil, ve
	}
	if len(cols) == 0 {
		return nil, apperrors.NewValidation("body", "at least one of status, category, severity is required")
	}
	return cols, nil
}

// CorrectionInput is an officer's override of the AI labels.
type CorrectionInput struct {
	Category  string `json:"category"`
	Severity  string `json:"severity"`
	OfficerID string `json:"-"`
}

// IssueService owns the issue store. Embeddings are computed inline or
// deferred to the embedding queue depending on async.
type IssueService struct {
	db       *gorm.DB
	embedder llm.Embedder
	queue    *EmbeddingQueue
	feedback *FeedbackService
	events   EventPublisher
	async    bool
}

// NewIssueService wires the store. queue may be nil when async is false.
func NewIssueService(db *gorm.DB, embedder llm.Embedder, queue *EmbeddingQueue, feedback *FeedbackService, events EventPublisher, async bool) *IssueService {
	return &IssueService{
		db:       db,
		embedder: embedder,
		queue:    queue,
		feedback: feedback,
		events:   events,
		async:    async && queue != nil,
	}
}

// Submit validates and stores a citizen submission with status new. In sync
// mode an embedding failure fails the submission and nothing is stored.
func (s *IssueService) Submit(ctx context.Context, in SubmitInput) (*models.Issue, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	issue := &models.Issue{
		Title:       in.Title,
		Description: in.Description,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		ImageURL:    in.ImageURL,
		Status:      models.StatusNew,
	}

	if s.async {
		return s.submitDeferred(ctx, issue)
	}

	vec, err := s.embedder.Embed(llm.WithWorkflow(ctx, "submit"), models.EmbeddingText(issue.Title, issue.Description))
	if err != nil {
		return nil, err
	}
	issue.Embedding = vec
	issue.EmbeddingModel = llm.ModelOf(s.embedder)

	if err := s.db.WithContext(ctx).Create(issue).Error; err != nil {
		return nil, apperrors.Persistence("insert issue", err)
	}
	logger.Info().Str("issue_id", issue.ID).Msg("[Issue] Submitted with inline embedding")
	publish(s.events, issueEvent(EventIssueCreated, issue))
	return issue, nil
}

func (s *IssueService) submitDeferred(ctx context.Context, issue *models.Issue) (*models.Issue, error) {
	var job *models.EmbeddingJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(issue).Error; err != nil {
			return err
		}
		var err error
		job, err = createJob(tx, issue.ID)
		return err
	})
	if err != nil {
		return nil, apperrors.Persistence("insert issue", err)
	}
	logger.Info().Str("issue_id", issue.ID).Uint("job_id", job.ID).Msg("[Issue] Submitted, embedding queued")
	s.queue.Dispatch(ctx, job)
	publish(s.events, issueEvent(EventIssueCreated, issue))
	return issue, nil
}

func (s *IssueService) Get(ctx context.Context, id string) (*models.Issue, error) {
	var issue models.Issue
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("issue", id)
	}
	if err != nil {
		return nil, apperrors.Persistence("load issue", err)
	}
	return &issue, nil
}

func (s *IssueService) List(ctx context.Context, params IssueListParams) (*IssueListResult, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 || params.PageSize > 100 {
		params.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Issue{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}
	if params.Severity != "" {
		query = query.Where("severity = ?", params.Severity)
	}
	if params.Keyword != "" {
		like := "%" + escapeLike(params.Keyword) + "%"
		query = query.Where("title LIKE ? ESCAPE '!' OR description LIKE ? ESCAPE '!'", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, apperrors.Persistence("count issues", err)
	}

	var items []models.Issue
	offset := (params.Page - 1) * params.PageSize
	err := query.Omit("embedding").
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(params.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Persistence("list issues", err)
	}
	return &IssueListResult{Items: items, Total: total}, nil
}

// Update applies officer edits. The embedding is never recomputed.
func (s *IssueService) Update(ctx context.Context, id string, u IssueUpdate) (*models.Issue, error) {
	cols, err := u.columns()
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, id, cols)
}

// Accept acknowledges an issue: status becomes in_progress and the current
// labels are kept.
func (s *IssueService) Accept(ctx context.Context, id string) (*models.Issue, error) {
	return s.apply(ctx, id, map[string]interface{}{"status": models.StatusInProgress})
}

// Correct overrides the AI labels, moves the issue to in_progress and then
// records the correction as feedback.
func (s *IssueService) Correct(ctx context.Context, id string, in CorrectionInput) (*models.Issue, error) {
	ve := &apperrors.ValidationError{}
	if !models.Category(in.Category).Valid() {
		ve.Add("category", "must be one of: "+models.CategoryOptions())
	}
	if !models.Severity(in.Severity).Valid() {
		ve.Add("severity", "must be one of: "+models.SeverityOptions())
	}
	if !ve.Empty() {
		return nil, ve
	}

	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.apply(ctx, id, map[string]interface{}{
		"status":   models.StatusInProgress,
		"category": models.Category(in.Category),
		"severity": models.Severity(in.Severity),
	})
	if err != nil {
		return nil, err
	}

	if s.feedback != nil {
		s.feedback.Record(ctx, FeedbackInput{
			IssueID:           id,
			OriginalCategory:  labelOf(before.Category),
			OriginalSeverity:  labelOf(before.Severity),
			CorrectedCategory: in.Category,
			CorrectedSeverity: in.Severity,
			OfficerID:         in.OfficerID,
		})
	}
	return updated, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike makes s match literally inside a LIKE pattern using '!' as the
// escape character, which MySQL, Postgres and SQLite all accept.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func labelOf[T ~string](v *T) string {
	if v == nil {
		return ""
	}
	return string(*v)
}

func (s *IssueService) apply(ctx context.Context, id string, cols map[string]interface{}) (*models.Issue, error) {
	res := s.db.WithContext(ctx).Model(&models.Issue{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return nil, apperrors.Persistence("update issue", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("issue", id)
	}
	issue, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("issue_id", id).Str("changes", fmt.Sprint(cols)).Msg("[Issue] Updated")
	publish(s.events, issueEvent(EventIssueUpdated, issue))
	return issue, nil
}
