package services

import (
	"context"
	"errors"
	"strings"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services/llm"
	"github.com/civictriage/backend/pkg/logger"
	"gorm.io/gorm"
)

// ClassificationResult is returned even when persisting it failed.
type ClassificationResult struct {
	IssueID      string          `json:"issue_id"`
	Category     models.Category `json:"category"`
	Severity     models.Severity `json:"severity"`
	Explanation  string          `json:"explanation"`
	SimilarItems []SimilarIssue  `json:"similar_issues"`
	Persisted    bool            `json:"persisted"`
}

type classificationOutput struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Explanation string `json:"explanation"`
}

// ParseClassification decodes and validates a model response. Nothing is
// coerced: an unknown label is an error.
func ParseClassification(content string) (models.Category, models.Severity, string, error) {
	var out classificationOutput
	if err := llm.DecodeJSONObject(content, &out); err != nil {
		return "", "", "", err
	}
	category := models.Category(strings.TrimSpace(out.Category))
	severity := models.Severity(strings.TrimSpace(out.Severity))
	explanation := strings.TrimSpace(out.Explanation)

	if !category.Valid() {
		return "", "", "", apperrors.InvalidOutput("category %q is not one of %s", out.Category, models.CategoryOptions())
	}
	if !severity.Valid() {
		return "", "", "", apperrors.InvalidOutput("severity %q is not one of %s", out.Severity, models.SeverityOptions())
	}
	if explanation == "" {
		return "", "", "", apperrors.InvalidOutput("explanation is empty")
	}
	return category, severity, explanation, nil
}

// ClassificationService assigns category and severity using similar past
// issues as context.
type ClassificationService struct {
	db        *gorm.DB
	index     *SimilarityIndex
	generator llm.Generator
	events    EventPublisher
	retrieval config.RetrievalConfig
}

func NewClassificationService(db *gorm.DB, index *SimilarityIndex, generator llm.Generator, events EventPublisher, retrieval config.RetrievalConfig) *ClassificationService {
	return &ClassificationService{
		db:        db,
		index:     index,
		generator: generator,
		events:    events,
		retrieval: retrieval,
	}
}

// Classify runs the workflow for one stored issue. Labels are written only
// after the model output has been fully validated.
func (s *ClassificationService) Classify(ctx context.Context, issueID string) (result *ClassificationResult, err error) {
	defer func() { observeRun("classification", err) }()
	ctx = llm.WithWorkflow(ctx, "classification")

	var issue models.Issue
	if err := s.db.WithContext(ctx).Where("id = ?", issueID).First(&issue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("issue", issueID)
		}
		return nil, apperrors.Persistence("load issue", err)
	}
	if !issue.HasEmbedding() {
		return nil, apperrors.NewValidation("embedding", "issue has no embedding yet")
	}

	// one extra slot so the issue's own row can be dropped
	hits, err := s.index.Search(ctx, issue.Embedding, s.retrieval.Threshold, s.retrieval.TopK+1)
	if err != nil {
		return nil, err
	}
	similar := make([]SimilarIssue, 0, s.retrieval.TopK)
	for _, h := range hits {
		if h.ID == issue.ID || len(similar) == s.retrieval.TopK {
			continue
		}
		similar = append(similar, h)
	}
	metrics.RetrievalResults.WithLabelValues("classification").Observe(float64(len(similar)))

	content, err := s.generator.Generate(ctx, buildClassifyPrompt(&issue, similar), true)
	if err != nil {
		return nil, err
	}
	category, severity, explanation, err := ParseClassification(content)
	if err != nil {
		logger.Warn().Err(err).Str("issue_id", issue.ID).Msg("[Classify] Rejected model output")
		return nil, err
	}

	result = &ClassificationResult{
		IssueID:      issue.ID,
		Category:     category,
		Severity:     severity,
		Explanation:  explanation,
		SimilarItems: similar,
	}

	if ctx.Err() != nil {
		logger.Warn().Str("issue_id", issue.ID).Msg("[Classify] Request cancelled, labels not written")
		return result, nil
	}

	res := s.db.WithContext(ctx).Model(&models.Issue{}).Where("id = ?", issue.ID).
		Updates(map[string]interface{}{"category": category, "severity": severity})
	if res.Error != nil {
		// the analysis itself succeeded; surface it anyway
		logger.Error().Err(res.Error).Str("issue_id", issue.ID).Msg("[Classify] Failed to persist classification")
		return result, nil
	}
	result.Persisted = true

	issue.Category, issue.Severity = &category, &severity
	publish(s.events, issueEvent(EventIssueClassified, &issue))
	logger.Info().Str("issue_id", issue.ID).Str("category", string(category)).
		Str("severity", string(severity)).Int("context", len(similar)).Msg("[Classify] Issue classified")
	return result, nil
}

func observeRun(workflow string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.WorkflowRuns.WithLabelValues(workflow, outcome).Inc()
}
