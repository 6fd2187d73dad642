package services

import (
	"context"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/pkg/logger"
	"gorm.io/gorm"
)

// FeedbackInput pairs the AI-suggested labels with the officer's correction.
type FeedbackInput struct {
	IssueID           string
	OriginalCategory  string
	OriginalSeverity  string
	CorrectedCategory string
	CorrectedSeverity string
	OfficerID         string
}

// FeedbackService is an append-only audit log of officer corrections.
// It never mutates issues.
type FeedbackService struct {
	db *gorm.DB
}

func NewFeedbackService(db *gorm.DB) *FeedbackService {
	return &FeedbackService{db: db}
}

// Record appends one feedback row. Failures are logged and swallowed so the
// caller's primary action is never affected.
func (s *FeedbackService) Record(ctx context.Context, in FeedbackInput) {
	if in.IssueID == "" {
		logger.Warnf("[Feedback] Dropping record without issue id")
		return
	}
	rec := &models.FeedbackRecord{
		IssueID:           in.IssueID,
		OriginalCategory:  in.OriginalCategory,
		OriginalSeverity:  in.OriginalSeverity,
		CorrectedCategory: in.CorrectedCategory,
		CorrectedSeverity: in.CorrectedSeverity,
		OfficerID:         in.OfficerID,
	}
	// detached from request cancellation: the correction itself already succeeded
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(rec).Error; err != nil {
		logger.Error().Err(err).Str("issue_id", in.IssueID).Msg("[Feedback] Failed to record correction")
		return
	}
	logger.Debug().Str("issue_id", in.IssueID).Uint("feedback_id", rec.ID).Msg("[Feedback] Correction recorded")
}

// ListByIssue returns an issue's feedback history, oldest first.
func (s *FeedbackService) ListByIssue(ctx context.Context, issueID string) ([]models.FeedbackRecord, error) {
	var records []models.FeedbackRecord
	err := s.db.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.Persistence("list feedback", err)
	}
	return records, nil
}
