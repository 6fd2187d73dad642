package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Issue is a citizen-reported civic problem. Rows are never hard-deleted.
type Issue struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Title          string    `gorm:"size:255;not null" json:"title"`
	Description    string    `gorm:"type:text;not null" json:"description"`
	Category       *Category `gorm:"size:50;index" json:"category"`
	Severity       *Severity `gorm:"size:20;index" json:"severity"`
	Status         Status    `gorm:"size:20;not null;default:new;index" json:"status"`
	ImageURL       string    `gorm:"size:500" json:"image_url"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Embedding      Vector    `gorm:"type:text" json:"-"`
	EmbeddingModel string    `gorm:"size:100" json:"embedding_model,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Issue) TableName() string { return "issues" }

func (i *Issue) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = StatusNew
	}
	return nil
}

// HasEmbedding reports whether the similarity index can see this issue.
func (i *Issue) HasEmbedding() bool {
	return len(i.Embedding) > 0
}

// EmbeddingText is the text an issue's vector is derived from.
func EmbeddingText(title, description string) string {
	return title + ". " + description
}

// FeedbackRecord captures an officer correction of an AI classification.
// Append-only.
type FeedbackRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	IssueID           string    `gorm:"size:36;index;not null" json:"issue_id"`
	OriginalCategory  string    `gorm:"size:50" json:"original_category"`
	OriginalSeverity  string    `gorm:"size:20" json:"original_severity"`
	CorrectedCategory string    `gorm:"size:50" json:"corrected_category"`
	CorrectedSeverity string    `gorm:"size:20" json:"corrected_severity"`
	OfficerID         string    `gorm:"size:100" json:"officer_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (FeedbackRecord) TableName() string { return "feedback_logs" }

// EscalationDraft is a generated email awaiting human review.
type EscalationDraft struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IssueID   string    `gorm:"size:36;index;not null" json:"issue_id"`
	Issue     *Issue    `gorm:"foreignKey:IssueID" json:"issue,omitempty"`
	Subject   string    `gorm:"size:500;not null" json:"draft_subject"`
	Body      string    `gorm:"type:text;not null" json:"draft_body"`
	IsSent    bool      `gorm:"default:false" json:"is_sent"`
	ModelUsed string    `gorm:"size:100" json:"model_used,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (EscalationDraft) TableName() string { return "escalation_drafts" }

// WeeklySummary is one generated trend bulletin. Append-only.
type WeeklySummary struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SummaryText string    `gorm:"type:text;not null" json:"summary_text"`
	IssueCount  int       `json:"issue_count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	ModelUsed   string    `gorm:"size:100" json:"model_used,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (WeeklySummary) TableName() string { return "weekly_summaries" }
