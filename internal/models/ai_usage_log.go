package models

import "time"

// AIUsageLog records each model call for latency and failure tracking.
type AIUsageLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Provider     string    `gorm:"size:50;index" json:"provider"`
	Model        string    `gorm:"size:100" json:"model"`
	Operation    string    `gorm:"size:30;index" json:"operation"` // embed, generate
	Workflow     string    `gorm:"size:50" json:"workflow,omitempty"`
	PromptChars  int       `json:"prompt_chars"`
	OutputChars  int       `json:"output_chars"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"size:500" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (AIUsageLog) TableName() string { return "ai_usage_logs" }
