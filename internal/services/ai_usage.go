package services

import (
	"context"
	"sync"
	"time"

	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/pkg/logger"
	"gorm.io/gorm"
)

// AIUsageService stores one row per model call and aggregates them.
type AIUsageService struct {
	db *gorm.DB
	wg sync.WaitGroup
}

func NewAIUsageService(db *gorm.DB) *AIUsageService {
	return &AIUsageService{db: db}
}

// Record saves a usage row in the background so model calls never wait on it.
func (s *AIUsageService) Record(log *models.AIUsageLog) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.db.Create(log).Error; err != nil {
			logger.Warnf("[AIUsage] Failed to record usage: %v", err)
		}
	}()
}

// Flush waits for pending Record writes.
func (s *AIUsageService) Flush() {
	s.wg.Wait()
}

// UsageFilter narrows the stats queries. Dates are YYYY-MM-DD in UTC.
type UsageFilter struct {
	StartDate string
	EndDate   string
	Workflow  string
}

func (s *AIUsageService) filtered(ctx context.Context, f UsageFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.AIUsageLog{})
	if t, err := time.Parse("2006-01-02", f.StartDate); err == nil {
		query = query.Where("created_at >= ?", t)
	}
	if t, err := time.Parse("2006-01-02", f.EndDate); err == nil {
		query = query.Where("created_at < ?", t.AddDate(0, 0, 1))
	}
	if f.Workflow != "" {
		query = query.Where("workflow = ?", f.Workflow)
	}
	return query
}

type UsageStats struct {
	TotalCalls    int64   `json:"total_calls"`
	EmbedCalls    int64   `json:"embed_calls"`
	GenerateCalls int64   `json:"generate_calls"`
	PromptChars   int64   `json:"prompt_chars"`
	OutputChars   int64   `json:"output_chars"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	SuccessRate   float64 `json:"success_rate"`
	SuccessCount  int64   `json:"success_count"`
	FailureCount  int64   `json:"failure_count"`
}

func (s *AIUsageService) GetStats(ctx context.Context, f UsageFilter) (*UsageStats, error) {
	var stats UsageStats
	err := s.filtered(ctx, f).Select(
		"COUNT(*) as total_calls, "+
			"COALESCE(SUM(CASE WHEN operation = 'embed' THEN 1 ELSE 0 END), 0) as embed_calls, "+
			"COALESCE(SUM(CASE WHEN operation = 'generate' THEN 1 ELSE 0 END), 0) as generate_calls, "+
			"COALESCE(SUM(prompt_chars), 0) as prompt_chars, "+
			"COALESCE(SUM(output_chars), 0) as output_chars, "+
			"COALESCE(AVG(latency_ms), 0) as avg_latency_ms, "+
			"COALESCE(SUM(CASE WHEN success = ? THEN 1 ELSE 0 END), 0) as success_count, "+
			"COALESCE(SUM(CASE WHEN success = ? THEN 1 ELSE 0 END), 0) as failure_count",
		true, false,
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalCalls) * 100
	}
	return &stats, nil
}

type DailyUsage struct {
	Date         string  `json:"date"`
	Calls        int     `json:"calls"`
	Failures     int     `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// GetDailyTrend returns per-day aggregates for charting.
func (s *AIUsageService) GetDailyTrend(ctx context.Context, f UsageFilter) ([]DailyUsage, error) {
	var results []DailyUsage
	err := s.filtered(ctx, f).Select(
		"DATE(created_at) as date, "+
			"COUNT(*) as calls, "+
			"COALESCE(SUM(CASE WHEN success = ? THEN 1 ELSE 0 END), 0) as failures, "+
			"COALESCE(AVG(latency_ms), 0) as avg_latency_ms",
		false,
	).Group("DATE(created_at)").Order("date ASC").Scan(&results).Error
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []DailyUsage{}
	}
	return results, nil
}

type ProviderUsage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Operation    string  `json:"operation"`
	Calls        int     `json:"calls"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
}

func (s *AIUsageService) GetProviderBreakdown(ctx context.Context, f UsageFilter) ([]ProviderUsage, error) {
	var results []ProviderUsage
	err := s.filtered(ctx, f).Select(
		"provider, model, operation, "+
			"COUNT(*) as calls, "+
			"COALESCE(AVG(latency_ms), 0) as avg_latency_ms, "+
			"COALESCE(AVG(CASE WHEN success = ? THEN 100.0 ELSE 0.0 END), 0) as success_rate",
		true,
	).Group("provider, model, operation").Order("calls DESC").Scan(&results).Error
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []ProviderUsage{}
	}
	return results, nil
}

// CleanupBefore deletes usage rows older than before.
func (s *AIUsageService) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.AIUsageLog{})
	return result.RowsAffected, result.Error
}
