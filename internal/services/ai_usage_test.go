package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services/llm"
)

func TestAIUsage_RecordsInstrumentedCalls(t *testing.T) {
	db := newTestDB(t)
	usage := NewAIUsageService(db)

	gen := llm.InstrumentGenerator(staticGenerator(`{"subject":"s","body":"b"}`), usage)
	emb := llm.InstrumentEmbedder(&fakeEmbedder{err: errors.New("timeout")}, usage)

	ctx := llm.WithWorkflow(context.Background(), "escalation")
	gen.Generate(ctx, "prompt text", true)
	gen.Generate(ctx, "prompt text", true)
	emb.Embed(llm.WithWorkflow(context.Background(), "submit"), "pothole")
	usage.Flush()

	stats, err := usage.GetStats(context.Background(), UsageFilter{})
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalCalls != 3 || stats.GenerateCalls != 2 || stats.EmbedCalls != 1 {
		t.Errorf("stats = %+v, expected 3 calls (2 generate, 1 embed)", stats)
	}
	if stats.SuccessCount != 2 || stats.FailureCount != 1 {
		t.Errorf("success/failure = %d/%d, expected 2/1", stats.SuccessCount, stats.FailureCount)
	}
	if stats.PromptChars != int64(2*len("prompt text")+len("pothole")) {
		t.Errorf("PromptChars = %d", stats.PromptChars)
	}

	scoped, err := usage.GetStats(context.Background(), UsageFilter{Workflow: "escalation"})
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if scoped.TotalCalls != 2 || scoped.SuccessRate != 100 {
		t.Errorf("escalation stats = %+v, expected 2 calls at 100%%", scoped)
	}
}

func TestAIUsage_BreakdownAndTrend(t *testing.T) {
	db := newTestDB(t)
	usage := NewAIUsageService(db)
	now := time.Now().UTC()

	rows := []models.AIUsageLog{
		{Provider: "ollama", Model: "nomic-embed-text", Operation: "embed", LatencyMs: 20, Success: true, CreatedAt: now},
		{Provider: "ollama", Model: "llama3", Operation: "generate", LatencyMs: 800, Success: true, CreatedAt: now},
		{Provider: "ollama", Model: "llama3", Operation: "generate", LatencyMs: 1200, Success: false, CreatedAt: now},
		{Provider: "ollama", Model: "llama3", Operation: "generate", LatencyMs: 900, Success: true, CreatedAt: now.AddDate(0, 0, -40)},
	}
	for i := range rows {
		usage.Record(&rows[i])
	}
	usage.Flush()

	breakdown, err := usage.GetProviderBreakdown(context.Background(), UsageFilter{})
	if err != nil {
		t.Fatalf("GetProviderBreakdown failed: %v", err)
	}
	if len(breakdown) != 2 || breakdown[0].Model != "llama3" || breakdown[0].Calls != 3 {
		t.Errorf("breakdown = %+v, expected llama3 first with 3 calls", breakdown)
	}

	trend, err := usage.GetDailyTrend(context.Background(), UsageFilter{StartDate: now.AddDate(0, 0, -7).Format("2006-01-02")})
	if err != nil {
		t.Fatalf("GetDailyTrend failed: %v", err)
	}
	if len(trend) != 1 || trend[0].Calls != 3 || trend[0].Failures != 1 {
		t.Errorf("trend = %+v, expected one day with 3 calls and 1 failure", trend)
	}

	removed, err := usage.CleanupBefore(context.Background(), now.AddDate(0, 0, -30))
	if err != nil || removed != 1 {
		t.Errorf("CleanupBefore = %d, %v, expected 1", removed, err)
	}
}
