package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/models"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedIssue(t *testing.T, db *gorm.DB, title, description string, vec []float64, createdAt time.Time) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		Title:       title,
		Description: description,
		Embedding:   vec,
		CreatedAt:   createdAt.UTC(),
	}
	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("seed issue: %v", err)
	}
	return issue
}

func seedLabelled(t *testing.T, db *gorm.DB, title string, sev models.Severity, status models.Status, createdAt time.Time) *models.Issue {
	t.Helper()
	cat := models.CategoryStreetlight
	issue := &models.Issue{
		Title:       title,
		Description: title + " reported by a resident",
		Category:    &cat,
		Severity:    &sev,
		Status:      status,
		CreatedAt:   createdAt.UTC(),
	}
	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("seed issue: %v", err)
	}
	return issue
}

func failUpdates(db *gorm.DB, table string) {
	db.Callback().Update().Before("gorm:update").Register("test:fail_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			tx.AddError(errors.New("disk full"))
		}
	})
}

func failCreates(db *gorm.DB, table string) {
	db.Callback().Create().Before("gorm:create").Register("test:fail_create_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			tx.AddError(errors.New("disk full"))
		}
	})
}

// fakeEmbedder returns a vector per exact text, or fallback.
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float64
	fallback []float64
	err      error
	calls    int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return nil, apperrors.Malformed("embed", errors.New("no vector"))
}

func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake-embed" }

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGenerator answers through respond, recording every prompt.
type fakeGenerator struct {
	mu      sync.Mutex
	respond func(prompt string, jsonMode bool) (string, error)
	prompts []string
	modes   []bool
}

func staticGenerator(out string) *fakeGenerator {
	return &fakeGenerator{respond: func(string, bool) (string, error) { return out, nil }}
}

func failingGenerator(err error) *fakeGenerator {
	return &fakeGenerator{respond: func(string, bool) (string, error) { return "", err }}
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.modes = append(f.modes, jsonMode)
	f.mu.Unlock()
	return f.respond(prompt, jsonMode)
}

func (f *fakeGenerator) Provider() string { return "fake" }
func (f *fakeGenerator) Model() string    { return "fake-chat" }

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeGenerator) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []IssueEvent
}

func (r *recordingPublisher) Publish(e IssueEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
