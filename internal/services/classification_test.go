package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/models"
)

var classifyRetrieval = config.RetrievalConfig{Threshold: 0.75, TopK: 3}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		category models.Category
		severity models.Severity
		wantErr  bool
	}{
		{
			name:     "valid",
			content:  `{"category":"Streetlight","severity":"High","explanation":"Dark junction."}`,
			category: models.CategoryStreetlight,
			severity: models.SeverityHigh,
		},
		{
			name:     "fenced",
			content:  "```json\n{\"category\":\"Pothole\",\"severity\":\"Low\",\"explanation\":\"Small.\"}\n```",
			category: models.CategoryPothole,
			severity: models.SeverityLow,
		},
		{
			name:     "multi word category",
			content:  `{"category":"Water Leakage","severity":"Critical","explanation":"Main burst."}`,
			category: models.CategoryWaterLeakage,
			severity: models.SeverityCritical,
		},
		{name: "unknown category", content: `{"category":"Lighting","severity":"High","explanation":"x"}`, wantErr: true},
		{name: "lowercase severity", content: `{"category":"Garbage","severity":"high","explanation":"x"}`, wantErr: true},
		{name: "urgent severity", content: `{"category":"Garbage","severity":"Urgent","explanation":"x"}`, wantErr: true},
		{name: "empty explanation", content: `{"category":"Garbage","severity":"Low","explanation":"  "}`, wantErr: true},
		{name: "not json", content: "The category is Garbage.", wantErr: true},
		{name: "array", content: `[{"category":"Garbage"}]`, wantErr: true},
		{name: "empty", content: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, sev, expl, err := ParseClassification(tt.content)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrInvalidModelOutput) {
					t.Errorf("err = %v, expected ErrInvalidModelOutput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cat != tt.category || sev != tt.severity {
				t.Errorf("got (%s, %s), expected (%s, %s)", cat, sev, tt.category, tt.severity)
			}
			if expl == "" {
				t.Error("explanation should not be empty")
			}
		})
	}
}

func TestClassify_UsesSimilarIssuesAndPersists(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	target := seedIssue(t, db, "Broken streetlight", "The streetlight at Oak Ave has been out for a week.", []float64{1, 0, 0}, now)
	past := seedIssue(t, db, "Streetlight flickering", "Lamp post near the school flickers at night.", []float64{0.95, 0.05, 0}, now.Add(-24*time.Hour))
	seedIssue(t, db, "Overflowing bin", "Garbage bin on Pine Rd overflowing.", []float64{0, 1, 0}, now.Add(-48*time.Hour))

	gen := staticGenerator(`{"category":"Streetlight","severity":"High","explanation":"A dark road is a safety risk."}`)
	events := &recordingPublisher{}
	svc := NewClassificationService(db, NewSimilarityIndex(db), gen, events, classifyRetrieval)

	result, err := svc.Classify(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Category != models.CategoryStreetlight || result.Severity != models.SeverityHigh {
		t.Errorf("result = (%s, %s), expected (Streetlight, High)", result.Category, result.Severity)
	}
	if !result.Persisted {
		t.Error("result should be persisted")
	}
	if len(result.SimilarItems) != 1 || result.SimilarItems[0].ID != past.ID {
		t.Errorf("SimilarItems = %+v, expected only the flickering streetlight", result.SimilarItems)
	}

	prompt := gen.LastPrompt()
	if !strings.Contains(prompt, "Streetlight flickering") {
		t.Error("prompt should include the similar past issue")
	}
	if strings.Contains(prompt, "Overflowing bin") {
		t.Error("prompt should not include dissimilar issues")
	}
	if !gen.modes[0] {
		t.Error("classification should request JSON mode")
	}

	var stored models.Issue
	db.First(&stored, "id = ?", target.ID)
	if stored.Category == nil || *stored.Category != models.CategoryStreetlight {
		t.Errorf("stored category = %v, expected Streetlight", stored.Category)
	}
	if stored.Severity == nil || *stored.Severity != models.SeverityHigh {
		t.Errorf("stored severity = %v, expected High", stored.Severity)
	}
	if stored.Status != models.StatusNew {
		t.Errorf("status = %s, expected unchanged new", stored.Status)
	}

	if types := events.Types(); len(types) != 1 || types[0] != EventIssueClassified {
		t.Errorf("events = %v, expected [%s]", types, EventIssueClassified)
	}
}

func TestClassify_TopKLimit(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	target := seedIssue(t, db, "Pothole", "Deep pothole on Main St.", []float64{1, 0}, now)
	for i := 0; i < 5; i++ {
		seedIssue(t, db, "Pothole nearby", "Another pothole on Main St.", []float64{1, 0.01 * float64(i)}, now.Add(-time.Duration(i+1)*time.Hour))
	}

	gen := staticGenerator(`{"category":"Pothole","severity":"Medium","explanation":"Road damage."}`)
	svc := NewClassificationService(db, NewSimilarityIndex(db), gen, nil, classifyRetrieval)

	result, err := svc.Classify(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(result.SimilarItems) != 3 {
		t.Errorf("len(SimilarItems) = %d, expected 3", len(result.SimilarItems))
	}
	for _, s := range result.SimilarItems {
		if s.ID == target.ID {
			t.Error("issue should not be its own context")
		}
	}
}

func TestClassify_InvalidOutputLeavesIssueUnchanged(t *testing.T) {
	db := newTestDB(t)
	target := seedIssue(t, db, "Sewage smell", "Strong sewage smell near the market.", []float64{0, 0, 1}, time.Now())

	gen := staticGenerator(`{"category":"Odour","severity":"Urgent","explanation":"Smells."}`)
	events := &recordingPublisher{}
	svc := NewClassificationService(db, NewSimilarityIndex(db), gen, events, classifyRetrieval)

	_, err := svc.Classify(context.Background(), target.ID)
	if !errors.Is(err, apperrors.ErrInvalidModelOutput) {
		t.Fatalf("err = %v, expected ErrInvalidModelOutput", err)
	}

	var stored models.Issue
	db.First(&stored, "id = ?", target.ID)
	if stored.Category != nil || stored.Severity != nil {
		t.Errorf("labels = (%v, %v), expected both unset", stored.Category, stored.Severity)
	}
	if len(events.Types()) != 0 {
		t.Errorf("no event expected, got %v", events.Types())
	}
}

func TestClassify_PersistenceFailureStillReturnsResult(t *testing.T) {
	db := newTestDB(t)
	target := seedIssue(t, db, "Water leak", "Water gushing from a pipe on 5th Ave.", []float64{0, 1}, time.Now())
	failUpdates(db, "issues")

	gen := staticGenerator(`{"category":"Water Leakage","severity":"Critical","explanation":"Burst main."}`)
	svc := NewClassificationService(db, NewSimilarityIndex(db), gen, nil, classifyRetrieval)

	result, err := svc.Classify(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("Classify should not fail on a write error: %v", err)
	}
	if result.Persisted {
		t.Error("Persisted should be false")
	}
	if result.Category != models.CategoryWaterLeakage || result.Severity != models.SeverityCritical {
		t.Errorf("result = (%s, %s), expected (Water Leakage, Critical)", result.Category, result.Severity)
	}
}

func TestClassify_Errors(t *testing.T) {
	db := newTestDB(t)
	unembedded := seedIssue(t, db, "Graffiti", "Sign covered in graffiti.", nil, time.Now())
	embedded := seedIssue(t, db, "Broken sign", "Stop sign knocked over.", []float64{1, 1}, time.Now())

	upstream := apperrors.Upstream("generate", errors.New("connection refused"))

	tests := []struct {
		name   string
		id     string
		gen    *fakeGenerator
		target error
	}{
		{"unknown issue", "missing-id", staticGenerator("{}"), apperrors.ErrNotFound},
		{"no embedding", unembedded.ID, staticGenerator("{}"), apperrors.ErrValidation},
		{"generator down", embedded.ID, failingGenerator(upstream), apperrors.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewClassificationService(db, NewSimilarityIndex(db), tt.gen, nil, classifyRetrieval)
			_, err := svc.Classify(context.Background(), tt.id)
			if !errors.Is(err, tt.target) {
				t.Errorf("err = %v, expected %v", err, tt.target)
			}
		})
	}
}
