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

var escalationCfg = config.EscalationConfig{AgeThresholdHours: 48, BatchLimit: 50, Concurrency: 2}

const draftJSON = `{"subject":"URGENT: unresolved issue","body":"Please act on this immediately."}`

func TestParseEscalation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", draftJSON, false},
		{"fenced", "```json\n" + draftJSON + "\n```", false},
		{"missing body", `{"subject":"x"}`, true},
		{"blank subject", `{"subject":" ","body":"y"}`, true},
		{"prose", "Subject: urgent", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseEscalation(tt.content)
			if tt.wantErr && !errors.Is(err, apperrors.ErrInvalidModelOutput) {
				t.Errorf("err = %v, expected ErrInvalidModelOutput", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEscalationCandidates(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	stale := seedLabelled(t, db, "Critical stale", models.SeverityCritical, models.StatusNew, now.Add(-72*time.Hour))
	staleHigh := seedLabelled(t, db, "High stale", models.SeverityHigh, models.StatusNew, now.Add(-49*time.Hour))
	seedLabelled(t, db, "Medium stale", models.SeverityMedium, models.StatusNew, now.Add(-72*time.Hour))
	seedLabelled(t, db, "High fresh", models.SeverityHigh, models.StatusNew, now.Add(-2*time.Hour))
	seedLabelled(t, db, "High accepted", models.SeverityHigh, models.StatusInProgress, now.Add(-72*time.Hour))
	seedLabelled(t, db, "Critical resolved", models.SeverityCritical, models.StatusResolved, now.Add(-96*time.Hour))

	svc := NewEscalationService(db, staticGenerator(draftJSON), nil, escalationCfg)
	svc.now = func() time.Time { return now }

	issues, err := svc.Candidates(context.Background())
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("len(candidates) = %d, expected 2", len(issues))
	}
	if issues[0].ID != stale.ID || issues[1].ID != staleHigh.ID {
		t.Errorf("candidates should be oldest first, got %s, %s", issues[0].Title, issues[1].Title)
	}
}

func TestEscalationRun_DraftsOncePerCandidate(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	high := seedLabelled(t, db, "Exposed wires", models.SeverityHigh, models.StatusNew, now.Add(-60*time.Hour))
	seedLabelled(t, db, "Faded sign", models.SeverityMedium, models.StatusNew, now.Add(-60*time.Hour))

	gen := staticGenerator(draftJSON)
	events := &recordingPublisher{}
	svc := NewEscalationService(db, gen, events, escalationCfg)
	svc.now = func() time.Time { return now }

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Selected != 1 || outcome.Processed != 1 || outcome.Failed != 0 {
		t.Errorf("outcome = %+v, expected 1 selected and processed", outcome)
	}

	var drafts []models.EscalationDraft
	db.Find(&drafts)
	if len(drafts) != 1 {
		t.Fatalf("len(drafts) = %d, expected 1", len(drafts))
	}
	d := drafts[0]
	if d.IssueID != high.ID {
		t.Errorf("IssueID = %s, expected %s", d.IssueID, high.ID)
	}
	if d.IsSent {
		t.Error("new drafts should not be marked sent")
	}
	if d.Subject != "URGENT: unresolved issue" {
		t.Errorf("Subject = %q", d.Subject)
	}
	if d.ModelUsed != "fake-chat" {
		t.Errorf("ModelUsed = %q, expected fake-chat", d.ModelUsed)
	}
	if !strings.Contains(gen.LastPrompt(), high.ID) {
		t.Error("prompt should carry the issue id")
	}
	if !strings.Contains(gen.LastPrompt(), "2 days") {
		t.Error("prompt should state the age threshold")
	}

	var stored models.Issue
	db.First(&stored, "id = ?", high.ID)
	if stored.Status != models.StatusNew {
		t.Errorf("status = %s, escalation must not change it", stored.Status)
	}
	if types := events.Types(); len(types) != 1 || types[0] != EventDraftCreated {
		t.Errorf("events = %v", types)
	}
}

func TestEscalationRun_ItemFailuresAreIsolated(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	seedLabelled(t, db, "Gas smell", models.SeverityCritical, models.StatusNew, now.Add(-100*time.Hour))
	bad := seedLabelled(t, db, "Collapsed drain", models.SeverityCritical, models.StatusNew, now.Add(-90*time.Hour))
	seedLabelled(t, db, "Fallen tree", models.SeverityHigh, models.StatusNew, now.Add(-80*time.Hour))

	gen := &fakeGenerator{respond: func(prompt string, _ bool) (string, error) {
		if strings.Contains(prompt, "Collapsed drain") {
			return "I cannot write that email.", nil
		}
		return draftJSON, nil
	}}
	svc := NewEscalationService(db, gen, nil, escalationCfg)
	svc.now = func() time.Time { return now }

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Selected != 3 || outcome.Processed != 2 || outcome.Failed != 1 {
		t.Errorf("outcome = %+v, expected 3 selected, 2 processed, 1 failed", outcome)
	}
	if len(outcome.Failures) != 1 || outcome.Failures[0].IssueID != bad.ID {
		t.Errorf("Failures = %+v, expected the collapsed drain", outcome.Failures)
	}

	var count int64
	db.Model(&models.EscalationDraft{}).Count(&count)
	if count != 2 {
		t.Errorf("draft count = %d, expected 2", count)
	}
}

func TestEscalationRun_NoCandidates(t *testing.T) {
	db := newTestDB(t)
	gen := staticGenerator(draftJSON)
	svc := NewEscalationService(db, gen, nil, escalationCfg)

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Selected != 0 || gen.Calls() != 0 {
		t.Errorf("outcome = %+v, generator calls = %d, expected nothing to do", outcome, gen.Calls())
	}
}

func TestEscalationRun_BatchLimit(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		seedLabelled(t, db, "Stale", models.SeverityHigh, models.StatusNew, now.Add(-time.Duration(50+i)*time.Hour))
	}
	cfg := escalationCfg
	cfg.BatchLimit = 3
	svc := NewEscalationService(db, staticGenerator(draftJSON), nil, cfg)
	svc.now = func() time.Time { return now }

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Selected != 3 {
		t.Errorf("Selected = %d, expected 3", outcome.Selected)
	}
}

func TestListDrafts(t *testing.T) {
	db := newTestDB(t)
	issue := seedLabelled(t, db, "Exposed wires", models.SeverityHigh, models.StatusNew, time.Now())
	db.Create(&models.EscalationDraft{IssueID: issue.ID, Subject: "a", Body: "b"})
	db.Create(&models.EscalationDraft{IssueID: issue.ID, Subject: "c", Body: "d", IsSent: true})

	svc := NewEscalationService(db, staticGenerator(draftJSON), nil, escalationCfg)
	unsent := false
	res, err := svc.ListDrafts(context.Background(), DraftListParams{IsSent: &unsent})
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if res.Total != 1 || len(res.Items) != 1 {
		t.Fatalf("Total = %d, len = %d, expected 1", res.Total, len(res.Items))
	}
	if res.Items[0].Issue == nil || res.Items[0].Issue.Title != "Exposed wires" {
		t.Error("draft should preload its issue")
	}
}
