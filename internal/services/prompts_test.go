package services

import (
	"strings"
	"testing"
	"time"

	"github.com/civictriage/backend/internal/models"
)

func TestHumanizeAge(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{48 * time.Hour, "2 days"},
		{72 * time.Hour, "3 days"},
		{36 * time.Hour, "36 hours"},
		{24 * time.Hour, "24 hours"},
	}
	for _, tt := range tests {
		if got := humanizeAge(tt.d); got != tt.expected {
			t.Errorf("humanizeAge(%v) = %q, expected %q", tt.d, got, tt.expected)
		}
	}
}

func TestBuildClassifyPrompt(t *testing.T) {
	cat := models.CategoryStreetlight
	issue := &models.Issue{Title: "Broken streetlight", Description: "Dark since Monday."}

	empty := buildClassifyPrompt(issue, nil)
	if !strings.Contains(empty, "No similar issues found.") {
		t.Error("empty context should be stated explicitly")
	}
	if !strings.Contains(empty, `"Water Leakage"`) || !strings.Contains(empty, `"Critical"`) {
		t.Error("prompt should list every category and severity")
	}
	if strings.Contains(empty, "{{") {
		t.Errorf("unfilled placeholder in:\n%s", empty)
	}

	withContext := buildClassifyPrompt(issue, []SimilarIssue{{Title: "Lamp out", Description: "Oak Ave", Category: &cat}})
	if !strings.Contains(withContext, "- Title: Lamp out, Description: Oak Ave, Category: Streetlight, Severity: N/A") {
		t.Errorf("context line missing:\n%s", withContext)
	}
}

func TestBuildChatContext(t *testing.T) {
	sev := models.SeverityHigh
	created := time.Date(2026, 10, 1, 15, 0, 0, 0, time.UTC)
	got := buildChatContext([]SimilarIssue{{ID: "a1", Title: "Pothole", Status: models.StatusNew, Severity: &sev, CreatedAt: created}})
	expected := "- Issue (ID a1): Pothole (Status: new, Severity: High, Reported: 2026-10-01)"
	if got != expected {
		t.Errorf("buildChatContext = %q, expected %q", got, expected)
	}
	if buildChatContext(nil) != "No relevant issues found." {
		t.Error("empty hits should render the empty marker")
	}
}

func TestBuildSummaryPrompt(t *testing.T) {
	sev := models.SeverityCritical
	issues := []models.Issue{
		{Title: "Sewage overflow", Severity: &sev, Status: models.StatusNew},
		{Title: "Graffiti", Status: models.StatusResolved},
	}
	got := buildSummaryPrompt(issues, 7)
	for _, want := range []string{"past 7 days", "A total of 2 issues", "- Sewage overflow (Category: N/A, Severity: Critical, Status: new)", "Key Hotspots", "Priority Issues"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary prompt should contain %q", want)
		}
	}
}

func TestBuildEscalationAndReplyPrompts(t *testing.T) {
	sev := models.SeverityHigh
	issue := &models.Issue{ID: "x9", Title: "Exposed wires", Severity: &sev, Status: models.StatusResolved, CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}

	esc := buildEscalationPrompt(issue, 48*time.Hour)
	for _, want := range []string{"ID: x9", "over 2 days", `Severity: "High"`, "Reported: 2026-10-01"} {
		if !strings.Contains(esc, want) {
			t.Errorf("escalation prompt should contain %q", want)
		}
	}

	reply := buildReplyPrompt(issue)
	if !strings.Contains(reply, "marked as resolved") {
		t.Error("reply prompt should phrase the resolved status")
	}
	if strings.Contains(buildPlanPrompt(issue), "{{") {
		t.Error("plan prompt has unfilled placeholders")
	}
}
