package services

import (
	"context"
	"strings"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/services/llm"
)

// AssistService drafts free-text helpers for the officer console.
type AssistService struct {
	issues    *IssueService
	generator llm.Generator
}

func NewAssistService(issues *IssueService, generator llm.Generator) *AssistService {
	return &AssistService{issues: issues, generator: generator}
}

// SuggestPlan returns a short numbered checklist for a field team.
func (s *AssistService) SuggestPlan(ctx context.Context, issueID string) (plan string, err error) {
	defer func() { observeRun("plan", err) }()
	issue, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return "", err
	}
	return s.generate(llm.WithWorkflow(ctx, "plan"), buildPlanPrompt(issue))
}

// DraftReply returns a formal reply body acknowledging the issue.
func (s *AssistService) DraftReply(ctx context.Context, issueID string) (reply string, err error) {
	defer func() { observeRun("reply", err) }()
	issue, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return "", err
	}
	return s.generate(llm.WithWorkflow(ctx, "reply"), buildReplyPrompt(issue))
}

func (s *AssistService) generate(ctx context.Context, prompt string) (string, error) {
	text, err := s.generator.Generate(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.InvalidOutput("model returned an empty response")
	}
	return text, nil
}
