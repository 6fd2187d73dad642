package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/civictriage/backend/internal/models"
)

// Prompt templates use {{name}} placeholders filled by renderPrompt.

const classifyPrompt = `You are an expert civic issue classifier for a municipal corporation. Analyze the issue and its historical context.

New Issue:
- Title: "{{title}}"
- Description: "{{description}}"

Historical Context (Similar Past Issues):
{{context}}

Your Tasks:
1. Determine the "category". Options: {{categories}}.
2. Determine the "severity". Options: {{severities}}.
3. Provide a brief "explanation" (1-2 sentences) for your classification, referencing the context if relevant.

Respond ONLY with a valid JSON object in the format: {"category": "...", "severity": "...", "explanation": "..."}`

const chatPrompt = `You are a professional and helpful AI assistant for a municipal corporation officer.

Your first rule is to be conversational: if the question is a simple greeting or small talk (like "Hi", "Hello", "How are you?", "Thanks"), respond politely and do not use the context below.

Your second rule is to answer questions using context: for all other questions, answer ONLY from the provided context of relevant civic issues.
- If the context is sufficient, answer the question and cite issue IDs where useful.
- If the context is empty or insufficient, reply exactly: "{{decline}}"

Context (Relevant Issues):
{{context}}

Officer's Question:
{{question}}

Answer:`

const escalationPrompt = `You are a senior analyst at the municipal corporation.
A high-priority civic issue has not been addressed for over {{age}}.
Draft a formal and urgent escalation email to the head of the relevant department.

The email must:
1. Clearly state the issue ID, title, and category.
2. Emphasize the {{severity}} severity.
3. Note that it has been pending for over {{age}}.
4. Request an immediate status update and action.

Issue Details:
- ID: {{id}}
- Title: "{{title}}"
- Category: "{{category}}"
- Severity: "{{severity}}"
- Reported: {{reported}}
- Description: "{{description}}"

Respond ONLY with a valid JSON object in the format: {"subject": "...", "body": "..."}`

const summaryPrompt = `You are an analyst for the municipal corporation.
Analyze the following list of raw complaints from the past {{days}} days and generate a concise "Weekly Issue Bulletin" for a ward officer.

The bulletin must include:
1. Overview: a brief overview (e.g., "A total of {{count}} issues were reported...").
2. Key Hotspots: emerging trends or repeated problems in the same area or category.
3. Priority Issues: a list of any High or Critical severity items.

Here is the raw data:
{{issues}}`

const planPrompt = `You are an operations manager for the municipal corporation.
An officer needs an immediate, short, actionable checklist for a field team to address the following issue.
Respond ONLY with a numbered list of 3-5 brief, practical steps. Do not add any conversational text before or after the list.

Issue Details:
- Title: "{{title}}"
- Description: "{{description}}"
- Category: "{{category}}"
- Severity: "{{severity}}"`

const replyPrompt = `You are an experienced administrative assistant at the municipal corporation.
Draft a formal, polite and concise reply regarding the following civic issue.
The reply should acknowledge the issue and briefly state that it is {{status_phrase}}.
Do not add greetings like "Dear Citizen" or sign-offs. Respond only with the body of the reply.

Issue Details:
- Title: "{{title}}"
- Category: "{{category}}"
- Severity: "{{severity}}"
- Current Status: "{{status}}"`

func renderPrompt(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

func orNA[T ~string](v *T) string {
	if v == nil || *v == "" {
		return "N/A"
	}
	return string(*v)
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func humanizeAge(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 48 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%d hours", hours)
}

func statusPhrase(s models.Status) string {
	switch s {
	case models.StatusInProgress:
		return "being addressed by the relevant department"
	case models.StatusResolved:
		return "marked as resolved"
	default:
		return "under review"
	}
}

func buildClassifyPrompt(issue *models.Issue, similar []SimilarIssue) string {
	var ctx strings.Builder
	for _, s := range similar {
		fmt.Fprintf(&ctx, "- Title: %s, Description: %s, Category: %s, Severity: %s\n",
			s.Title, s.Description, orNA(s.Category), orNA(s.Severity))
	}
	context := strings.TrimRight(ctx.String(), "\n")
	if context == "" {
		context = "No similar issues found."
	}
	return renderPrompt(classifyPrompt, map[string]string{
		"title":       issue.Title,
		"description": issue.Description,
		"context":     context,
		"categories":  quoteList(models.CategoryOptions()),
		"severities":  quoteList(models.SeverityOptions()),
	})
}

func quoteList(joined string) string {
	parts := strings.Split(joined, ", ")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ", ")
}

func buildChatContext(hits []SimilarIssue) string {
	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		status := string(h.Status)
		if status == "" {
			status = "N/A"
		}
		lines = append(lines, fmt.Sprintf("- Issue (ID %s): %s (Status: %s, Severity: %s, Reported: %s)",
			h.ID, h.Title, status, orNA(h.Severity), formatDate(h.CreatedAt)))
	}
	if len(lines) == 0 {
		return "No relevant issues found."
	}
	return strings.Join(lines, "\n")
}

func buildChatPrompt(question string, hits []SimilarIssue) string {
	return renderPrompt(chatPrompt, map[string]string{
		"decline":  DeclinePhrase,
		"context":  buildChatContext(hits),
		"question": question,
	})
}

func buildEscalationPrompt(issue *models.Issue, age time.Duration) string {
	return renderPrompt(escalationPrompt, map[string]string{
		"age":         humanizeAge(age),
		"id":          issue.ID,
		"title":       issue.Title,
		"category":    orNA(issue.Category),
		"severity":    orNA(issue.Severity),
		"reported":    formatDate(issue.CreatedAt),
		"description": issue.Description,
	})
}

func buildSummaryPrompt(issues []models.Issue, windowDays int) string {
	var b strings.Builder
	for _, i := range issues {
		fmt.Fprintf(&b, "- %s (Category: %s, Severity: %s, Status: %s)\n",
			i.Title, orNA(i.Category), orNA(i.Severity), i.Status)
	}
	return renderPrompt(summaryPrompt, map[string]string{
		"days":   fmt.Sprintf("%d", windowDays),
		"count":  fmt.Sprintf("%d", len(issues)),
		"issues": strings.TrimRight(b.String(), "\n"),
	})
}

func buildPlanPrompt(issue *models.Issue) string {
	return renderPrompt(planPrompt, map[string]string{
		"title":       issue.Title,
		"description": issue.Description,
		"category":    orNA(issue.Category),
		"severity":    orNA(issue.Severity),
	})
}

func buildReplyPrompt(issue *models.Issue) string {
	return renderPrompt(replyPrompt, map[string]string{
		"title":         issue.Title,
		"category":      orNA(issue.Category),
		"severity":      orNA(issue.Severity),
		"status":        string(issue.Status),
		"status_phrase": statusPhrase(issue.Status),
	})
}
