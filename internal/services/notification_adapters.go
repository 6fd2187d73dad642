package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/pkg/logger"
)

// NotificationAdapter formats a bulletin for one chat platform.
type NotificationAdapter interface {
	Send(ctx context.Context, client *http.Client, bot config.BotConfig, title, body string) error
}

func getAdapter(botType string) NotificationAdapter {
	switch botType {
	case "slack":
		return &slackAdapter{}
	case "discord":
		return &discordAdapter{}
	case "teams":
		return &teamsAdapter{}
	case "telegram":
		return &telegramAdapter{}
	default:
		return &genericAdapter{}
	}
}

func postJSON(ctx context.Context, client *http.Client, webhookURL string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	logger.Debug().Int("status", resp.StatusCode).Int("payload_bytes", len(body)).Msg("[Notification] Webhook response")

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring to
// break after a newline in the second half of a chunk.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var parts []string
	remaining := msg
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			parts = append(parts, remaining)
			break
		}

		chunk := remaining[:maxLen]
		breakPoint := maxLen
		for i := len(chunk) - 1; i > maxLen/2; i-- {
			if chunk[i] == '\n' {
				breakPoint = i + 1
				break
			}
		}

		parts = append(parts, remaining[:breakPoint])
		remaining = remaining[breakPoint:]
	}
	return parts
}

func markdownMessage(title, body string) string {
	return fmt.Sprintf("*%s*\n\n%s", title, body)
}

type slackAdapter struct{}

func (a *slackAdapter) Send(ctx context.Context, client *http.Client, bot config.BotConfig, title, body string) error {
	payload := map[string]interface{}{
		"text": title,
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{"type": "plain_text", "text": title},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": body},
			},
		},
	}
	return postJSON(ctx, client, bot.Webhook, payload)
}

type discordAdapter struct{}

func (a *discordAdapter) Send(ctx context.Context, client *http.Client, bot config.BotConfig, title, body string) error {
	// discord caps content at 2000 characters
	for _, part := range splitMessage(markdownMessage(title, body), 1900) {
		if err := postJSON(ctx, client, bot.Webhook, map[string]interface{}{"content": part}); err != nil {
			return err
		}
	}
	return nil
}

type teamsAdapter struct{}

func buildAdaptiveCard(title, text string) map[string]interface{} {
	return map[string]interface{}{
		"type": "message",
		"attachments": []map[string]interface{}{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content": map[string]interface{}{
					"type":    "AdaptiveCard",
					"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
					"version": "1.5",
					"body": []map[string]interface{}{
						{"type": "TextBlock", "text": title, "weight": "Bolder", "size": "Medium"},
						{"type": "TextBlock", "text": text, "wrap": true},
					},
				},
			},
		},
	}
}

func (a *teamsAdapter) Send(ctx context.Context, client *http.Client, bot config.BotConfig, title, body string) error {
	return postJSON(ctx, client, bot.Webhook, buildAdaptiveCard(title, body))
}

type telegramAdapter struct{}

func (a *telegramAdapter) Send(ctx context.Context, client *http.Client, bot config.BotConfig, title, body string) error {
	if bot.Extra == "" {
		return fmt.Errorf("telegram chat_id is required in extra field")
	}
	for _, part := range splitMessage(markdownMessage(title, body), 4000) {
		payload := map[string]interface{}{
			"chat_id":    bot.Extra,
			"text":       part,
			"parse_mode": "Markdown",
		}
		if err := postJSON(ctx, client, bot.Webhook, payload); err != nil {
			return err
		}
	}
	return nil
}

type genericAdapter struct{}

func (a *genericAdapter) Send(ctx context.Context, client *http.Client, bot config.BotConfig, title, body string) error {
	payload := map[string]interface{}{
		"title": title,
		"text":  body,
	}
	return postJSON(ctx, client, bot.Webhook, payload)
}
