package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/pkg/logger"
)

// Notifier posts officer bulletins to the configured chat webhooks.
type Notifier struct {
	bots   []config.BotConfig
	client *http.Client
}

func NewNotifier(cfg config.NotificationConfig) *Notifier {
	return &Notifier{
		bots:   cfg.Bots,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && len(n.bots) > 0
}

// Notify sends to every bot. One bot failing does not stop the others; all
// failures are returned joined.
func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	if !n.Enabled() {
		return nil
	}
	var errs []error
	for _, bot := range n.bots {
		if bot.Webhook == "" {
			continue
		}
		if err := getAdapter(bot.Type).Send(ctx, n.client, bot, title, body); err != nil {
			logger.Warn().Err(err).Str("bot", bot.Name).Str("type", bot.Type).Msg("[Notification] Send failed")
			errs = append(errs, fmt.Errorf("%s: %w", bot.Name, err))
			continue
		}
		logger.Info().Str("bot", bot.Name).Msg("[Notification] Sent")
	}
	return errors.Join(errs...)
}
