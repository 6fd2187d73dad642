// Command escalation_agent drafts escalation emails for overdue urgent
// issues once and exits. Meant for an external cron.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civictriage/backend/internal/app"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	timeout := flag.Duration("timeout", 30*time.Minute, "maximum run time")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize services: %v", err)
	}
	defer c.Close()

	ctx, cancel := app.RunTimeout(ctx, *timeout)
	defer cancel()

	outcome, err := c.Escalation.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("[Escalation] Run failed")
		c.Close()
		os.Exit(1)
	}
	logger.Info().
		Int("selected", outcome.Selected).
		Int("processed", outcome.Processed).
		Int("failed", outcome.Failed).
		Msg("[Escalation] Done")
}
