// Command summarization_agent writes one trend bulletin for the trailing
// window and exits. Every run appends a new row.
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
	timeout := flag.Duration("timeout", 10*time.Minute, "maximum run time")
	notify := flag.Bool("notify", false, "post the bulletin to the configured chat bots")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if *notify {
		cfg.Summary.Notify = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize services: %v", err)
	}
	defer c.Close()

	ctx, cancel := app.RunTimeout(ctx, *timeout)
	defer cancel()

	outcome, err := c.Summary.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("[Summary] Run failed")
		c.Close()
		os.Exit(1)
	}
	if outcome.Skipped {
		logger.Info().Msg("[Summary] No issues in window, nothing written")
		return
	}
	logger.Info().
		Int("issues", outcome.IssueCount).
		Uint("summary_id", outcome.Summary.ID).
		Bool("notified", outcome.Notified).
		Msg("[Summary] Done")
}
