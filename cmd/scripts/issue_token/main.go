// Command issue_token prints a signed officer token for local development.
// Production tokens come from the identity provider.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/utils"
	"github.com/civictriage/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	officer := flag.String("officer", "officer-1", "officer id")
	name := flag.String("name", "Duty Officer", "display name")
	role := flag.String("role", "officer", "role claim")
	hours := flag.Int("hours", 12, "validity in hours")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	token, err := utils.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer).GenerateToken(*officer, *name, *role, *hours)
	if err != nil {
		logger.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
