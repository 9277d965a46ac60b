package main

import (
	"log"
	"os"

	"github.com/alfanzaky/zkqueue/config"
	"github.com/alfanzaky/zkqueue/internal/cli"
	"github.com/alfanzaky/zkqueue/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// keep command output readable unless a level is requested
	level := cfg.App.LogLevel
	if level == "" {
		level = "warn"
	}
	logger.Init(cfg.App.Environment, level)
	defer logger.Close()

	if err := cli.Execute(cfg); err != nil {
		logger.Close()
		os.Exit(1)
	}
}
