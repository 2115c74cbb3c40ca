package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/progscrape/progscrape/internal/app"
	"github.com/progscrape/progscrape/internal/config"
	"github.com/progscrape/progscrape/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application startup failed", "error", err)
		os.Exit(1)
	}

	// "progscrape search [query]" prints the ranked stories once and
	// exits; without arguments the scrape scheduler runs until
	// interrupted.
	if len(os.Args) > 1 && os.Args[1] == "search" {
		query := strings.Join(os.Args[2:], " ")
		stories, err := application.Stories().Load(ctx, query)
		if err != nil {
			logger.Error("story load failed", "error", err)
			os.Exit(1)
		}
		for _, story := range stories {
			fmt.Printf("%s\n  %s\n  [%s]\n", story.Title, story.CanonicalURL, strings.Join(story.Tags, ", "))
		}
		if err := application.Shutdown(ctx); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
		return
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
