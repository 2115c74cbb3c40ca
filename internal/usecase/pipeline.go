package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/progscrape/progscrape/internal/scraper"
)

// Pipeline runs one scrape batch end to end: every registered source
// is scraped, the results are finalized, and the batch is folded into
// the story store.
type Pipeline struct {
	runner  *scraper.Runner
	stories *Stories
	logger  *slog.Logger
}

// NewPipeline constructs the ingestion pipeline.
func NewPipeline(runner *scraper.Runner, stories *Stories, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{runner: runner, stories: stories, logger: logger}
}

// RunOnce executes a single scrape-and-store cycle.
func (p *Pipeline) RunOnce(ctx context.Context, trigger time.Time) error {
	start := time.Now()

	items, err := p.runner.RunAll(ctx)
	if err != nil {
		return fmt.Errorf("scrape batch: %w", err)
	}

	if err := p.stories.Store(ctx, items); err != nil {
		return fmt.Errorf("store batch: %w", err)
	}

	p.logger.Info("scrape cycle finished",
		"trigger", trigger.Format(time.RFC3339),
		"items", len(items),
		"elapsed", time.Since(start))
	return nil
}
