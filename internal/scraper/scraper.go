// Package scraper defines the source adapter contract and runs scrape
// batches across all registered sources.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/urlnorm"
)

// Source captures a single adapter implementation (Reddit listing,
// Hacker News front page, Lobsters feed).
type Source interface {
	Name() domain.Source
	Scrape(ctx context.Context) ([]domain.ScrapedItem, error)
}

// Registry keeps a mapping from source names to their implementations.
type Registry struct {
	sources map[domain.Source]Source
	order   []domain.Source
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[domain.Source]Source{}}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(source Source) {
	if _, ok := r.sources[source.Name()]; !ok {
		r.order = append(r.order, source.Name())
	}
	r.sources[source.Name()] = source
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name domain.Source) (Source, error) {
	if source, ok := r.sources[name]; ok {
		return source, nil
	}
	return nil, fmt.Errorf("source %s is not registered", name)
}

// All returns the registered sources in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Runner executes scrape batches. Sources run concurrently; a failed
// source is logged and skipped without aborting the batch, but batch
// cancellation discards everything.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	return &Runner{registry: registry, logger: logger}
}

// RunAll scrapes every registered source and returns the combined,
// finalized items in registration order.
func (r *Runner) RunAll(ctx context.Context) ([]domain.ScrapedItem, error) {
	sources := r.registry.All()
	results := make([][]domain.ScrapedItem, len(sources))

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source Source) {
			defer wg.Done()
			items, err := source.Scrape(ctx)
			if err != nil {
				r.logger.Warn("source scrape failed", "source", source.Name(), "error", err)
				return
			}
			results[i] = Finalize(items, r.logger)
		}(i, source)
	}
	wg.Wait()

	// All-or-nothing per batch: a canceled batch returns no partial
	// results even if some sources finished.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var combined []domain.ScrapedItem
	for i, items := range results {
		r.logger.Info("source scraped", "source", sources[i].Name(), "items", len(items))
		combined = append(combined, items...)
	}
	return combined, nil
}

// Run scrapes a single source by name and finalizes the result.
func (r *Runner) Run(ctx context.Context, name domain.Source) ([]domain.ScrapedItem, error) {
	source, err := r.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	items, err := source.Scrape(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", name, err)
	}
	return Finalize(items, r.logger), nil
}

// Finalize post-processes one source's batch: every URL is
// canonicalized (a failure falls back to the raw URL rather than
// aborting the batch), duplicate canonical URLs are dropped keeping
// the first-seen instance, and titles are trimmed.
func Finalize(items []domain.ScrapedItem, logger *slog.Logger) []domain.ScrapedItem {
	seen := map[string]bool{}
	out := make([]domain.ScrapedItem, 0, len(items))
	for _, item := range items {
		url, err := urlnorm.Canonicalize(item.URL)
		if err != nil {
			logger.Debug("keeping raw url", "url", item.URL, "error", err)
			url = item.URL
		}
		if seen[url] {
			continue
		}
		seen[url] = true

		item.URL = url
		item.Title = strings.TrimSpace(item.Title)
		out = append(out, item)
	}
	return out
}
