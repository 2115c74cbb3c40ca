// Package usecase implements the ingestion and serving workflows on
// top of the driven adapters.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/ports"
	"github.com/progscrape/progscrape/internal/score"
	"github.com/progscrape/progscrape/internal/search"
	"github.com/progscrape/progscrape/internal/urlnorm"
)

const (
	frontPageKey = "frontpage"
	lastDitchKey = "lastditch"
)

// StoriesDeps wires the driven adapters and tuning knobs into the
// stories service.
type StoriesDeps struct {
	Store   ports.StoryStore
	Cache   ports.Cache
	Indexer *search.Indexer
	Logger  *slog.Logger

	// MergeWindow bounds how far back a sighting merges into an
	// existing story for the same canonical URL.
	MergeWindow time.Duration
	// SeenTTL suppresses re-processing of a source sighting.
	SeenTTL      time.Duration
	FrontPageTTL time.Duration
	SearchTTL    time.Duration
	// LastDitchTTL keeps a stale front page around to serve when the
	// store is over quota.
	LastDitchTTL time.Duration

	FetchCount  int
	SearchCount int
	// MaxUpgrades caps how many stale stories a single load reindexes.
	MaxUpgrades int
}

// Stories ingests scrape batches into the store and serves ranked
// front-page and search views.
type Stories struct {
	store   ports.StoryStore
	cache   ports.Cache
	indexer *search.Indexer
	logger  *slog.Logger

	mergeWindow  time.Duration
	seenTTL      time.Duration
	frontPageTTL time.Duration
	searchTTL    time.Duration
	lastDitchTTL time.Duration

	fetchCount  int
	searchCount int
	maxUpgrades int

	now func() time.Time
}

// NewStories constructs the service, applying defaults for unset knobs.
func NewStories(deps StoriesDeps) *Stories {
	s := &Stories{
		store:        deps.Store,
		cache:        deps.Cache,
		indexer:      deps.Indexer,
		logger:       deps.Logger,
		mergeWindow:  deps.MergeWindow,
		seenTTL:      deps.SeenTTL,
		frontPageTTL: deps.FrontPageTTL,
		searchTTL:    deps.SearchTTL,
		lastDitchTTL: deps.LastDitchTTL,
		fetchCount:   deps.FetchCount,
		searchCount:  deps.SearchCount,
		maxUpgrades:  deps.MaxUpgrades,
		now:          time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mergeWindow <= 0 {
		s.mergeWindow = 30 * 24 * time.Hour
	}
	if s.seenTTL <= 0 {
		s.seenTTL = 24 * time.Hour
	}
	if s.frontPageTTL <= 0 {
		s.frontPageTTL = 10 * time.Minute
	}
	if s.searchTTL <= 0 {
		s.searchTTL = time.Hour
	}
	if s.lastDitchTTL <= 0 {
		s.lastDitchTTL = 24 * time.Hour
	}
	if s.fetchCount <= 0 {
		s.fetchCount = 150
	}
	if s.searchCount <= 0 {
		s.searchCount = 25
	}
	if s.maxUpgrades <= 0 {
		s.maxUpgrades = 10
	}
	return s
}

// Store folds a scrape batch into the story store. Each sighting is
// processed at most once per seen window, merges into an existing
// story for the same canonical URL when one was created recently
// enough, and otherwise starts a new story. Per-item failures are
// logged and skipped so one bad sighting cannot sink the batch.
func (s *Stories) Store(ctx context.Context, items []domain.ScrapedItem) error {
	now := s.now().UTC()
	since := now.Add(-s.mergeWindow)
	stored, skipped := 0, 0

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		url, err := urlnorm.Canonicalize(item.URL)
		if err != nil {
			s.logger.Debug("dropping uncanonicalizable url", "url", item.URL, "error", err)
			skipped++
			continue
		}
		item.URL = url

		seenKey := fmt.Sprintf("seen/%s/%s", item.Source, item.ExternalID)
		if _, seen := s.cache.Get(seenKey); seen {
			skipped++
			continue
		}

		if err := s.storeItem(ctx, item, now, since); err != nil {
			s.logger.Warn("dropping scrape", "source", item.Source, "url", item.URL, "error", err)
			continue
		}
		// Marked only after the save so a dropped item is retried on
		// the next batch.
		s.cache.Add(seenKey, []byte{1}, s.seenTTL)
		stored++
	}

	s.logger.Info("scrape batch stored", "items", len(items), "stored", stored, "skipped", skipped)
	return nil
}

// storeItem merges one sighting, retrying once when a concurrent
// writer wins the revision race.
func (s *Stories) storeItem(ctx context.Context, item domain.ScrapedItem, now, since time.Time) error {
	for attempt := 0; attempt < 2; attempt++ {
		story, err := s.store.FindByURL(ctx, item.URL, since)
		if errors.Is(err, ports.ErrNotFound) {
			story = domain.NewStory(item.URL, now)
		} else if err != nil {
			return err
		}

		story.AddScrape(item, s.indexer)

		err = s.store.Save(ctx, story)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ports.ErrConflict) {
			return err
		}
	}
	return ports.ErrConflict
}

// LoadOptions tune a single Load call.
type LoadOptions struct {
	// IgnoreCache bypasses the read side of the result cache; the
	// fresh result is still written back.
	IgnoreCache bool
	// ForceUpdate reindexes every stale story in the result instead
	// of the usual bounded number.
	ForceUpdate bool
}

// Load serves the ranked front page (empty query) or a search result.
// Results are cached, filtered to english titles, sorted by score, and
// a bounded number of stale stories are reindexed along the way.
func (s *Stories) Load(ctx context.Context, query string) ([]*domain.Story, error) {
	return s.LoadWith(ctx, query, LoadOptions{})
}

// LoadWith is Load with explicit cache and reindex controls.
func (s *Stories) LoadWith(ctx context.Context, query string, opts LoadOptions) ([]*domain.Story, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.load(ctx, frontPageKey, s.frontPageTTL, true, opts, func() ([]*domain.Story, error) {
			return s.store.Recent(ctx, s.fetchCount)
		})
	}

	tokens := s.indexer.GenerateQueryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	key := "search/" + strings.Join(tokens, " ")
	return s.load(ctx, key, s.searchTTL, false, opts, func() ([]*domain.Story, error) {
		return s.store.Search(ctx, tokens, s.searchCount)
	})
}

func (s *Stories) load(ctx context.Context, key string, ttl time.Duration, frontPage bool, opts LoadOptions, fetch func() ([]*domain.Story, error)) ([]*domain.Story, error) {
	if raw, ok := s.cache.Get(key); ok && !opts.IgnoreCache {
		stories, err := decodeStories(raw)
		if err == nil {
			return stories, nil
		}
		s.logger.Warn("discarding bad cache entry", "key", key, "error", err)
	}

	stories, err := fetch()
	switch {
	case errors.Is(err, ports.ErrIndexMissing):
		s.logger.Warn("store index missing, serving empty result", "key", key)
		return nil, nil
	case errors.Is(err, ports.ErrQuotaExceeded):
		return s.lastDitch(err)
	case err != nil:
		return nil, fmt.Errorf("load stories: %w", err)
	}

	stories = s.prepare(ctx, stories, opts.ForceUpdate)

	if raw, err := json.Marshal(stories); err == nil {
		s.cache.Set(key, raw, ttl)
		if frontPage {
			s.cache.Set(lastDitchKey, raw, s.lastDitchTTL)
		}
	}
	return stories, nil
}

// prepare filters, lazily upgrades, and ranks a fetched story set.
func (s *Stories) prepare(ctx context.Context, stories []*domain.Story, forceUpdate bool) []*domain.Story {
	kept := make([]*domain.Story, 0, len(stories))
	for _, story := range stories {
		if story.IsEnglish() {
			kept = append(kept, story)
		}
	}

	upgrades := 0
	for _, story := range kept {
		if story.SchemaVersion == domain.CurrentSchemaVersion {
			continue
		}
		if !forceUpdate && upgrades >= s.maxUpgrades {
			break
		}
		upgrades++
		story.Reindex(s.indexer)
		if err := s.store.Save(ctx, story); err != nil {
			s.logger.Warn("story upgrade not persisted", "url", story.CanonicalURL, "error", err)
		}
	}

	now := s.now()
	sortByScore(kept, now)
	return kept
}

// lastDitch serves the most recent front page snapshot when the store
// is over quota, preferring stale content over an error page.
func (s *Stories) lastDitch(cause error) ([]*domain.Story, error) {
	raw, ok := s.cache.Get(lastDitchKey)
	if !ok {
		return nil, fmt.Errorf("load stories: %w", cause)
	}
	stories, err := decodeStories(raw)
	if err != nil {
		return nil, fmt.Errorf("load stories: %w", cause)
	}
	s.logger.Warn("store over quota, serving last-ditch snapshot", "stories", len(stories))
	return stories, nil
}

func decodeStories(raw []byte) ([]*domain.Story, error) {
	var stories []*domain.Story
	if err := json.Unmarshal(raw, &stories); err != nil {
		return nil, err
	}
	return stories, nil
}

// sortByScore orders stories best-first. The sort is stable so stories
// with equal scores keep their store order.
func sortByScore(stories []*domain.Story, now time.Time) {
	scores := make(map[*domain.Story]float64, len(stories))
	for _, story := range stories {
		scores[story] = score.Story(story, now).Sum
	}
	sort.SliceStable(stories, func(i, j int) bool {
		return scores[stories[i]] > scores[stories[j]]
	})
}
