package ports

import (
	"context"
	"errors"
	"time"

	"github.com/progscrape/progscrape/internal/domain"
)

// Sentinel errors surfaced by the driven adapters. Callers branch on
// these with errors.Is; everything else is treated as fatal for the
// operation that produced it.
var (
	// ErrNotFound: no story matched the lookup.
	ErrNotFound = errors.New("story not found")
	// ErrConflict: a conditional write lost a revision race.
	ErrConflict = errors.New("story revision conflict")
	// ErrIndexMissing: the store lacks an index required by the query
	// shape; the query should be abandoned, not retried.
	ErrIndexMissing = errors.New("store index missing")
	// ErrQuotaExceeded: the store or cache is rate limited.
	ErrQuotaExceeded = errors.New("store quota exceeded")
)

// Fetcher retrieves a raw document from an external source. The
// implementation attaches the scraper User-Agent and bounds each call
// with a deadline.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StoryStore persists story aggregates with field-equality and
// recency-range query support.
type StoryStore interface {
	// FindByURL returns the story for a canonical URL created at or
	// after since, or ErrNotFound.
	FindByURL(ctx context.Context, canonicalURL string, since time.Time) (*domain.Story, error)
	// Save writes a story conditionally on its revision, returning
	// ErrConflict when another writer got there first. On success the
	// story's revision is advanced in place.
	Save(ctx context.Context, story *domain.Story) error
	// Recent returns up to limit stories ordered by creation time,
	// newest first.
	Recent(ctx context.Context, limit int) ([]*domain.Story, error)
	// Search returns up to limit stories whose search tokens contain
	// every query token, newest first.
	Search(ctx context.Context, tokens []string, limit int) ([]*domain.Story, error)
}

// Cache is a best-effort key-value cache with per-entry TTL. Add is
// add-if-absent: it reports false and leaves the entry untouched when
// a live value already exists. Set overwrites unconditionally.
type Cache interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte, ttl time.Duration) bool
	Set(key string, value []byte, ttl time.Duration)
}

// Scheduler controls when scrape batches execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
