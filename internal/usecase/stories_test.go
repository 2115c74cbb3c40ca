package usecase

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/ports"
	"github.com/progscrape/progscrape/internal/search"
	"github.com/progscrape/progscrape/internal/tags"
)

type fakeStore struct {
	stories map[string]*domain.Story

	findErr   error
	recentErr error
	searchErr error
	conflicts int

	recentCalls int
	searchCalls int
	saves       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{stories: map[string]*domain.Story{}}
}

func cloneStory(s *domain.Story) *domain.Story {
	c := *s
	c.Scrapes = append([]domain.ScrapedItem(nil), s.Scrapes...)
	c.Tags = append([]string(nil), s.Tags...)
	c.SearchTokens = append([]string(nil), s.SearchTokens...)
	return &c
}

func (f *fakeStore) FindByURL(_ context.Context, url string, since time.Time) (*domain.Story, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	s, ok := f.stories[url]
	if !ok || s.CreatedAt.Before(since) {
		return nil, ports.ErrNotFound
	}
	return cloneStory(s), nil
}

func (f *fakeStore) Save(_ context.Context, story *domain.Story) error {
	f.saves++
	if f.conflicts > 0 {
		f.conflicts--
		return ports.ErrConflict
	}
	existing := f.stories[story.CanonicalURL]
	if story.Rev == 0 {
		if existing != nil {
			return ports.ErrConflict
		}
		story.Rev = 1
		f.stories[story.CanonicalURL] = cloneStory(story)
		return nil
	}
	if existing == nil || existing.Rev != story.Rev {
		return ports.ErrConflict
	}
	story.Rev++
	f.stories[story.CanonicalURL] = cloneStory(story)
	return nil
}

func (f *fakeStore) Recent(_ context.Context, limit int) ([]*domain.Story, error) {
	f.recentCalls++
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.collect(limit, func(*domain.Story) bool { return true }), nil
}

func (f *fakeStore) Search(_ context.Context, tokens []string, limit int) ([]*domain.Story, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.collect(limit, func(s *domain.Story) bool {
		return search.Match(s.SearchTokens, tokens)
	}), nil
}

func (f *fakeStore) collect(limit int, keep func(*domain.Story) bool) []*domain.Story {
	var out []*domain.Story
	for _, s := range f.stories {
		if keep(s) {
			out = append(out, cloneStory(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type fakeCache struct {
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (f *fakeCache) Get(key string) ([]byte, bool) {
	v, ok := f.entries[key]
	return v, ok
}

func (f *fakeCache) Add(key string, value []byte, _ time.Duration) bool {
	if _, ok := f.entries[key]; ok {
		return false
	}
	f.entries[key] = value
	return true
}

func (f *fakeCache) Set(key string, value []byte, _ time.Duration) {
	f.entries[key] = value
}

func newTestStories(t *testing.T, store *fakeStore, cache *fakeCache) *Stories {
	t.Helper()
	taxonomy, err := tags.Default()
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	return NewStories(StoriesDeps{
		Store:   store,
		Cache:   cache,
		Indexer: search.NewIndexer(taxonomy),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func item(source domain.Source, id, url, title string, rank int) domain.ScrapedItem {
	return domain.ScrapedItem{Source: source, ExternalID: id, URL: url, Title: title, Rank: rank}
}

func TestStoreCreatesStory(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())

	err := svc.Store(context.Background(), []domain.ScrapedItem{
		item(domain.SourceHackerNews, "1", "http://example.com/a", "Go Story", 1),
	})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}

	s := store.stories["http://example.com/a"]
	if s == nil {
		t.Fatalf("story not persisted")
	}
	if s.Rev != 1 || s.Title != "Go Story" || len(s.SearchTokens) == 0 {
		t.Fatalf("unexpected story: %+v", s)
	}
}

func TestStoreSkipsSeenSightings(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())

	batch := []domain.ScrapedItem{
		item(domain.SourceHackerNews, "1", "http://example.com/a", "Go Story", 1),
	}
	if err := svc.Store(context.Background(), batch); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	saves := store.saves

	// The same sighting inside the seen window is a no-op.
	if err := svc.Store(context.Background(), batch); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if store.saves != saves {
		t.Fatalf("repeat sighting should not hit the store")
	}
}

func TestStoreMergesSources(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())
	ctx := context.Background()

	if err := svc.Store(ctx, []domain.ScrapedItem{
		item(domain.SourceRedditProg, "r1", "http://example.com/a", "Reddit title", 5),
	}); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if err := svc.Store(ctx, []domain.ScrapedItem{
		item(domain.SourceHackerNews, "h1", "http://example.com/a", "HN title", 2),
	}); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	s := store.stories["http://example.com/a"]
	if len(s.Scrapes) != 2 {
		t.Fatalf("expected merged scrapes, got %+v", s.Scrapes)
	}
	if s.Title != "HN title" {
		t.Fatalf("title = %q, want the hacker news title", s.Title)
	}
	if s.Rev != 2 {
		t.Fatalf("rev = %d, want 2", s.Rev)
	}
}

func TestStoreCanonicalizesURLs(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())
	ctx := context.Background()

	if err := svc.Store(ctx, []domain.ScrapedItem{
		item(domain.SourceRedditProg, "r1", "HTTP://Example.com:80/a", "One", 5),
	}); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if err := svc.Store(ctx, []domain.ScrapedItem{
		item(domain.SourceLobsters, "l1", "http://example.com/a", "Two", 2),
	}); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	s := store.stories["http://example.com/a"]
	if s == nil || len(s.Scrapes) != 2 {
		t.Fatalf("equivalent urls should merge into one story: %+v", store.stories)
	}
}

func TestStoreDropsUncanonicalizableURLs(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())

	err := svc.Store(context.Background(), []domain.ScrapedItem{
		item(domain.SourceHackerNews, "1", "not a url", "Broken", 1),
	})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if len(store.stories) != 0 {
		t.Fatalf("invalid urls must not be persisted: %+v", store.stories)
	}
}

func TestStoreRetriesOnceOnConflict(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.conflicts = 1
	svc := newTestStories(t, store, newFakeCache())

	err := svc.Store(context.Background(), []domain.ScrapedItem{
		item(domain.SourceHackerNews, "1", "http://example.com/a", "Go Story", 1),
	})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if store.stories["http://example.com/a"] == nil {
		t.Fatalf("story should be persisted on the retry")
	}
	if store.saves != 2 {
		t.Fatalf("saves = %d, want 2", store.saves)
	}
}

func TestStoreDropsItemsOverQuota(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.findErr = ports.ErrQuotaExceeded
	svc := newTestStories(t, store, newFakeCache())

	err := svc.Store(context.Background(), []domain.ScrapedItem{
		item(domain.SourceHackerNews, "1", "http://example.com/a", "Go Story", 1),
	})
	if err != nil {
		t.Fatalf("quota exhaustion should drop items, not fail the batch: %v", err)
	}
	if len(store.stories) != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestLoadFrontPageSortsAndCaches(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cache := newFakeCache()
	svc := newTestStories(t, store, cache)
	ctx := context.Background()

	now := time.Now()
	old := domain.NewStory("http://example.com/old", now.Add(-40*time.Hour))
	fresh := domain.NewStory("http://example.com/fresh", now.Add(-30*time.Minute))
	for _, s := range []*domain.Story{old, fresh} {
		s.AddScrape(item(domain.SourceHackerNews, s.CanonicalURL, s.CanonicalURL, "Title for "+s.CanonicalURL, 5), svc.indexer)
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	stories, err := svc.Load(ctx, "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(stories) != 2 {
		t.Fatalf("expected 2 stories, got %d", len(stories))
	}
	if stories[0].CanonicalURL != "http://example.com/fresh" {
		t.Fatalf("fresh story should rank first, got %s", stories[0].CanonicalURL)
	}

	// Second load is served from the cache.
	if _, err := svc.Load(ctx, ""); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if store.recentCalls != 1 {
		t.Fatalf("recent calls = %d, want 1", store.recentCalls)
	}
}

func TestLoadWithIgnoreCache(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())
	ctx := context.Background()

	s := domain.NewStory("http://example.com/a", time.Now())
	s.AddScrape(item(domain.SourceHackerNews, "1", "http://example.com/a", "A story", 1), svc.indexer)
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Load(ctx, ""); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, err := svc.LoadWith(ctx, "", LoadOptions{IgnoreCache: true}); err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if store.recentCalls != 2 {
		t.Fatalf("recent calls = %d, want the cache to be bypassed", store.recentCalls)
	}
}

func TestLoadSearch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())
	ctx := context.Background()

	goStory := domain.NewStory("http://example.com/go", time.Now())
	goStory.AddScrape(item(domain.SourceHackerNews, "1", "http://example.com/go", "Concurrency in Go", 3), svc.indexer)
	rustStory := domain.NewStory("http://example.com/rust", time.Now())
	rustStory.AddScrape(item(domain.SourceHackerNews, "2", "http://example.com/rust", "Rust borrow checker", 4), svc.indexer)
	for _, s := range []*domain.Story{goStory, rustStory} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	stories, err := svc.Load(ctx, "golang")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(stories) != 1 || stories[0].CanonicalURL != "http://example.com/go" {
		t.Fatalf("unexpected search result: %+v", stories)
	}
}

func TestLoadSearchMissingIndex(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.searchErr = ports.ErrIndexMissing
	svc := newTestStories(t, store, newFakeCache())

	stories, err := svc.Load(context.Background(), "rust")
	if err != nil {
		t.Fatalf("missing index should serve empty, got error: %v", err)
	}
	if len(stories) != 0 {
		t.Fatalf("expected no stories, got %d", len(stories))
	}
}

func TestLoadQuotaServesLastDitch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cache := newFakeCache()
	svc := newTestStories(t, store, cache)
	ctx := context.Background()

	s := domain.NewStory("http://example.com/a", time.Now())
	s.AddScrape(item(domain.SourceHackerNews, "1", "http://example.com/a", "A story", 1), svc.indexer)
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Prime the front page, then let it expire while the last-ditch
	// snapshot remains.
	if _, err := svc.Load(ctx, ""); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	delete(cache.entries, "frontpage")

	store.recentErr = ports.ErrQuotaExceeded
	stories, err := svc.Load(ctx, "")
	if err != nil {
		t.Fatalf("expected last-ditch snapshot, got error: %v", err)
	}
	if len(stories) != 1 || stories[0].CanonicalURL != "http://example.com/a" {
		t.Fatalf("unexpected snapshot: %+v", stories)
	}
}

func TestLoadQuotaWithoutSnapshotFails(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.recentErr = ports.ErrQuotaExceeded
	svc := newTestStories(t, store, newFakeCache())

	if _, err := svc.Load(context.Background(), ""); err == nil {
		t.Fatalf("expected an error when no snapshot exists")
	}
}

func TestLoadFiltersNonEnglish(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())
	ctx := context.Background()

	english := domain.NewStory("http://example.com/en", time.Now())
	english.AddScrape(item(domain.SourceHackerNews, "1", "http://example.com/en", "An english title", 1), svc.indexer)
	other := domain.NewStory("http://example.com/ru", time.Now())
	other.AddScrape(item(domain.SourceHackerNews, "2", "http://example.com/ru", "Заголовок на русском", 2), svc.indexer)
	for _, s := range []*domain.Story{english, other} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	stories, err := svc.Load(ctx, "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(stories) != 1 || stories[0].CanonicalURL != "http://example.com/en" {
		t.Fatalf("non-english stories should be filtered: %+v", stories)
	}
}

func TestLoadUpgradesStaleStories(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestStories(t, store, newFakeCache())
	ctx := context.Background()

	s := domain.NewStory("http://example.com/a", time.Now())
	s.AddScrape(item(domain.SourceHackerNews, "1", "http://example.com/a", "A story", 1), svc.indexer)
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Simulate a story written under an older schema.
	store.stories["http://example.com/a"].SchemaVersion = domain.CurrentSchemaVersion - 1

	stories, err := svc.Load(ctx, "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if stories[0].SchemaVersion != domain.CurrentSchemaVersion {
		t.Fatalf("stale story should be reindexed on load")
	}
	if store.stories["http://example.com/a"].SchemaVersion != domain.CurrentSchemaVersion {
		t.Fatalf("upgrade should be persisted")
	}
}
