package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Store.Backend != "mongo" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.MergeWindow() != 30*24*time.Hour {
		t.Fatalf("merge window = %v", cfg.Store.MergeWindow())
	}
	if cfg.Stories.FetchCount != 150 || cfg.Stories.SearchCount != 25 {
		t.Fatalf("unexpected story counts: %+v", cfg.Stories)
	}
	if len(cfg.Sources.RedditProg.Subreddits) == 0 {
		t.Fatalf("default subreddits missing")
	}
	if cfg.Fetch.UserAgent == "" {
		t.Fatalf("default user agent missing")
	}
}

func TestFileOverridesMergeWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
store:
  backend: postgres
  mergeWindowDays: 7
stories:
  fetchCount: 50
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PROGSCRAPE_CONFIG", path)

	cfg := Load()
	if cfg.Store.Backend != "postgres" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.MergeWindow() != 7*24*time.Hour {
		t.Fatalf("merge window = %v", cfg.Store.MergeWindow())
	}
	if cfg.Stories.FetchCount != 50 {
		t.Fatalf("fetch count = %d", cfg.Stories.FetchCount)
	}
	// Untouched sections keep their defaults.
	if cfg.Stories.SearchCount != 25 {
		t.Fatalf("search count = %d", cfg.Stories.SearchCount)
	}
	if cfg.Sources.HackerNews.URL == "" {
		t.Fatalf("hacker news url lost in merge")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://env-dsn")
	t.Setenv("MONGO_URI", "mongodb://env-host:27017")

	cfg := Load()
	if cfg.Store.DSN != "postgres://env-dsn" {
		t.Fatalf("dsn = %q", cfg.Store.DSN)
	}
	if cfg.Store.MongoURI != "mongodb://env-host:27017" {
		t.Fatalf("mongo uri = %q", cfg.Store.MongoURI)
	}
}
