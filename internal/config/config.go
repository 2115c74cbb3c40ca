package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv  = "PROGSCRAPE_CONFIG"
	databaseDSNEnv = "DATABASE_DSN"
	mongoURIEnv    = "MONGO_URI"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Stories   StoriesConfig   `yaml:"stories"`
	Sources   SourcesConfig   `yaml:"sources"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// FetchConfig describes outbound document fetches.
type FetchConfig struct {
	UserAgent   string        `yaml:"userAgent"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxBodySize int64         `yaml:"maxBodySize"`
}

// StoreConfig selects and configures the story store backend.
type StoreConfig struct {
	// Backend is "mongo" or "postgres".
	Backend string `yaml:"backend"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
	// MongoURI and MongoDatabase configure the Mongo backend.
	MongoURI      string `yaml:"mongoUri"`
	MongoDatabase string `yaml:"mongoDatabase"`
	// MergeWindowDays bounds how far back a new sighting merges into
	// an existing story for the same canonical URL.
	MergeWindowDays int `yaml:"mergeWindowDays"`
}

// MergeWindow resolves the merge window as a duration.
func (s StoreConfig) MergeWindow() time.Duration {
	days := s.MergeWindowDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// CacheConfig sizes the in-memory cache and sets the TTLs used by the
// stories service. SeenTTL is deliberately independent from the merge
// window.
type CacheConfig struct {
	Entries      int           `yaml:"entries"`
	SeenTTL      time.Duration `yaml:"seenTtl"`
	FrontPageTTL time.Duration `yaml:"frontPageTtl"`
	SearchTTL    time.Duration `yaml:"searchTtl"`
	LastDitchTTL time.Duration `yaml:"lastDitchTtl"`
}

// StoriesConfig bounds story loads.
type StoriesConfig struct {
	FetchCount  int `yaml:"fetchCount"`
	SearchCount int `yaml:"searchCount"`
	MaxUpgrades int `yaml:"maxUpgrades"`
}

// SourcesConfig groups per-source scraper settings.
type SourcesConfig struct {
	RedditProg RedditConfig     `yaml:"redditProg"`
	RedditTech RedditConfig     `yaml:"redditTech"`
	HackerNews HackerNewsConfig `yaml:"hackerNews"`
	Lobsters   LobstersConfig   `yaml:"lobsters"`
}

// RedditConfig describes one multi-subreddit listing scrape.
type RedditConfig struct {
	Subreddits []string `yaml:"subreddits"`
	// TaggedSubreddits is the allow-list of subreddits whose name is
	// emitted as a story tag.
	TaggedSubreddits []string `yaml:"taggedSubreddits"`
	// FlairSubreddits emit their link flair as a tag when it has no
	// whitespace.
	FlairSubreddits []string `yaml:"flairSubreddits"`
	Limit           int      `yaml:"limit"`
	MinScore        int      `yaml:"minScore"`
}

// HackerNewsConfig points at the front-page listing.
type HackerNewsConfig struct {
	URL string `yaml:"url"`
}

// LobstersConfig points at the RSS feed.
type LobstersConfig struct {
	FeedURL string `yaml:"feedUrl"`
}

// SchedulerConfig defines how often scrape batches run.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(mongoURIEnv); v != "" {
		c.Store.MongoURI = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Fetch.UserAgent != "" {
		base.Fetch.UserAgent = override.Fetch.UserAgent
	}
	if override.Fetch.Timeout > 0 {
		base.Fetch.Timeout = override.Fetch.Timeout
	}
	if override.Fetch.MaxBodySize > 0 {
		base.Fetch.MaxBodySize = override.Fetch.MaxBodySize
	}

	if override.Store.Backend != "" {
		base.Store.Backend = override.Store.Backend
	}
	if override.Store.DSN != "" {
		base.Store.DSN = override.Store.DSN
	}
	if override.Store.MongoURI != "" {
		base.Store.MongoURI = override.Store.MongoURI
	}
	if override.Store.MongoDatabase != "" {
		base.Store.MongoDatabase = override.Store.MongoDatabase
	}
	if override.Store.MergeWindowDays > 0 {
		base.Store.MergeWindowDays = override.Store.MergeWindowDays
	}

	if override.Cache.Entries > 0 {
		base.Cache.Entries = override.Cache.Entries
	}
	if override.Cache.SeenTTL > 0 {
		base.Cache.SeenTTL = override.Cache.SeenTTL
	}
	if override.Cache.FrontPageTTL > 0 {
		base.Cache.FrontPageTTL = override.Cache.FrontPageTTL
	}
	if override.Cache.SearchTTL > 0 {
		base.Cache.SearchTTL = override.Cache.SearchTTL
	}
	if override.Cache.LastDitchTTL > 0 {
		base.Cache.LastDitchTTL = override.Cache.LastDitchTTL
	}

	if override.Stories.FetchCount > 0 {
		base.Stories.FetchCount = override.Stories.FetchCount
	}
	if override.Stories.SearchCount > 0 {
		base.Stories.SearchCount = override.Stories.SearchCount
	}
	if override.Stories.MaxUpgrades > 0 {
		base.Stories.MaxUpgrades = override.Stories.MaxUpgrades
	}

	if len(override.Sources.RedditProg.Subreddits) > 0 {
		base.Sources.RedditProg = override.Sources.RedditProg
	}
	if len(override.Sources.RedditTech.Subreddits) > 0 {
		base.Sources.RedditTech = override.Sources.RedditTech
	}
	if override.Sources.HackerNews.URL != "" {
		base.Sources.HackerNews = override.Sources.HackerNews
	}
	if override.Sources.Lobsters.FeedURL != "" {
		base.Sources.Lobsters = override.Sources.Lobsters
	}

	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Fetch: FetchConfig{
			UserAgent:   "progscrape feed fetcher (+https://progscrape.com)",
			Timeout:     20 * time.Second,
			MaxBodySize: 4 << 20,
		},
		Store: StoreConfig{
			Backend:         "mongo",
			MongoURI:        "mongodb://localhost:27017",
			MongoDatabase:   "progscrape",
			MergeWindowDays: 30,
		},
		Cache: CacheConfig{
			Entries:      4096,
			SeenTTL:      24 * time.Hour,
			FrontPageTTL: 10 * time.Minute,
			SearchTTL:    time.Hour,
			LastDitchTTL: 24 * time.Hour,
		},
		Stories: StoriesConfig{
			FetchCount:  150,
			SearchCount: 25,
			MaxUpgrades: 10,
		},
		Sources: SourcesConfig{
			RedditProg: RedditConfig{
				Subreddits: []string{
					"programming", "compsci", "csbooks", "types", "systems",
					"compilers", "llvm", "rust", "golang", "appengine",
					"javascript", "python", "java",
				},
				TaggedSubreddits: []string{
					"compilers", "llvm", "rust", "golang", "appengine",
					"javascript", "python", "java",
				},
				Limit:    100,
				MinScore: 10,
			},
			RedditTech: RedditConfig{
				Subreddits:      []string{"technology", "science"},
				FlairSubreddits: []string{"science"},
				Limit:           25,
				MinScore:        10,
			},
			HackerNews: HackerNewsConfig{URL: "https://news.ycombinator.com/"},
			Lobsters:   LobstersConfig{FeedURL: "https://lobste.rs/rss"},
		},
		Scheduler: SchedulerConfig{Interval: 30 * time.Minute},
	}
}
