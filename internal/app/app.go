// Package app wires configuration into the assembled application.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/progscrape/progscrape/internal/config"
	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/infrastructure/cache"
	"github.com/progscrape/progscrape/internal/infrastructure/fetch"
	"github.com/progscrape/progscrape/internal/infrastructure/scheduler"
	"github.com/progscrape/progscrape/internal/infrastructure/sources"
	"github.com/progscrape/progscrape/internal/infrastructure/storage"
	"github.com/progscrape/progscrape/internal/logging"
	"github.com/progscrape/progscrape/internal/ports"
	"github.com/progscrape/progscrape/internal/scraper"
	"github.com/progscrape/progscrape/internal/search"
	"github.com/progscrape/progscrape/internal/tags"
	"github.com/progscrape/progscrape/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	stories   *usecase.Stories
	scheduler *usecase.Scheduler
	cleanup   func(context.Context) error
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	taxonomy, err := tags.Default()
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	indexer := search.NewIndexer(taxonomy)

	fetcher := fetch.New(cfg.Fetch, nil)

	registry := scraper.NewRegistry()
	registry.Register(sources.NewHackerNews(fetcher, cfg.Sources.HackerNews,
		baseLogger.With("component", "source.hackernews")))
	registry.Register(sources.NewLobsters(fetcher, cfg.Sources.Lobsters,
		baseLogger.With("component", "source.lobsters")))
	registry.Register(sources.NewReddit(fetcher, domain.SourceRedditProg, cfg.Sources.RedditProg,
		baseLogger.With("component", "source.reddit.prog")))
	registry.Register(sources.NewReddit(fetcher, domain.SourceRedditTech, cfg.Sources.RedditTech,
		baseLogger.With("component", "source.reddit.tech")))

	runner := scraper.NewRunner(registry, baseLogger.With("component", "scraper"))

	store, cleanup, err := newStore(ctx, cfg.Store, baseLogger.With("component", "store"))
	if err != nil {
		return nil, err
	}

	memCache, err := cache.NewMemory(cfg.Cache.Entries)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	stories := usecase.NewStories(usecase.StoriesDeps{
		Store:        store,
		Cache:        memCache,
		Indexer:      indexer,
		Logger:       baseLogger.With("component", "stories"),
		MergeWindow:  cfg.Store.MergeWindow(),
		SeenTTL:      cfg.Cache.SeenTTL,
		FrontPageTTL: cfg.Cache.FrontPageTTL,
		SearchTTL:    cfg.Cache.SearchTTL,
		LastDitchTTL: cfg.Cache.LastDitchTTL,
		FetchCount:   cfg.Stories.FetchCount,
		SearchCount:  cfg.Stories.SearchCount,
		MaxUpgrades:  cfg.Stories.MaxUpgrades,
	})

	pipeline := usecase.NewPipeline(runner, stories, baseLogger.With("component", "pipeline"))
	sched := usecase.NewScheduler(
		scheduler.NewInterval(cfg.Scheduler.Interval),
		pipeline,
		baseLogger.With("component", "scheduler"),
	)

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		stories:   stories,
		scheduler: sched,
		cleanup:   cleanup,
	}, nil
}

// Stories exposes the ranked story service for embedding surfaces.
func (a *Application) Stories() *usecase.Stories {
	return a.stories
}

// Run starts the scrape scheduler and blocks until the context is
// canceled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Shutdown stops the scheduler and releases store connections.
func (a *Application) Shutdown(ctx context.Context) error {
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Warn("scheduler stop failed", "error", err)
	}
	if a.cleanup != nil {
		return a.cleanup(ctx)
	}
	return nil
}

func newStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (ports.StoryStore, func(context.Context) error, error) {
	switch cfg.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		cleanup := func(context.Context) error { return db.Close() }
		return storage.NewPostgresStore(db), cleanup, nil

	case "", "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store, err := storage.NewMongoStore(ctx, client.Database(cfg.MongoDatabase), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, client.Disconnect, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
