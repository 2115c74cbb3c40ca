package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/progscrape/progscrape/internal/config"
	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/ports"
	"github.com/progscrape/progscrape/internal/scraper"
)

// noiseTags are generic feed categories removed from lobsters entries;
// a "meta" tag drops the whole entry.
var noiseTags = map[string]bool{
	"person":      true,
	"programming": true,
	"practices":   true,
}

// Lobsters scrapes the site's RSS feed.
type Lobsters struct {
	fetcher ports.Fetcher
	feedURL string
	parser  *gofeed.Parser
	logger  *slog.Logger
}

var _ scraper.Source = (*Lobsters)(nil)

func NewLobsters(fetcher ports.Fetcher, cfg config.LobstersConfig, logger *slog.Logger) *Lobsters {
	return &Lobsters{
		fetcher: fetcher,
		feedURL: cfg.FeedURL,
		parser:  gofeed.NewParser(),
		logger:  logger,
	}
}

func (l *Lobsters) Name() domain.Source {
	return domain.SourceLobsters
}

// Scrape parses the feed and maps entry categories straight onto tags.
func (l *Lobsters) Scrape(ctx context.Context) ([]domain.ScrapedItem, error) {
	body, err := l.fetcher.Fetch(ctx, l.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	feed, err := l.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var items []domain.ScrapedItem
	rank := 0
	for _, entry := range feed.Items {
		rank++

		skip := false
		var tags []string
		for _, category := range entry.Categories {
			tag := strings.ToLower(strings.TrimSpace(category))
			if tag == "meta" {
				skip = true
				break
			}
			if noiseTags[tag] || tag == "" {
				continue
			}
			tags = append(tags, tag)
		}
		if skip {
			continue
		}

		items = append(items, domain.ScrapedItem{
			Source:     domain.SourceLobsters,
			ExternalID: entryID(entry),
			URL:        entry.Link,
			Title:      entry.Title,
			Rank:       rank,
			Tags:       tags,
		})
	}
	return items, nil
}

// entryID extracts the short story id from the guid permalink, e.g.
// "https://lobste.rs/s/abc123" -> "abc123".
func entryID(entry *gofeed.Item) string {
	guid := entry.GUID
	if guid == "" {
		guid = entry.Link
	}
	if _, id, ok := strings.Cut(guid, "/s/"); ok {
		return id
	}
	return guid
}
