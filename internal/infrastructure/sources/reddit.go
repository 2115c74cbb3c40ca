package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/progscrape/progscrape/internal/config"
	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/ports"
	"github.com/progscrape/progscrape/internal/scraper"
)

// Reddit scrapes a multi-subreddit JSON listing. Two instances run in
// production: the programming listing and the tech listing.
type Reddit struct {
	fetcher    ports.Fetcher
	source     domain.Source
	listingURL string
	minScore   int
	tagged     map[string]bool
	flair      map[string]bool
	logger     *slog.Logger
}

var _ scraper.Source = (*Reddit)(nil)

// NewReddit wires a fetcher with one listing's configuration.
func NewReddit(fetcher ports.Fetcher, source domain.Source, cfg config.RedditConfig, logger *slog.Logger) *Reddit {
	return &Reddit{
		fetcher:    fetcher,
		source:     source,
		listingURL: fmt.Sprintf("https://www.reddit.com/r/%s/.json?limit=%d", strings.Join(cfg.Subreddits, "+"), cfg.Limit),
		minScore:   cfg.MinScore,
		tagged:     lowerSet(cfg.TaggedSubreddits),
		flair:      lowerSet(cfg.FlairSubreddits),
		logger:     logger,
	}
}

func (r *Reddit) Name() domain.Source {
	return r.source
}

// Scrape fetches the listing and emits items in rank order, skipping
// self posts and entries below the popularity threshold.
func (r *Reddit) Scrape(ctx context.Context) ([]domain.ScrapedItem, error) {
	body, err := r.fetcher.Fetch(ctx, r.listingURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	var listing struct {
		Data struct {
			Children []struct {
				Data struct {
					ID            string `json:"id"`
					URL           string `json:"url"`
					Title         string `json:"title"`
					Domain        string `json:"domain"`
					Score         int    `json:"score"`
					Subreddit     string `json:"subreddit"`
					LinkFlairText string `json:"link_flair_text"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	var items []domain.ScrapedItem
	rank := 0
	for _, child := range listing.Data.Children {
		rank++
		post := child.Data
		if strings.HasPrefix(post.Domain, "self.") || post.Score <= r.minScore {
			continue
		}

		subreddit := strings.ToLower(post.Subreddit)
		var tags []string
		if r.tagged[subreddit] {
			tags = append(tags, subreddit)
		}
		if r.flair[subreddit] && post.LinkFlairText != "" && !strings.ContainsAny(post.LinkFlairText, " \t") {
			tags = append(tags, strings.ToLower(post.LinkFlairText))
		}

		items = append(items, domain.ScrapedItem{
			Source:      r.source,
			Subcategory: subreddit,
			ExternalID:  post.ID,
			URL:         post.URL,
			// Reddit embeds XML entities inside JSON titles.
			Title: html.UnescapeString(strings.ReplaceAll(strings.TrimSpace(post.Title), "\n", "")),
			Rank:  rank,
			Tags:  tags,
		})
	}
	return items, nil
}

func lowerSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[strings.ToLower(s)] = true
	}
	return out
}
