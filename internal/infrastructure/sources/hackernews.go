package sources

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/progscrape/progscrape/internal/config"
	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/ports"
	"github.com/progscrape/progscrape/internal/scraper"
)

// HackerNews scrapes the front-page HTML listing. Each story is a pair
// of table rows: the title row and a metadata row beneath it.
type HackerNews struct {
	fetcher ports.Fetcher
	url     string
	logger  *slog.Logger
}

var _ scraper.Source = (*HackerNews)(nil)

func NewHackerNews(fetcher ports.Fetcher, cfg config.HackerNewsConfig, logger *slog.Logger) *HackerNews {
	return &HackerNews{fetcher: fetcher, url: cfg.URL, logger: logger}
}

func (h *HackerNews) Name() domain.Source {
	return domain.SourceHackerNews
}

// Scrape parses the listing and emits items in page order. Only
// absolute http(s) links are accepted; self posts resolve to relative
// item links and are skipped.
func (h *HackerNews) Scrape(ctx context.Context) ([]domain.ScrapedItem, error) {
	body, err := h.fetcher.Fetch(ctx, h.url)
	if err != nil {
		return nil, fmt.Errorf("fetch front page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse front page: %w", err)
	}

	var items []domain.ScrapedItem
	rank := 0
	doc.Find("tr.athing").Each(func(i int, row *goquery.Selection) {
		rank++

		link := row.Find("span.titleline > a").First()
		if link.Length() == 0 {
			link = row.Find("td.title a").First()
		}
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())

		id, _ := row.Attr("id")
		if span := row.Next().Find("span.score").First(); span.Length() > 0 {
			if scoreID, ok := span.Attr("id"); ok {
				id = strings.TrimPrefix(scoreID, "score_")
			}
		}

		title, tags := hnTags(title)

		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		items = append(items, domain.ScrapedItem{
			Source:     domain.SourceHackerNews,
			ExternalID: id,
			URL:        href,
			Title:      title,
			Rank:       rank,
			Tags:       tags,
		})
	})
	return items, nil
}

// hnTags strips marker suffixes like "[pdf]" into tags and turns the
// "Ask HN"/"Show HN" prefixes into tags.
func hnTags(title string) (string, []string) {
	var tags []string
	if rest, ok := strings.CutSuffix(title, "[pdf]"); ok {
		title = strings.TrimSpace(rest)
		tags = append(tags, "pdf")
	}
	if rest, ok := strings.CutSuffix(title, "[video]"); ok {
		title = strings.TrimSpace(rest)
		tags = append(tags, "video")
	}
	if strings.HasPrefix(title, "Ask HN") {
		tags = append(tags, "ask")
	}
	if strings.HasPrefix(title, "Show HN") {
		tags = append(tags, "show")
	}
	return title, tags
}
