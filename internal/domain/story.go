package domain

import (
	"fmt"
	"time"

	"github.com/progscrape/progscrape/internal/search"
)

// CurrentSchemaVersion stamps derived story fields; bumping it causes
// stories to be lazily reindexed as they are loaded.
const CurrentSchemaVersion = 11

// MissingTitle is displayed when a story has no usable scrape title.
const MissingTitle = "(missing title)"

// Source identifies the origin of a scrape.
type Source string

const (
	SourceHackerNews Source = "hackernews"
	SourceLobsters   Source = "lobsters"
	SourceRedditProg Source = "reddit.prog"
	SourceRedditTech Source = "reddit.tech"
)

// titlePriority orders sources from most to least editorially curated;
// the first present source wins the display title.
var titlePriority = []Source{
	SourceHackerNews,
	SourceLobsters,
	SourceRedditProg,
	SourceRedditTech,
}

// ScrapedItem is one sighting of a story from one source at one point
// in time. Items are transient: they are folded into a Story or
// discarded.
type ScrapedItem struct {
	Source      Source   `json:"source"`
	Subcategory string   `json:"subcategory,omitempty"`
	ExternalID  string   `json:"external_id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Rank        int      `json:"rank"`
	Tags        []string `json:"tags,omitempty"`
}

// Story is the canonical, de-duplicated view of a single URL across
// all sources. Title, Tags and SearchTokens are derived from Scrapes
// and recomputed whenever a scrape is added.
type Story struct {
	CanonicalURL  string        `json:"canonical_url"`
	CreatedAt     time.Time     `json:"created_at"`
	Scrapes       []ScrapedItem `json:"scrapes"`
	Title         string        `json:"title"`
	Tags          []string      `json:"tags"`
	SearchTokens  []string      `json:"search_tokens"`
	SchemaVersion int           `json:"schema_version"`

	// Rev is the store revision used for conditional writes; zero
	// means the story has never been persisted.
	Rev int64 `json:"rev"`
}

// NewStory starts an empty aggregate for a canonical URL. It must
// receive at least one scrape before being persisted.
func NewStory(canonicalURL string, now time.Time) *Story {
	return &Story{
		CanonicalURL: canonicalURL,
		CreatedAt:    now.UTC(),
	}
}

// AddScrape folds a sighting into the story. An existing entry from
// the same source is replaced rather than accumulated, and all derived
// fields are recomputed.
func (s *Story) AddScrape(item ScrapedItem, ix *search.Indexer) {
	kept := s.Scrapes[:0]
	for _, scrape := range s.Scrapes {
		if scrape.Source != item.Source {
			kept = append(kept, scrape)
		}
	}
	s.Scrapes = append(kept, item)
	s.Reindex(ix)
}

// Reindex recomputes the derived fields from the current scrapes and
// stamps the schema version. Called by AddScrape and by the lazy
// upgrade path when the schema version is stale.
func (s *Story) Reindex(ix *search.Indexer) {
	s.Title = s.chooseTitle()
	field := ix.GenerateSearchField(s.Titles(), s.declaredTags(), s.CanonicalURL)
	s.Tags = field.DisplayTags
	s.SearchTokens = field.Tokens
	s.SchemaVersion = CurrentSchemaVersion
}

func (s *Story) chooseTitle() string {
	for _, source := range titlePriority {
		if scrape := s.Scrape(source); scrape != nil {
			return scrape.Title
		}
	}
	return MissingTitle
}

// Scrape returns the retained entry for a source, or nil.
func (s *Story) Scrape(source Source) *ScrapedItem {
	for i := range s.Scrapes {
		if s.Scrapes[i].Source == source {
			return &s.Scrapes[i]
		}
	}
	return nil
}

// Titles lists every scraped title, including ones hidden behind a
// higher-priority source.
func (s *Story) Titles() []string {
	titles := make([]string, 0, len(s.Scrapes))
	for _, scrape := range s.Scrapes {
		titles = append(titles, scrape.Title)
	}
	return titles
}

func (s *Story) declaredTags() []string {
	var tags []string
	for _, scrape := range s.Scrapes {
		tags = append(tags, scrape.Tags...)
	}
	return tags
}

// IsEnglish guesses whether the title is english text by checking that
// printable ASCII characters hold the majority.
func (s *Story) IsEnglish() bool {
	ascii, other := 0, 0
	for _, r := range s.Title {
		if r > ' ' && r < 0x7f {
			ascii++
		} else {
			other++
		}
	}
	return ascii > (ascii+other)/2
}

// CommentURL builds the discussion permalink for a source's sighting
// of this story, if that source saw it.
func (s *Story) CommentURL(source Source) string {
	scrape := s.Scrape(source)
	if scrape == nil {
		return ""
	}
	switch source {
	case SourceHackerNews:
		return fmt.Sprintf("https://news.ycombinator.com/item?id=%s", scrape.ExternalID)
	case SourceLobsters:
		return fmt.Sprintf("https://lobste.rs/s/%s", scrape.ExternalID)
	case SourceRedditProg, SourceRedditTech:
		return fmt.Sprintf("https://www.reddit.com/comments/%s", scrape.ExternalID)
	}
	return ""
}
