// Package score ranks stories from their accumulated scrape positions.
// The weights here are load-bearing: front-page ordering is defined by
// them, so changes are breaking.
package score

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/progscrape/progscrape/internal/domain"
)

// Score is the term-by-term breakdown of a story's rank value. Higher
// sums sort to the front.
type Score struct {
	Terms map[string]float64
	Sum   float64
}

// imageHosts are low-effort image mirrors; links seen only on reddit
// are penalized.
var imageHosts = []string{"imgur.com", "gfycat.com"}

// Story computes the ranking score for a story at a given instant. It
// is pure and deterministic: the only pseudo-random term is seeded
// from a hash of the canonical URL.
func Story(s *domain.Story, now time.Time) Score {
	terms := map[string]float64{}

	terms["age"] = ageTerm(now.Sub(s.CreatedAt))
	terms["random"] = float64(urlHash(s.CanonicalURL)%600) / 100.0

	sources := 0
	redditProg := s.Scrape(domain.SourceRedditProg)
	redditTech := s.Scrape(domain.SourceRedditTech)
	hackerNews := s.Scrape(domain.SourceHackerNews)
	lobsters := s.Scrape(domain.SourceLobsters)

	if present(redditProg) {
		terms["reddit1"] = positive(30 - float64(redditProg.Rank))
		sources++
	}
	if present(redditTech) {
		terms["reddit2"] = positive((30 - float64(redditTech.Rank)) * 0.5)
		sources++
	}
	if present(hackerNews) {
		terms["hnews"] = positive((30 - float64(hackerNews.Rank)) * 1.2)
		sources++
	}
	if present(lobsters) {
		terms["lobsters"] = positive((30 - float64(lobsters.Rank)) * 1.2)
		sources++
	}

	if sources > 1 {
		terms["multiple_service"] = 10
	}

	if (present(redditProg) || present(redditTech)) && len(s.Title) > 130 {
		terms["long_title"] = -5
	}
	if len(s.Title) > 250 {
		terms["really_long_title"] = -10
	}

	if isImageHost(s.CanonicalURL) && !present(hackerNews) && !present(lobsters) {
		terms["reddit_only_imgur"] = -20
	}

	sum := 0.0
	for _, v := range terms {
		sum += v
	}
	return Score{Terms: terms, Sum: sum}
}

func ageTerm(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if days := int(age.Hours() / 24); days > 0 {
		return -100 * float64(days)
	}
	switch hours := int(age.Hours()); {
	case hours < 1:
		return -10
	case hours < 2:
		return -20
	default:
		return -20 + -5*float64(hours)
	}
}

func positive(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func present(scrape *domain.ScrapedItem) bool {
	return scrape != nil && scrape.Rank > 0
}

func isImageHost(url string) bool {
	for _, host := range imageHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

func urlHash(url string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(url))
	return h.Sum64()
}
