// Package search builds the stemmed token index over story titles,
// tags, and URL components, and turns user queries into matching
// token sets.
package search

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/kljensen/snowball/english"

	"github.com/progscrape/progscrape/internal/tags"
)

const minTokenLength = 3

var (
	punctToSpace = func() *strings.Replacer {
		punct := "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~" + "“”‘’"
		pairs := make([]string, 0, len(punct)*2)
		for _, r := range punct {
			pairs = append(pairs, string(r), " ")
		}
		return strings.NewReplacer(pairs...)
	}()

	schemeExpr   = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
	hostTrimExpr = regexp.MustCompile(`^ww?w?[0-9]*\.`)
	hostExpr     = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*\.[a-z]{2,6}$`)
)

// Field is the derived search state for one story.
type Field struct {
	// Tokens is the sorted, stemmed token set used for matching.
	Tokens []string
	// DisplayTags is the human-readable tag list, bare host first.
	DisplayTags []string
}

// Indexer generates search fields and query tokens with a shared
// taxonomy.
type Indexer struct {
	taxonomy *tags.Taxonomy
}

func NewIndexer(taxonomy *tags.Taxonomy) *Indexer {
	return &Indexer{taxonomy: taxonomy}
}

// GenerateSearchField derives the search tokens and display tags for a
// story from all of its scraped titles, the source-declared tags, and
// its canonical URL.
func (ix *Indexer) GenerateSearchField(titles []string, declared []string, canonicalURL string) Field {
	words := map[string]bool{}
	var tagList []string

	for _, title := range titles {
		for w := range tokenize(title) {
			words[w] = true
		}
		tagList = append(tagList, ix.taxonomy.ExtractTags(title)...)
	}

	for _, tag := range declared {
		tagList = append(tagList, ix.taxonomy.Internal(strings.ToLower(tag)))
	}

	var bareHost string
	if u, err := url.Parse(canonicalURL); err == nil && u.Host != "" {
		host := u.Hostname()
		bareHost = hostTrimExpr.ReplaceAllString(host, "")
		tagList = append(tagList, ix.taxonomy.ForHost(host)...)
		for w := range tokenize(u.Path) {
			if !urlStopWords[w] {
				words[w] = true
			}
		}
	}

	tokens := map[string]bool{}
	for w := range words {
		tokens[english.Stem(w, false)] = true
	}
	for _, tag := range tagList {
		tokens[english.Stem(tag, false)] = true
	}
	if bareHost != "" {
		tokens["host:"+bareHost] = true
	}

	display := dedupe(ix.taxonomy.DisplayTags(tagList))
	sort.Strings(display)
	if bareHost != "" {
		display = append([]string{bareHost}, display...)
	}

	return Field{Tokens: sortedSlice(tokens), DisplayTags: display}
}

// GenerateQueryTokens converts a free-text query into the token set a
// story's search field must contain for the story to match.
func (ix *Indexer) GenerateQueryTokens(query string) []string {
	out := map[string]bool{}
	for _, term := range strings.Fields(strings.ToLower(query)) {
		term = schemeExpr.ReplaceAllString(term, "")

		if host, ok := hostTerm(term); ok {
			out["host:"+hostTrimExpr.ReplaceAllString(host, "")] = true
			continue
		}

		if tag, ok := ix.taxonomy.SymbolTag(term); ok {
			out[tag] = true
			continue
		}

		for _, piece := range strings.Fields(punctToSpace.Replace(term)) {
			piece = english.Stem(ix.taxonomy.Internal(piece), false)
			if len(piece) < minTokenLength || stopWords[piece] {
				continue
			}
			out[piece] = true
		}
	}
	return sortedSlice(out)
}

// Match reports whether an indexed token set satisfies every query
// token. Matching is a hard AND filter, not ranked relevance.
func Match(index, query []string) bool {
	set := make(map[string]bool, len(index))
	for _, tok := range index {
		set[tok] = true
	}
	for _, tok := range query {
		if !set[tok] {
			return false
		}
	}
	return true
}

// hostTerm reports whether a query term is hostname-shaped: it has a
// dot and a TLD-looking suffix.
func hostTerm(term string) (string, bool) {
	host, _, _ := strings.Cut(term, "/")
	if !strings.Contains(host, ".") {
		return "", false
	}
	if !hostExpr.MatchString(host) {
		return "", false
	}
	return host, true
}

// tokenize splits english text the way the index stores it: punctuation
// stripped, lowercased, short tokens and stop words removed.
func tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(punctToSpace.Replace(text))) {
		if len(w) < minTokenLength || stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sortedSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
