package search

import (
	"reflect"
	"testing"

	"github.com/kljensen/snowball/english"

	"github.com/progscrape/progscrape/internal/tags"
)

func newIndexer(t *testing.T) *Indexer {
	t.Helper()
	taxonomy, err := tags.Default()
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	return NewIndexer(taxonomy)
}

func hasToken(tokens []string, tok string) bool {
	for _, t := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}

func TestGenerateSearchField(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t)

	field := ix.GenerateSearchField(
		[]string{"The Greatest Go Tutorial"},
		[]string{"rust"},
		"https://www.google.com/blog/post/my-story",
	)

	for _, want := range []string{
		english.Stem("greatest", false),
		english.Stem("tutorial", false),
		"golang",
		"rust",
		english.Stem("blog", false),
		"host:google.com",
	} {
		if !hasToken(field.Tokens, want) {
			t.Fatalf("tokens %v missing %q", field.Tokens, want)
		}
	}

	// URL stop words never index, and short words are dropped.
	for _, banned := range []string{"post", english.Stem("story", false), "my", "the"} {
		if hasToken(field.Tokens, banned) {
			t.Fatalf("tokens %v must not contain %q", field.Tokens, banned)
		}
	}

	wantDisplay := []string{"google.com", "go", "rust", "tutorial"}
	if !reflect.DeepEqual(field.DisplayTags, wantDisplay) {
		t.Fatalf("display tags = %v, want %v", field.DisplayTags, wantDisplay)
	}
}

func TestGenerateSearchFieldNoHost(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t)

	field := ix.GenerateSearchField([]string{"Rust for beginners"}, nil, "not-a-url")
	if !hasToken(field.Tokens, "rust") {
		t.Fatalf("tokens %v missing rust", field.Tokens)
	}
	for _, tok := range field.Tokens {
		if len(tok) > 5 && tok[:5] == "host:" {
			t.Fatalf("unexpected host token %q", tok)
		}
	}
}

func TestGenerateQueryTokens(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t)

	cases := []struct {
		query string
		want  []string
	}{
		{"Go", []string{"golang"}},
		{"C++", []string{"cplusplus"}},
		{"google.com", []string{"host:google.com"}},
		{"https://www.google.com/foo", []string{"host:google.com"}},
		{"the greatest titles", []string{english.Stem("greatest", false), english.Stem("titles", false)}},
		{"", nil},
	}

	for _, tc := range cases {
		got := ix.GenerateQueryTokens(tc.query)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("GenerateQueryTokens(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestQueryMatchesIndexedStory(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t)

	field := ix.GenerateSearchField(
		[]string{"Concurrency in Go explained"},
		nil,
		"https://example.com/concurrency",
	)

	for _, query := range []string{"go", "golang", "concurrency", "example.com", "go concurrency"} {
		if !Match(field.Tokens, ix.GenerateQueryTokens(query)) {
			t.Fatalf("query %q should match tokens %v", query, field.Tokens)
		}
	}

	for _, query := range []string{"rust", "go rust", "other.org"} {
		if Match(field.Tokens, ix.GenerateQueryTokens(query)) {
			t.Fatalf("query %q should not match tokens %v", query, field.Tokens)
		}
	}
}

func TestMatchIsSupersetAnd(t *testing.T) {
	t.Parallel()

	index := []string{"a1", "b2", "c3"}
	if !Match(index, []string{"a1", "c3"}) {
		t.Fatalf("subset query should match")
	}
	if Match(index, []string{"a1", "d4"}) {
		t.Fatalf("missing token should fail the match")
	}
	if !Match(index, nil) {
		t.Fatalf("empty query matches everything")
	}
}
