// Package tags maps free text onto the canonical tag taxonomy.
package tags

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultRules []byte

// RuleConfig is one taxonomy entry as it appears in the yaml table.
type RuleConfig struct {
	Alts     []string `yaml:"alts"`
	Implies  string   `yaml:"implies"`
	Internal string   `yaml:"internal"`
	Symbol   bool     `yaml:"symbol"`
	Hosts    []string `yaml:"hosts"`
}

// Table is the raw rule table grouped by category.
type Table struct {
	Tags map[string]map[string]RuleConfig `yaml:"tags"`
}

type record struct {
	output  string
	display string
	implies []string
}

type symbolEntry struct {
	token  string
	record int
}

type hostEntry struct {
	host   string
	record int
}

// Taxonomy is the compiled, immutable rule table. Build it once at
// process start; construction fails on conflicting input mappings.
type Taxonomy struct {
	records  []record
	words    map[string]int
	symbols  []symbolEntry
	symbolIx map[string]int
	hosts    []hostEntry
	backward map[string]string
}

// Default compiles the embedded rule table.
func Default() (*Taxonomy, error) {
	return Load(defaultRules)
}

// Load parses and compiles a yaml rule table.
func Load(raw []byte) (*Taxonomy, error) {
	var table Table
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse tag table: %w", err)
	}
	return New(table)
}

// New compiles a rule table, rejecting any input that maps to two
// different rules.
func New(table Table) (*Taxonomy, error) {
	t := &Taxonomy{
		words:    map[string]int{},
		symbolIx: map[string]int{},
		backward: map[string]string{},
	}

	categories := sortedKeys(table.Tags)
	for _, category := range categories {
		rules := table.Tags[category]
		for _, name := range sortedKeys(rules) {
			cfg := rules[name]
			primary, inputs := expandInputs(name, cfg.Alts)

			rec := record{output: primary, display: primary}
			if cfg.Internal != "" {
				rec.output = cfg.Internal
			}
			if cfg.Implies != "" {
				rec.implies = []string{cfg.Implies}
			}
			ix := len(t.records)
			t.records = append(t.records, rec)

			if cfg.Internal != "" {
				if prev, dup := t.backward[cfg.Internal]; dup && prev != primary {
					return nil, fmt.Errorf("internal tag %q maps to both %q and %q", cfg.Internal, prev, primary)
				}
				t.backward[cfg.Internal] = primary
			}

			for _, input := range inputs {
				if cfg.Symbol {
					if _, dup := t.symbolIx[input]; dup {
						return nil, fmt.Errorf("duplicate symbol mapping %q", input)
					}
					t.symbolIx[input] = ix
					t.symbols = append(t.symbols, symbolEntry{token: input, record: ix})
				} else {
					if _, dup := t.words[input]; dup {
						return nil, fmt.Errorf("duplicate tag mapping %q", input)
					}
					t.words[input] = ix
				}
			}

			for _, host := range cfg.Hosts {
				t.hosts = append(t.hosts, hostEntry{host: host, record: ix})
			}
		}
	}

	// Longer symbols first so e.g. "c++" never half-matches as "c+".
	sort.Slice(t.symbols, func(i, j int) bool {
		a, b := t.symbols[i].token, t.symbols[j].token
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return t, nil
}

// expandInputs resolves the "(s)" plural marker on the rule name and
// its alternates, returning the primary tag and all matching inputs.
func expandInputs(name string, alts []string) (string, []string) {
	primary, inputs := expandPlural(name)
	for _, alt := range alts {
		_, more := expandPlural(alt)
		inputs = append(inputs, more...)
	}
	return primary, inputs
}

func expandPlural(name string) (string, []string) {
	if root, ok := strings.CutSuffix(name, "(s)"); ok {
		return root, []string{root, root + "s"}
	}
	return name, []string{name}
}

// ExtractTags maps free text to taxonomy tags. Symbol tokens are
// matched as raw substrings first and removed so they cannot match
// again as plain words. The result may contain duplicates.
func (t *Taxonomy) ExtractTags(text string) []string {
	s := strings.ToLower(text)
	var out []string

	for _, sym := range t.symbols {
		if strings.Contains(s, sym.token) {
			s = strings.ReplaceAll(s, sym.token, " ")
			out = t.appendRecord(out, sym.record)
		}
	}

	for _, word := range splitWords(s) {
		if ix, ok := t.words[word]; ok {
			out = t.appendRecord(out, ix)
		}
	}
	return out
}

func (t *Taxonomy) appendRecord(out []string, ix int) []string {
	rec := t.records[ix]
	out = append(out, rec.output)
	out = append(out, rec.implies...)
	return out
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Internal returns the indexed form of a word, substituting tags whose
// canonical spelling collides with a reserved query term.
func (t *Taxonomy) Internal(word string) string {
	if ix, ok := t.words[word]; ok {
		return t.records[ix].output
	}
	return word
}

// IsSymbol reports whether the token is a known symbol tag such as "c++".
func (t *Taxonomy) IsSymbol(token string) bool {
	_, ok := t.symbolIx[token]
	return ok
}

// SymbolTag returns the internal tag for a symbol token.
func (t *Taxonomy) SymbolTag(token string) (string, bool) {
	ix, ok := t.symbolIx[token]
	if !ok {
		return "", false
	}
	return t.records[ix].output, true
}

// Display maps an internal tag back to its display form.
func (t *Taxonomy) Display(tag string) string {
	if display, ok := t.backward[tag]; ok {
		return display
	}
	return tag
}

// DisplayTags maps a list of internal tags back to display form.
func (t *Taxonomy) DisplayTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		out = append(out, t.Display(tag))
	}
	return out
}

// ForHost returns tags implied by a story's host name.
func (t *Taxonomy) ForHost(host string) []string {
	var out []string
	for _, entry := range t.hosts {
		if strings.Contains(host, entry.host) {
			out = t.appendRecord(out, entry.record)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
