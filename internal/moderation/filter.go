// Package moderation provides content screening for live-session chat. The
// word filter classifies and redacts disallowed terms; the pipeline wires
// the filter, the violation ledger, and the ban service into a single
// decision per inbound message.
package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// defaultTerms is the stock disallowed-term list (Vietnamese plus English).
// Matching is case-insensitive substring containment, so multi-word phrases
// work the same as single words.
var defaultTerms = []string{
	"đồ ngu",
	"ngu ngốc",
	"đần độn",
	"chết tiệt",
	"đm",
	"dm",
	"đéo",
	"vãi",
	"vcl",
	"vkl",
	"cc",
	"cức",
	"đụ",
	"địt",
	"lồn",
	"buồi",
	"cặc",
	"fuck",
	"shit",
	"damn",
	"bitch",
	"ass",
	"hell",
}

// Result is the outcome of classifying one message.
type Result struct {
	Flagged bool
	Matches []string // distinct matched terms, in list-configuration order
}

// Filter scans message text against a fixed list of disallowed terms. It is
// stateless and safe for concurrent use.
type Filter struct {
	terms   []string // original casing, configuration order
	lowered []string // pre-lowered for matching
}

// NewFilter creates a filter with the default term list.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a filter with a custom term list. Empty and
// whitespace-only entries are dropped; order is preserved.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{}
	for _, t := range terms {
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			continue
		}
		f.terms = append(f.terms, trimmed)
		f.lowered = append(f.lowered, strings.ToLower(trimmed))
	}
	return f
}

// Classify reports whether text contains any disallowed term. Each distinct
// term appears at most once in Matches regardless of how many times it
// occurs, ordered by the configured list rather than by position in text.
func (f *Filter) Classify(text string) Result {
	lower := strings.ToLower(text)

	var matches []string
	for i, lt := range f.lowered {
		if strings.Contains(lower, lt) {
			matches = append(matches, f.terms[i])
		}
	}

	return Result{Flagged: len(matches) > 0, Matches: matches}
}

// Redact replaces every case-insensitive occurrence of every configured term
// with a run of '*' matching the term's character length. Terms are applied
// in configuration order and each term rescans the text as mutated by the
// previous ones, so overlapping terms cascade.
func (f *Filter) Redact(text string) string {
	for i, lt := range f.lowered {
		text = redactTerm(text, f.terms[i], lt)
	}
	return text
}

// redactTerm replaces all case-insensitive occurrences of one term. The scan
// folds the input rune by rune against the lowered term, so offsets always
// refer to the original text; lowering the whole string up front would shift
// byte offsets whenever a rune's lower form has a different UTF-8 length.
func redactTerm(text, term, lowered string) string {
	stars := strings.Repeat("*", utf8.RuneCountInString(term))

	var b strings.Builder
	for i := 0; i < len(text); {
		if n := foldPrefixLen(text[i:], lowered); n > 0 {
			b.WriteString(stars)
			i += n
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		b.WriteString(text[i : i+size])
		i += size
	}
	return b.String()
}

// foldPrefixLen returns how many bytes at the start of text lower to exactly
// lowered, or 0 when they do not.
func foldPrefixLen(text, lowered string) int {
	i := 0
	for _, want := range lowered {
		if i >= len(text) {
			return 0
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.ToLower(r) != want {
			return 0
		}
		i += size
	}
	return i
}
