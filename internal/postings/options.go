// Package postings turns parsed document content into per-term frequency
// and position lists according to an index-wide tokenization policy.
package postings

import "strings"

var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at",
	"be", "by", "for", "from", "has", "he",
	"in", "is", "it", "its", "of", "on",
	"or", "that", "the", "to", "was", "were",
	"will", "with", "this", "but", "they",
	"have", "had", "what", "when", "where",
	"who", "which", "their", "if", "each",
	"do", "not", "no", "so", "can",
}

// StopWordSet is a membership test for tokens that never become terms.
type StopWordSet map[string]struct{}

// NewStopWordSet builds a set from words. Entries are lowercased unless
// caseSensitive is set.
func NewStopWordSet(words []string, caseSensitive bool) StopWordSet {
	s := make(StopWordSet, len(words))
	for _, w := range words {
		if !caseSensitive {
			w = strings.ToLower(w)
		}
		s[w] = struct{}{}
	}
	return s
}

func (s StopWordSet) Contains(w string) bool {
	_, ok := s[w]
	return ok
}

// Options is the tokenization policy of one index. The same Options must
// be used for every document of an index and for its queries.
type Options struct {
	MinLength     int
	CaseSensitive bool
	StopWords     StopWordSet
}

// DefaultOptions returns a case-insensitive policy with a minimum token
// length of 2 and the English stop-word list.
func DefaultOptions() Options {
	return Options{
		MinLength: 2,
		StopWords: NewStopWordSet(defaultStopWords, false),
	}
}

// NewOptions builds Options from configuration values. A nil stopWords
// slice selects the default list; an empty one disables stop words.
func NewOptions(minLength int, caseSensitive bool, stopWords []string) Options {
	if minLength < 1 {
		minLength = 1
	}
	if stopWords == nil {
		stopWords = defaultStopWords
	}
	return Options{
		MinLength:     minLength,
		CaseSensitive: caseSensitive,
		StopWords:     NewStopWordSet(stopWords, caseSensitive),
	}
}

// Normalize applies case folding to a query term. It does not apply the
// length or stop-word rules.
func (o Options) Normalize(term string) string {
	term = strings.TrimSpace(term)
	if !o.CaseSensitive {
		term = strings.ToLower(term)
	}
	return term
}

// Keep reports whether an already normalized token becomes a term.
func (o Options) Keep(token string) bool {
	if len([]rune(token)) < o.MinLength {
		return false
	}
	return !o.StopWords.Contains(token)
}
