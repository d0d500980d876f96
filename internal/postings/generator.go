package postings

import (
	"sort"
	"strings"
	"unicode"

	"github.com/komodo-search/komodo/internal/parser"
)

// Token is one retained term and its zero-based position among the
// retained tokens of the scanned text.
type Token struct {
	Term     string
	Position int
}

// Tokenize splits text on non-alphanumeric boundaries and applies opts.
func Tokenize(text string, opts Options) []Token {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if !opts.CaseSensitive {
			word = strings.ToLower(word)
		}
		if !opts.Keep(word) {
			continue
		}
		tokens = append(tokens, Token{Term: word, Position: pos})
		pos++
	}
	return tokens
}

// Entry is the frequency and ordered positions of one term in one
// document.
type Entry struct {
	Frequency int   `json:"frequency"`
	Positions []int `json:"positions"`
}

// Result is the postings output for one document.
type Result struct {
	Terms map[string]*Entry
	// TermCount is the number of distinct terms.
	TermCount int
	// PostingCount is the number of retained token occurrences.
	PostingCount int
}

// SortedTerms returns the terms in lexical order.
func (r *Result) SortedTerms() []string {
	terms := make([]string, 0, len(r.Terms))
	for t := range r.Terms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// Generate re-scans the parse result's content linearly so positions are
// exact. The output is deterministic for identical content and options.
func Generate(res *parser.Result, opts Options) *Result {
	out := &Result{Terms: make(map[string]*Entry)}
	if res == nil {
		return out
	}
	for _, tok := range Tokenize(res.Content, opts) {
		e, ok := out.Terms[tok.Term]
		if !ok {
			e = &Entry{Positions: make([]int, 0, 4)}
			out.Terms[tok.Term] = e
		}
		e.Frequency++
		e.Positions = append(e.Positions, tok.Position)
		out.PostingCount++
	}
	out.TermCount = len(out.Terms)
	return out
}
