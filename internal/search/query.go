// Package search evaluates boolean term queries with field filters over one
// index, and enumerates source document metadata.
package search

import (
	"fmt"
	"time"

	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/postings"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

// QueryFilter is one of the three term/filter sets of a Query.
type QueryFilter struct {
	Terms   []string `json:"terms,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
}

// Query narrows by Required, boosts by Optional and removes by Exclude.
type Query struct {
	Required         QueryFilter `json:"required"`
	Optional         QueryFilter `json:"optional"`
	Exclude          QueryFilter `json:"exclude"`
	MaxResults       int         `json:"max_results"`
	StartIndex       int         `json:"start_index"`
	IncludeContent   bool        `json:"include_content"`
	IncludeParsedDoc bool        `json:"include_parsed_doc"`
	PostbackURL      string      `json:"postback_url,omitempty"`
}

func (q *Query) hasFilters() bool {
	return len(q.Required.Filters) > 0 || len(q.Optional.Filters) > 0 || len(q.Exclude.Filters) > 0
}

func (q *Query) validate() error {
	if q.StartIndex < 0 {
		return fmt.Errorf("start index must not be negative")
	}
	if q.MaxResults < 0 {
		return fmt.Errorf("max results must not be negative")
	}
	for _, set := range []QueryFilter{q.Required, q.Optional, q.Exclude} {
		for _, f := range set.Filters {
			if err := f.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalizeTerms folds query terms the same way indexed terms were folded
// and drops duplicates, keeping first-seen order.
func normalizeTerms(terms []string, opts postings.Options) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		n := opts.Normalize(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Timing records when an operation started and finished.
type Timing struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	TotalMs float64   `json:"total_ms"`
}

// StartTiming returns a Timing started now.
func StartTiming() Timing {
	return Timing{Start: time.Now().UTC()}
}

// Finish stamps the end time.
func (t *Timing) Finish() {
	t.End = time.Now().UTC()
	t.TotalMs = float64(t.End.Sub(t.Start).Microseconds()) / 1000
}

// Match is one scored search hit.
type Match struct {
	Document metadata.SourceDocument  `json:"document"`
	Score    float64                  `json:"score"`
	Data     []byte                   `json:"data,omitempty"`
	Parsed   *metadata.ParsedDocument `json:"parsed,omitempty"`
	Warning  string                   `json:"warning,omitempty"`
}

// Result is the outcome of a search.
type Result struct {
	Success      bool              `json:"success"`
	Error        apperrors.ErrorID `json:"error"`
	Message      string            `json:"message,omitempty"`
	Documents    []Match           `json:"documents"`
	TotalMatches int               `json:"total_matches"`
	Timing       Timing            `json:"timing"`
}

// Fail marks the result failed with err.
func (r *Result) Fail(err error) *Result {
	r.Success = false
	r.Error = apperrors.IDOf(err)
	r.Message = err.Error()
	r.Documents = []Match{}
	r.Timing.Finish()
	return r
}

// Page applies StartIndex/MaxResults to a slice of length n and returns
// the bounds of the window. A start at or past n yields an empty window.
func Page(n, startIndex, maxResults int) (int, int) {
	if startIndex >= n {
		return n, n
	}
	end := n
	if maxResults > 0 && startIndex+maxResults < n {
		end = startIndex + maxResults
	}
	return startIndex, end
}
