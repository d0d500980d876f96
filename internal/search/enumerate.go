package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/parser"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

const enumerateBatch = 500

// EnumerationQuery lists source documents whose metadata satisfies every
// filter.
type EnumerationQuery struct {
	Filters     []Filter `json:"filters,omitempty"`
	MaxResults  int      `json:"max_results"`
	StartIndex  int      `json:"start_index"`
	PostbackURL string   `json:"postback_url,omitempty"`
}

// EnumerationResult is the outcome of an enumeration.
type EnumerationResult struct {
	Success      bool                      `json:"success"`
	Error        apperrors.ErrorID         `json:"error"`
	Message      string                    `json:"message,omitempty"`
	Documents    []metadata.SourceDocument `json:"documents"`
	TotalMatches int                       `json:"total_matches"`
	Timing       Timing                    `json:"timing"`
}

// Fail marks the result failed with err.
func (r *EnumerationResult) Fail(err error) *EnumerationResult {
	r.Success = false
	r.Error = apperrors.IDOf(err)
	r.Message = err.Error()
	r.Documents = []metadata.SourceDocument{}
	r.Timing.Finish()
	return r
}

// sourceField extracts the values of one metadata field. Empty strings and
// unset timestamps read as null.
type sourceField func(d *metadata.SourceDocument) []fieldValue

var sourceFields = map[string]sourceField{
	"guid":          func(d *metadata.SourceDocument) []fieldValue { return str(d.GUID) },
	"ownerguid":     func(d *metadata.SourceDocument) []fieldValue { return str(d.OwnerGUID) },
	"indexguid":     func(d *metadata.SourceDocument) []fieldValue { return str(d.IndexGUID) },
	"name":          func(d *metadata.SourceDocument) []fieldValue { return str(d.Name) },
	"title":         func(d *metadata.SourceDocument) []fieldValue { return str(d.Title) },
	"documenttype":  func(d *metadata.SourceDocument) []fieldValue { return str(string(d.DocumentType)) },
	"sourceurl":     func(d *metadata.SourceDocument) []fieldValue { return str(d.SourceURL) },
	"contenttype":   func(d *metadata.SourceDocument) []fieldValue { return str(d.ContentType) },
	"contentmd5":    func(d *metadata.SourceDocument) []fieldValue { return str(d.ContentMD5) },
	"contentlength": func(d *metadata.SourceDocument) []fieldValue { return num(d.ContentLength) },
	"created":       func(d *metadata.SourceDocument) []fieldValue { return ts(&d.Created) },
	"indexed":       func(d *metadata.SourceDocument) []fieldValue { return ts(d.Indexed) },
	"tags": func(d *metadata.SourceDocument) []fieldValue {
		if len(d.Tags) == 0 {
			return []fieldValue{nullValue()}
		}
		out := make([]fieldValue, len(d.Tags))
		for i, t := range d.Tags {
			out[i] = fieldValue{text: t, kind: parser.KindString}
		}
		return out
	},
}

func str(s string) []fieldValue {
	if s == "" {
		return []fieldValue{nullValue()}
	}
	return []fieldValue{{text: s, kind: parser.KindString}}
}

func num(n int64) []fieldValue {
	return []fieldValue{{text: strconv.FormatInt(n, 10), kind: parser.KindNumber}}
}

func ts(t *time.Time) []fieldValue {
	if t == nil || t.IsZero() {
		return []fieldValue{nullValue()}
	}
	return []fieldValue{{text: t.UTC().Format(time.RFC3339Nano), kind: parser.KindString}}
}

func lookupField(name string) (sourceField, bool) {
	key := strings.ToLower(strings.ReplaceAll(name, "_", ""))
	f, ok := sourceFields[key]
	return f, ok
}

// matchSource reports whether any value of the field satisfies the filter.
// Tags therefore match when any one tag does.
func (f Filter) matchSource(field sourceField, d *metadata.SourceDocument) bool {
	for _, v := range field(d) {
		if f.match(v) {
			return true
		}
	}
	return false
}

type boundFilter struct {
	Filter
	field sourceField
}

// Enumerate pages through the index's source documents in GUID order and
// returns those matching every filter.
func (e *Evaluator) Enumerate(ctx context.Context, q EnumerationQuery) *EnumerationResult {
	res := &EnumerationResult{Timing: StartTiming(), Documents: []metadata.SourceDocument{}}
	if q.StartIndex < 0 || q.MaxResults < 0 {
		return res.Fail(apperrors.New(apperrors.IDMissingParams, apperrors.ErrInvalidInput,
			"start index and max results must not be negative"))
	}
	bound := make([]boundFilter, 0, len(q.Filters))
	for _, f := range q.Filters {
		if err := f.validate(); err != nil {
			return res.Fail(apperrors.New(apperrors.IDMissingParams, apperrors.ErrInvalidInput, err.Error()))
		}
		field, ok := lookupField(f.Field)
		if !ok {
			return res.Fail(apperrors.Newf(apperrors.IDMissingParams, apperrors.ErrInvalidInput,
				"unknown document field %q", f.Field))
		}
		bound = append(bound, boundFilter{Filter: f, field: field})
	}

	start, limit := q.StartIndex, e.limit(q.MaxResults)
	nameContains := namePrefilter(bound)
	matched := 0
	for offset := 0; ; offset += enumerateBatch {
		if err := ctx.Err(); err != nil {
			return res.Fail(apperrors.Wrap(apperrors.IDReadError, err, "enumeration cancelled"))
		}
		batch, err := e.cfg.Metadata.ListSourceDocuments(ctx, e.cfg.IndexGUID, metadata.Page{Offset: offset, Limit: enumerateBatch, NameContains: nameContains})
		if err != nil {
			return res.Fail(apperrors.Wrap(apperrors.IDReadError, err, fmt.Sprintf("listing documents at offset %d", offset)))
		}
		for i := range batch {
			if !matchAll(bound, &batch[i]) {
				continue
			}
			if matched >= start && len(res.Documents) < limit {
				res.Documents = append(res.Documents, batch[i])
			}
			matched++
		}
		if len(batch) < enumerateBatch {
			break
		}
	}

	res.TotalMatches = matched
	res.Success = true
	res.Error = apperrors.IDNone
	res.Timing.Finish()
	e.logger.Info("enumeration executed",
		"filters", len(bound),
		"matches", matched,
		"returned", len(res.Documents),
		"total_ms", res.Timing.TotalMs,
	)
	return res
}

// namePrefilter returns a Name Contains operand the metadata store can
// apply while listing. Every filter still runs on the returned rows, so the
// store only has to return a superset. Non-ASCII operands stay in memory
// because SQL LOWER does not fold them the way strings.ToLower does.
func namePrefilter(filters []boundFilter) string {
	for _, f := range filters {
		if f.Condition != Contains || f.Value == "" || !isASCII(f.Value) {
			continue
		}
		if strings.ToLower(strings.ReplaceAll(f.Field, "_", "")) == "name" {
			return f.Value
		}
	}
	return ""
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func matchAll(filters []boundFilter, d *metadata.SourceDocument) bool {
	for _, f := range filters {
		if !f.matchSource(f.field, d) {
			return false
		}
	}
	return true
}
