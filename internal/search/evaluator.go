package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/komodo-search/komodo/internal/blob"
	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/parser"
	"github.com/komodo-search/komodo/internal/postings"
	"github.com/komodo-search/komodo/internal/terms"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

const (
	requiredWeight       = 1.0
	optionalTermWeight   = 0.5
	optionalFreqWeight   = 0.1
	optionalFilterWeight = 0.5

	loadConcurrency = 8
)

// Config wires an Evaluator to the stores of one index.
type Config struct {
	IndexGUID         string
	Metadata          metadata.Store
	Terms             *terms.Index
	Source            blob.Store
	Parsed            blob.Store
	Postings          blob.Store
	Options           postings.Options
	DefaultMaxResults int
	MaxResults        int
}

// Evaluator runs searches and enumerations against one index. It holds no
// mutable state and is safe for concurrent use.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

func NewEvaluator(cfg Config) *Evaluator {
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 100
	}
	return &Evaluator{
		cfg:    cfg,
		logger: slog.Default().With("component", "search-evaluator", "index_guid", cfg.IndexGUID),
	}
}

type candidate struct {
	doc      metadata.SourceDocument
	postings *postings.Document
	parsed   *parser.Result
	score    float64
}

type docSet map[string]struct{}

func (e *Evaluator) limit(requested int) int {
	n := requested
	if n <= 0 {
		n = e.cfg.DefaultMaxResults
	}
	if e.cfg.MaxResults > 0 && n > e.cfg.MaxResults {
		n = e.cfg.MaxResults
	}
	return n
}

// Search evaluates q. Failures are reported on the result, never returned.
func (e *Evaluator) Search(ctx context.Context, q Query) *Result {
	res := &Result{Timing: StartTiming(), Documents: []Match{}}
	if err := q.validate(); err != nil {
		return res.Fail(apperrors.New(apperrors.IDMissingParams, apperrors.ErrInvalidInput, err.Error()))
	}
	required := normalizeTerms(q.Required.Terms, e.cfg.Options)
	optional := normalizeTerms(q.Optional.Terms, e.cfg.Options)
	exclude := normalizeTerms(q.Exclude.Terms, e.cfg.Options)

	var (
		ids   docSet
		known map[string]metadata.SourceDocument
		err   error
	)
	if len(required) == 0 {
		known, err = e.allDocuments(ctx)
		if err != nil {
			return res.Fail(err)
		}
		ids = make(docSet, len(known))
		for id := range known {
			ids[id] = struct{}{}
		}
	} else {
		ids, err = e.intersect(ctx, required)
		if err != nil {
			return res.Fail(err)
		}
	}

	optionalSets := make(map[string]docSet, len(optional))
	for _, term := range optional {
		set, err := e.documentsForTerm(ctx, term)
		if err != nil {
			return res.Fail(err)
		}
		optionalSets[term] = set
	}

	for _, term := range exclude {
		set, err := e.documentsForTerm(ctx, term)
		if err != nil {
			return res.Fail(err)
		}
		for id := range set {
			delete(ids, id)
		}
	}

	needPostings := len(required) > 0 || len(optional) > 0
	cands, err := e.load(ctx, ids, known, needPostings, q.hasFilters())
	if err != nil {
		return res.Fail(err)
	}

	matches := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		if !passesFilters(c, q.Required.Filters, q.Exclude.Filters) {
			continue
		}
		c.score = score(c, required, optional, optionalSets, q.Optional.Filters)
		matches = append(matches, c)
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.doc.Created.Equal(b.doc.Created) {
			return a.doc.Created.Before(b.doc.Created)
		}
		return a.doc.GUID < b.doc.GUID
	})

	res.TotalMatches = len(matches)
	start, end := Page(len(matches), q.StartIndex, e.limit(q.MaxResults))
	page := matches[start:end]
	res.Documents = make([]Match, len(page))
	for i, c := range page {
		res.Documents[i] = Match{Document: c.doc, Score: c.score}
	}
	e.attach(ctx, res.Documents, q.IncludeContent, q.IncludeParsedDoc)

	res.Success = true
	res.Error = apperrors.IDNone
	res.Timing.Finish()
	e.logger.Info("query executed",
		"required", required,
		"optional", optional,
		"exclude", exclude,
		"candidates", len(ids),
		"matches", res.TotalMatches,
		"returned", len(res.Documents),
		"total_ms", res.Timing.TotalMs,
	)
	return res
}

func (e *Evaluator) documentsForTerm(ctx context.Context, term string) (docSet, error) {
	guids, err := e.cfg.Terms.DocumentsForTerm(ctx, e.cfg.IndexGUID, term)
	if err != nil {
		return nil, err
	}
	set := make(docSet, len(guids))
	for _, g := range guids {
		set[g] = struct{}{}
	}
	return set, nil
}

// intersect resolves each term and keeps the documents present in all of
// them. An unknown term empties the set.
func (e *Evaluator) intersect(ctx context.Context, required []string) (docSet, error) {
	var out docSet
	for _, term := range required {
		set, err := e.documentsForTerm(ctx, term)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = set
		} else {
			for id := range out {
				if _, ok := set[id]; !ok {
					delete(out, id)
				}
			}
		}
		if len(out) == 0 {
			return docSet{}, nil
		}
	}
	return out, nil
}

func (e *Evaluator) allDocuments(ctx context.Context) (map[string]metadata.SourceDocument, error) {
	docs, err := e.cfg.Metadata.ListSourceDocuments(ctx, e.cfg.IndexGUID, metadata.Page{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "listing documents")
	}
	out := make(map[string]metadata.SourceDocument, len(docs))
	for _, d := range docs {
		out[d.GUID] = d
	}
	return out, nil
}

// load fetches what scoring and filtering need for every candidate.
// Candidates whose source row has disappeared are dropped.
func (e *Evaluator) load(ctx context.Context, ids docSet, known map[string]metadata.SourceDocument, needPostings, needParsed bool) ([]*candidate, error) {
	guids := make([]string, 0, len(ids))
	for id := range ids {
		guids = append(guids, id)
	}
	sort.Strings(guids)
	slots := make([]*candidate, len(guids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, guid := range guids {
		i, guid := i, guid
		g.Go(func() error {
			c := &candidate{}
			if doc, ok := known[guid]; ok {
				c.doc = doc
			} else {
				doc, err := e.cfg.Metadata.GetSourceDocument(gctx, e.cfg.IndexGUID, guid)
				if err != nil {
					if apperrors.IsNotFound(err) {
						return nil
					}
					return apperrors.Wrap(apperrors.IDReadError, err, "reading document metadata")
				}
				c.doc = doc
			}
			if needParsed && c.doc.DocumentType == parser.TypeText {
				return apperrors.Newf(apperrors.IDMissingParams, apperrors.ErrUnsupportedType,
					"filters unsupported for type %s", parser.TypeText)
			}
			if needPostings {
				p, err := e.readPostings(gctx, guid)
				if err != nil {
					return err
				}
				c.postings = p
			}
			if needParsed {
				p, err := e.readParsed(gctx, guid)
				if err != nil {
					return err
				}
				c.parsed = p
			}
			slots[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]*candidate, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Evaluator) readPostings(ctx context.Context, guid string) (*postings.Document, error) {
	data, err := e.cfg.Postings.Get(ctx, guid)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "reading postings")
	}
	doc, err := postings.UnmarshalDocument(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "decoding postings")
	}
	return doc, nil
}

func (e *Evaluator) readParsed(ctx context.Context, guid string) (*parser.Result, error) {
	data, err := e.cfg.Parsed.Get(ctx, guid)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "reading parsed document")
	}
	r, err := parser.Unmarshal(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "decoding parsed document")
	}
	return r, nil
}

// passesFilters applies Required and Exclude filters. A document without a
// parsed form cannot satisfy a Required filter and never matches an
// Exclude filter.
func passesFilters(c *candidate, required, exclude []Filter) bool {
	if c.parsed == nil {
		return len(required) == 0
	}
	for _, f := range required {
		if !f.matchNodes(c.parsed) {
			return false
		}
	}
	for _, f := range exclude {
		if f.matchNodes(c.parsed) {
			return false
		}
	}
	return true
}

// score sums required term frequencies and adds a bonus for every matched
// optional term and filter.
func score(c *candidate, required, optional []string, optionalSets map[string]docSet, optionalFilters []Filter) float64 {
	var s float64
	for _, term := range required {
		s += float64(c.postings.Frequency(term)) * requiredWeight
	}
	for _, term := range optional {
		if _, ok := optionalSets[term][c.doc.GUID]; !ok {
			continue
		}
		s += (1 + optionalFreqWeight*float64(c.postings.Frequency(term))) * optionalTermWeight
	}
	if c.parsed != nil {
		for _, f := range optionalFilters {
			if f.matchNodes(c.parsed) {
				s += optionalFilterWeight
			}
		}
	}
	return math.Round(s*10000) / 10000
}

// attach fetches raw content and parsed metadata for a result page.
// Failures become per-document warnings.
func (e *Evaluator) attach(ctx context.Context, page []Match, content, parsed bool) {
	if !content && !parsed {
		return
	}
	var g errgroup.Group
	g.SetLimit(loadConcurrency)
	for i := range page {
		m := &page[i]
		g.Go(func() error {
			var warnings []string
			if content {
				data, err := e.cfg.Source.Get(ctx, m.Document.GUID)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("content unavailable: %v", err))
				} else {
					m.Data = data
				}
			}
			if parsed {
				pd, err := e.cfg.Metadata.GetParsedDocumentBySource(ctx, e.cfg.IndexGUID, m.Document.GUID)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("parsed document unavailable: %v", err))
				} else {
					m.Parsed = &pd
				}
			}
			m.Warning = strings.Join(warnings, "; ")
			return nil
		})
	}
	_ = g.Wait()
}
