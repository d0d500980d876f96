// Package komodo ties the parser, postings generator, term index and
// search evaluator together into searchable indices, and manages the set
// of open indices against the metadata database.
package komodo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/komodo-search/komodo/internal/blob"
	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/parser"
	"github.com/komodo-search/komodo/internal/postback"
	"github.com/komodo-search/komodo/internal/postings"
	"github.com/komodo-search/komodo/internal/search"
	"github.com/komodo-search/komodo/internal/terms"
	"github.com/komodo-search/komodo/pkg/config"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
	"github.com/komodo-search/komodo/pkg/logger"
	"github.com/komodo-search/komodo/pkg/metrics"
)

// Postbacker accepts out-of-band deliveries.
type Postbacker interface {
	Enqueue(job postback.Job) bool
}

// QueryCache memoises search results per index.
type QueryCache interface {
	GetOrCompute(ctx context.Context, indexGUID string, q search.Query, compute func() *search.Result) (*search.Result, bool)
	InvalidateIndex(ctx context.Context, indexGUID string)
}

// Options carries the collaborators shared by every index.
type Options struct {
	Metadata metadata.Store
	Terms    *terms.Index
	Blobs    blob.Provider
	Postings postings.Options
	Search   config.SearchConfig
	Postback Postbacker
	Cache    QueryCache
	Metrics  *metrics.Metrics
}

// Index is one open search index.
type Index struct {
	rec      metadata.IndexRecord
	meta     metadata.Store
	terms    *terms.Index
	source   blob.Store
	parsed   blob.Store
	postings blob.Store
	opts     postings.Options
	eval     *search.Evaluator
	postback Postbacker
	cache    QueryCache
	metrics  *metrics.Metrics
	logger   *slog.Logger

	locks      docLocks
	lifecycle  sync.Mutex
	destroying atomic.Bool
	closed     atomic.Bool
	inflight   sync.WaitGroup
	bg         context.Context
	cancel     context.CancelFunc
}

// OpenIndex opens the stores of rec. It does not write the index row.
func OpenIndex(rec metadata.IndexRecord, opts Options) (*Index, error) {
	stores := make(map[blob.Kind]blob.Store, 3)
	for _, kind := range []blob.Kind{blob.KindSource, blob.KindParsed, blob.KindPostings} {
		s, err := opts.Blobs.Open(rec.GUID, kind)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.IDRetrieveFailed, err, "opening "+string(kind)+" store")
		}
		stores[kind] = s
	}
	ti := opts.Terms
	if ti == nil {
		ti = terms.New(opts.Metadata)
	}
	bg, cancel := context.WithCancel(context.Background())
	idx := &Index{
		rec:      rec,
		meta:     opts.Metadata,
		terms:    ti,
		source:   stores[blob.KindSource],
		parsed:   stores[blob.KindParsed],
		postings: stores[blob.KindPostings],
		opts:     opts.Postings,
		postback: opts.Postback,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   logger.WithIndex("komodo-index", rec.Name, rec.GUID),
		bg:       bg,
		cancel:   cancel,
	}
	idx.eval = search.NewEvaluator(search.Config{
		IndexGUID:         rec.GUID,
		Metadata:          opts.Metadata,
		Terms:             ti,
		Source:            idx.source,
		Parsed:            idx.parsed,
		Postings:          idx.postings,
		Options:           opts.Postings,
		DefaultMaxResults: opts.Search.DefaultMaxResults,
		MaxResults:        opts.Search.MaxResults,
	})
	return idx, nil
}

func (i *Index) GUID() string { return i.rec.GUID }

func (i *Index) Name() string { return i.rec.Name }

func (i *Index) Record() metadata.IndexRecord { return i.rec }

// PostingsOptions returns the index-wide tokenization policy.
func (i *Index) PostingsOptions() postings.Options { return i.opts }

func (i *Index) checkUsable() error {
	if i.destroying.Load() {
		return apperrors.New(apperrors.IDDestroyInProgress, apperrors.ErrDestroyInProgress, i.rec.Name)
	}
	if i.closed.Load() {
		return apperrors.Newf(apperrors.IDRetrieveFailed, apperrors.ErrIndexNotFound, "index %s is closed", i.rec.Name)
	}
	return nil
}

// begin registers a mutating operation so Close and Destroy can wait for
// it. The returned func must be called exactly once.
func (i *Index) begin() (func(), error) {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()
	if err := i.checkUsable(); err != nil {
		return nil, err
	}
	i.inflight.Add(1)
	return i.inflight.Done, nil
}

// Stats returns the row counts of the index.
func (i *Index) Stats(ctx context.Context) (metadata.IndexStats, error) {
	st, err := i.meta.Stats(ctx, i.rec.GUID)
	if err != nil {
		return st, apperrors.Wrap(apperrors.IDReadError, err, "reading index stats")
	}
	return st, nil
}

// GetSourceDocument returns the metadata of a source document.
func (i *Index) GetSourceDocument(ctx context.Context, guid string) (metadata.SourceDocument, error) {
	doc, err := i.meta.GetSourceDocument(ctx, i.rec.GUID, guid)
	if err != nil {
		return doc, apperrors.Wrap(apperrors.IDRetrieveFailed, err, "reading source document")
	}
	return doc, nil
}

// GetSourceContent returns the raw bytes of a source document.
func (i *Index) GetSourceContent(ctx context.Context, guid string) ([]byte, error) {
	return i.readBlob(ctx, i.source, guid, "source content")
}

// GetParsedDocument returns the parsed metadata of a source document.
func (i *Index) GetParsedDocument(ctx context.Context, sourceGUID string) (metadata.ParsedDocument, error) {
	doc, err := i.meta.GetParsedDocumentBySource(ctx, i.rec.GUID, sourceGUID)
	if err != nil {
		return doc, apperrors.Wrap(apperrors.IDRetrieveFailed, err, "reading parsed document")
	}
	return doc, nil
}

// GetParsedContent returns the flattened parse result of a source document.
func (i *Index) GetParsedContent(ctx context.Context, sourceGUID string) (*parser.Result, error) {
	data, err := i.readBlob(ctx, i.parsed, sourceGUID, "parsed content")
	if err != nil {
		return nil, err
	}
	r, err := parser.Unmarshal(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "decoding parsed content")
	}
	return r, nil
}

// GetPostings returns the postings of a source document.
func (i *Index) GetPostings(ctx context.Context, sourceGUID string) (*postings.Document, error) {
	data, err := i.readBlob(ctx, i.postings, sourceGUID, "postings")
	if err != nil {
		return nil, err
	}
	d, err := postings.UnmarshalDocument(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "decoding postings")
	}
	return d, nil
}

func (i *Index) readBlob(ctx context.Context, s blob.Store, key, what string) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, apperrors.Newf(apperrors.IDRetrieveFailed, apperrors.ErrDocumentNotFound, "%s of %s", what, key)
		}
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "reading "+what)
	}
	return data, nil
}

// Destroy deletes every document, term and blob of the index. New adds,
// searches and removals are rejected from the moment it starts. The index
// row itself belongs to the Manager.
func (i *Index) Destroy(ctx context.Context) error {
	if !i.setFlag(&i.destroying) {
		return apperrors.New(apperrors.IDDestroyInProgress, apperrors.ErrDestroyInProgress, i.rec.Name)
	}
	i.logger.Info("destroying index")
	i.stopBackground(true)

	var errs []error
	if err := i.meta.PurgeIndex(ctx, i.rec.GUID); err != nil {
		errs = append(errs, err)
	}
	for _, s := range []blob.Store{i.postings, i.parsed, i.source} {
		if err := s.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	i.invalidate(ctx)
	if err := errors.Join(errs...); err != nil {
		return apperrors.Wrap(apperrors.IDDeleteError, err, "destroying index "+i.rec.Name)
	}
	i.logger.Info("index destroyed")
	return nil
}

// Close waits for in-flight adds and removals and releases the index.
// Stored data is untouched.
func (i *Index) Close() error {
	if !i.setFlag(&i.closed) {
		return nil
	}
	i.stopBackground(false)
	i.logger.Debug("index closed")
	return nil
}

// setFlag flips a lifecycle flag under the lock begin takes, so no
// operation can register after it returns true.
func (i *Index) setFlag(f *atomic.Bool) bool {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()
	return f.CompareAndSwap(false, true)
}

// stopBackground waits for registered operations. When abort is set,
// detached adds are cancelled first instead of being allowed to finish.
func (i *Index) stopBackground(abort bool) {
	if abort {
		i.cancel()
	}
	i.inflight.Wait()
	i.cancel()
}

func (i *Index) invalidate(ctx context.Context) {
	if i.cache != nil {
		i.cache.InvalidateIndex(ctx, i.rec.GUID)
	}
}

// docLocks serialises Add and Remove on the same document GUID.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func (l *docLocks) lock(guid string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*docLock)
	}
	dl, ok := l.locks[guid]
	if !ok {
		dl = &docLock{}
		l.locks[guid] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, guid)
		}
		l.mu.Unlock()
	}
}
