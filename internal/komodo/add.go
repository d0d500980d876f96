package komodo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/parser"
	"github.com/komodo-search/komodo/internal/postback"
	"github.com/komodo-search/komodo/internal/postings"
	"github.com/komodo-search/komodo/internal/search"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
	"github.com/komodo-search/komodo/pkg/tracing"
)

// State is the progress of one Add.
type State string

const (
	StateReceived        State = "Received"
	StateStored          State = "Stored"
	StateParseSkipped    State = "ParseSkipped"
	StateParsed          State = "Parsed"
	StatePostingsSkipped State = "PostingsSkipped"
	StatePosted          State = "Posted"
	StateIndexed         State = "Indexed"
)

// AddRequest describes a document to ingest. GUID is generated when empty.
type AddRequest struct {
	GUID         string              `json:"guid,omitempty"`
	OwnerGUID    string              `json:"owner_guid,omitempty"`
	Name         string              `json:"name"`
	Title        string              `json:"title,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	Type         parser.DocumentType `json:"type"`
	SourceURL    string              `json:"source_url,omitempty"`
	ContentType  string              `json:"content_type,omitempty"`
	Data         []byte              `json:"data"`
	Parse        bool                `json:"parse"`
	SkipPostings bool                `json:"skip_postings,omitempty"`
	Async        bool                `json:"async,omitempty"`
	PostbackURL  string              `json:"postback_url,omitempty"`
}

// PostingsSummary is the aggregate output of the postings generator.
type PostingsSummary struct {
	Terms    int `json:"terms"`
	Postings int `json:"postings"`
}

// IndexResult reports how far an Add got. On failure State is the last
// state reached, so a PARSE_ERROR result has State Stored.
type IndexResult struct {
	Success        bool                     `json:"success"`
	Error          apperrors.ErrorID        `json:"error"`
	Message        string                   `json:"message,omitempty"`
	GUID           string                   `json:"guid"`
	State          State                    `json:"state"`
	Async          bool                     `json:"async,omitempty"`
	SourceDocument *metadata.SourceDocument `json:"source_document,omitempty"`
	ParsedDocument *metadata.ParsedDocument `json:"parsed_document,omitempty"`
	Postings       *PostingsSummary         `json:"postings,omitempty"`
	Timing         search.Timing            `json:"timing"`

	// Err is the failure behind Error, for callers that classify it.
	Err error `json:"-"`
}

// Add stores a document and, when asked, parses and indexes it. In async
// mode Add returns once the document is Stored; parsing and indexing
// continue in the background and the final result goes to the postback
// queue.
func (i *Index) Add(ctx context.Context, req AddRequest) *IndexResult {
	res := &IndexResult{State: StateReceived, Timing: search.StartTiming()}
	if len(req.Data) == 0 {
		return i.finish(res, apperrors.New(apperrors.IDMissingParams, apperrors.ErrInvalidInput, "document data is required"))
	}
	done, err := i.begin()
	if err != nil {
		return i.finish(res, err)
	}
	res.GUID = req.GUID
	if res.GUID == "" {
		res.GUID = metadata.NewGUID()
	}
	unlock := i.locks.lock(res.GUID)
	ctx, span := tracing.StartSpan(ctx, "add", res.GUID)
	span.SetAttr("type", string(req.Type))
	trace := func(ctx context.Context) {
		span.End()
		span.Log(ctx, i.logger)
	}

	if err := i.store(ctx, req, res); err != nil {
		unlock()
		done()
		trace(ctx)
		return i.finish(res, err)
	}
	// The source row alone already joins the unfiltered candidate set.
	i.invalidate(ctx)
	if !req.Parse {
		res.State = StateParseSkipped
		unlock()
		done()
		trace(ctx)
		return i.notify(req, i.finish(res, nil))
	}

	if req.Async {
		bg := *res
		bgCtx := tracing.WithSpan(i.bg, span)
		go func() {
			defer done()
			defer unlock()
			err := i.process(bgCtx, req, &bg)
			i.invalidate(bgCtx)
			trace(bgCtx)
			i.notify(req, i.finish(&bg, err))
		}()
		res.Async = true
		res.Success = true
		res.Error = apperrors.IDNone
		res.Timing.Finish()
		return res
	}

	defer done()
	defer unlock()
	err = i.process(ctx, req, res)
	i.invalidate(ctx)
	trace(ctx)
	return i.notify(req, i.finish(res, err))
}

// store writes the raw bytes, then the source row. The blob is removed
// again if the row cannot be written.
func (i *Index) store(ctx context.Context, req AddRequest, res *IndexResult) error {
	_, span := tracing.StartChildSpan(ctx, "store")
	defer span.End()
	span.SetAttr("bytes", len(req.Data))
	if _, err := i.meta.GetSourceDocument(ctx, i.rec.GUID, res.GUID); err == nil {
		return apperrors.Newf(apperrors.IDWriteError, apperrors.ErrDocumentExists, "document %s", res.GUID)
	} else if !apperrors.IsNotFound(err) {
		return apperrors.Wrap(apperrors.IDReadError, err, "checking document")
	}

	sum := md5.Sum(req.Data)
	doc := metadata.SourceDocument{
		GUID:          res.GUID,
		OwnerGUID:     req.OwnerGUID,
		IndexGUID:     i.rec.GUID,
		Name:          req.Name,
		Title:         req.Title,
		Tags:          append([]string{}, req.Tags...),
		DocumentType:  req.Type,
		SourceURL:     req.SourceURL,
		ContentType:   req.ContentType,
		ContentLength: int64(len(req.Data)),
		ContentMD5:    hex.EncodeToString(sum[:]),
		Created:       time.Now().UTC(),
	}
	if doc.DocumentType == "" {
		doc.DocumentType = parser.TypeUnknown
	}
	if doc.ContentType == "" {
		doc.ContentType = defaultContentType(doc.DocumentType)
	}

	if err := i.source.Put(ctx, doc.GUID, req.Data); err != nil {
		return apperrors.Wrap(apperrors.IDWriteError, err, "writing source content")
	}
	if err := i.meta.InsertSourceDocument(ctx, doc); err != nil {
		if derr := i.source.Delete(ctx, doc.GUID); derr != nil {
			i.logger.Error("removing orphaned source content", "document", doc.GUID, "error", derr)
		}
		return apperrors.Wrap(apperrors.IDWriteError, err, "writing source document")
	}
	res.State = StateStored
	res.SourceDocument = &doc
	return nil
}

// process runs Parsed, then Posted and Indexed. The parsed row carries the
// Indexed timestamp only once every term link and the postings blob are
// written.
func (i *Index) process(ctx context.Context, req AddRequest, res *IndexResult) error {
	src := res.SourceDocument
	source := req.SourceURL
	if source == "" {
		source = req.Name
	}
	if source == "" {
		source = src.GUID
	}

	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	parsed, err := parser.Parse(req.Data, src.DocumentType, source)
	parseSpan.End()
	if err != nil {
		i.metrics.ParseFailed(string(src.DocumentType))
		return err
	}
	parsedData, err := parsed.Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.IDWriteError, err, "encoding parsed content")
	}
	if err := i.parsed.Put(ctx, src.GUID, parsedData); err != nil {
		return apperrors.Wrap(apperrors.IDWriteError, err, "writing parsed content")
	}
	res.State = StateParsed

	now := time.Now().UTC()
	pd := metadata.ParsedDocument{
		GUID:                metadata.NewGUID(),
		SourceDocumentGUID:  src.GUID,
		OwnerGUID:           src.OwnerGUID,
		IndexGUID:           i.rec.GUID,
		DocumentType:        parsed.Type,
		SourceContentLength: src.ContentLength,
		ParsedContentLength: int64(len(parsedData)),
		Created:             now,
	}
	if req.SkipPostings {
		if err := i.meta.InsertParsedDocument(ctx, pd); err != nil {
			i.rollbackPostings(src.GUID)
			return apperrors.Wrap(apperrors.IDWriteError, err, "writing parsed document")
		}
		res.State = StatePostingsSkipped
		res.ParsedDocument = &pd
		return nil
	}

	_, postSpan := tracing.StartChildSpan(ctx, "postings")
	defer postSpan.End()
	pr := postings.Generate(parsed, i.opts)
	postSpan.SetAttr("terms", pr.TermCount)
	postingsData, err := postings.NewDocument(src.GUID, pr, now).Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.IDWriteError, err, "encoding postings")
	}
	if err := i.postings.Put(ctx, src.GUID, postingsData); err != nil {
		return apperrors.Wrap(apperrors.IDWriteError, err, "writing postings")
	}
	if err := i.terms.LinkDocument(ctx, i.rec.GUID, src.GUID, pd.GUID, pr.SortedTerms()); err != nil {
		i.rollbackPostings(src.GUID)
		return err
	}
	res.State = StatePosted

	indexed := time.Now().UTC()
	pd.TermCount = int64(pr.TermCount)
	pd.PostingCount = int64(pr.PostingCount)
	pd.Indexed = &indexed
	if err := i.meta.InsertParsedDocument(ctx, pd); err != nil {
		i.rollbackPostings(src.GUID)
		return apperrors.Wrap(apperrors.IDWriteError, err, "writing parsed document")
	}
	if err := i.meta.SetSourceIndexed(ctx, i.rec.GUID, src.GUID, indexed); err != nil {
		return apperrors.Wrap(apperrors.IDWriteError, err, "marking document indexed")
	}
	indexedSrc := *src
	indexedSrc.Indexed = &indexed
	res.SourceDocument = &indexedSrc
	res.ParsedDocument = &pd
	res.Postings = &PostingsSummary{Terms: pr.TermCount, Postings: pr.PostingCount}
	res.State = StateIndexed
	return nil
}

// rollbackPostings undoes a partially written Posted step so no link,
// postings blob or parsed blob outlives a failed add. It uses a fresh
// context so a cancelled caller still gets cleaned up after.
func (i *Index) rollbackPostings(guid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := i.terms.Unlink(ctx, i.rec.GUID, guid); err != nil {
		i.logger.Error("rolling back term links", "document", guid, "error", err)
	}
	if err := i.postings.Delete(ctx, guid); err != nil {
		i.logger.Error("rolling back postings", "document", guid, "error", err)
	}
	if err := i.parsed.Delete(ctx, guid); err != nil {
		i.logger.Error("rolling back parsed content", "document", guid, "error", err)
	}
}

func (i *Index) finish(res *IndexResult, err error) *IndexResult {
	if err != nil {
		res.Success = false
		res.Err = err
		res.Error = apperrors.IDOf(err)
		res.Message = err.Error()
	} else {
		res.Success = true
		res.Error = apperrors.IDNone
	}
	res.Timing.Finish()
	postingCount := 0
	if res.Postings != nil {
		postingCount = res.Postings.Postings
	}
	i.metrics.DocumentAdded(string(res.State), postingCount)
	if err != nil {
		i.logger.Warn("document add failed", "document", res.GUID, "state", res.State, "error_id", res.Error, "error", err)
	} else {
		i.logger.Info("document added", "document", res.GUID, "state", res.State, "postings", postingCount, "total_ms", res.Timing.TotalMs)
	}
	return res
}

// notify hands the final result to the postback queue. Only async adds
// carry the caller's URL; every add still produces a completion event.
func (i *Index) notify(req AddRequest, res *IndexResult) *IndexResult {
	if i.postback == nil {
		return res
	}
	job := postback.Job{
		Event:     postback.EventIndex,
		IndexGUID: i.rec.GUID,
		IndexName: i.rec.Name,
		Key:       res.GUID,
		Result:    res,
	}
	if req.Async {
		job.URL = req.PostbackURL
	}
	i.postback.Enqueue(job)
	return res
}

func defaultContentType(t parser.DocumentType) string {
	switch t {
	case parser.TypeJSON, parser.TypeSQL:
		return "application/json"
	case parser.TypeXML:
		return "application/xml"
	case parser.TypeHTML:
		return "text/html"
	case parser.TypeText:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
