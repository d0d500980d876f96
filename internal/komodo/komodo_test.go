package komodo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komodo-search/komodo/internal/blob"
	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/parser"
	"github.com/komodo-search/komodo/internal/postback"
	"github.com/komodo-search/komodo/internal/postings"
	"github.com/komodo-search/komodo/internal/search"
	"github.com/komodo-search/komodo/internal/terms"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

type recorder struct {
	mu   sync.Mutex
	jobs []postback.Job
	got  chan postback.Job
}

func newRecorder() *recorder {
	return &recorder{got: make(chan postback.Job, 64)}
}

func (r *recorder) Enqueue(job postback.Job) bool {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	r.got <- job
	return true
}

func testOptions(rec *recorder) Options {
	meta := metadata.NewMemoryStore()
	opts := Options{
		Metadata: meta,
		Terms:    terms.New(meta),
		Blobs:    blob.NewMemoryProvider(),
		Postings: postings.DefaultOptions(),
	}
	if rec != nil {
		opts.Postback = rec
	}
	return opts
}

func openTestIndex(t *testing.T, opts Options) *Index {
	t.Helper()
	idx, err := OpenIndex(metadata.IndexRecord{GUID: "idx-1", Name: "products", Created: time.Now().UTC()}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func jsonRequest(guid, body string) AddRequest {
	return AddRequest{GUID: guid, Name: guid + ".json", Type: parser.TypeJSON, Data: []byte(body), Parse: true}
}

func TestAddIndexesDocument(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, testOptions(nil))

	res := idx.Add(ctx, jsonRequest("d1", `{"name":"Blue Kettle","price":25}`))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, StateIndexed, res.State)
	assert.Equal(t, apperrors.IDNone, res.Error)
	require.NotNil(t, res.SourceDocument)
	assert.Equal(t, "application/json", res.SourceDocument.ContentType)
	assert.NotEmpty(t, res.SourceDocument.ContentMD5)
	assert.NotNil(t, res.SourceDocument.Indexed)
	require.NotNil(t, res.Postings)
	assert.Positive(t, res.Postings.Terms)

	sr := idx.Search(ctx, search.Query{Required: search.QueryFilter{Terms: []string{"kettle"}}})
	require.True(t, sr.Success, sr.Message)
	require.Len(t, sr.Documents, 1)
	assert.Equal(t, "d1", sr.Documents[0].Document.GUID)

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.SourceDocuments)
	assert.Equal(t, int64(1), st.IndexedDocuments)

	data, err := idx.GetSourceContent(ctx, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Blue Kettle","price":25}`, string(data))

	parsed, err := idx.GetParsedContent(ctx, "d1")
	require.NoError(t, err)
	n, ok := parsed.Node("name")
	require.True(t, ok)
	assert.Equal(t, "Blue Kettle", n.Value)

	pd, err := idx.GetPostings(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, pd.Frequency("kettle"))
}

func TestAddStates(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, testOptions(nil))

	req := jsonRequest("skip-parse", `{"a":"kettle"}`)
	req.Parse = false
	res := idx.Add(ctx, req)
	require.True(t, res.Success)
	assert.Equal(t, StateParseSkipped, res.State)

	req = jsonRequest("skip-postings", `{"a":"kettle"}`)
	req.SkipPostings = true
	res = idx.Add(ctx, req)
	require.True(t, res.Success)
	assert.Equal(t, StatePostingsSkipped, res.State)
	require.NotNil(t, res.ParsedDocument)
	assert.Nil(t, res.ParsedDocument.Indexed)

	sr := idx.Search(ctx, search.Query{Required: search.QueryFilter{Terms: []string{"kettle"}}})
	require.True(t, sr.Success)
	assert.Empty(t, sr.Documents)

	res = idx.Add(ctx, jsonRequest("broken", `{"a":`))
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.IDParseError, res.Error)
	assert.Equal(t, StateStored, res.State)
	_, err := idx.GetSourceDocument(ctx, "broken")
	assert.NoError(t, err)

	res = idx.Add(ctx, AddRequest{Name: "empty", Type: parser.TypeJSON, Parse: true})
	assert.Equal(t, apperrors.IDMissingParams, res.Error)
	assert.Equal(t, StateReceived, res.State)
}

func TestAddRejectsDuplicateGUID(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, testOptions(nil))

	require.True(t, idx.Add(ctx, jsonRequest("d1", `{"a":"one"}`)).Success)
	res := idx.Add(ctx, jsonRequest("d1", `{"a":"two"}`))
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.IDWriteError, res.Error)

	data, err := idx.GetSourceContent(ctx, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"one"}`, string(data))
}

func TestAsyncAddDeliversPostback(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	idx := openTestIndex(t, testOptions(rec))

	req := jsonRequest("d1", `{"title":"async kettle"}`)
	req.Async = true
	req.PostbackURL = "http://example.test/hook"
	res := idx.Add(ctx, req)
	require.True(t, res.Success)
	assert.True(t, res.Async)
	assert.Equal(t, StateStored, res.State)

	select {
	case job := <-rec.got:
		assert.Equal(t, postback.EventIndex, job.Event)
		assert.Equal(t, "http://example.test/hook", job.URL)
		assert.Equal(t, "d1", job.Key)
		final, ok := job.Result.(*IndexResult)
		require.True(t, ok)
		assert.True(t, final.Success)
		assert.Equal(t, StateIndexed, final.State)
	case <-time.After(5 * time.Second):
		t.Fatal("postback not delivered")
	}

	sr := idx.Search(ctx, search.Query{Required: search.QueryFilter{Terms: []string{"async"}}})
	require.True(t, sr.Success)
	assert.Len(t, sr.Documents, 1)
}

func TestSyncAddPublishesWithoutURL(t *testing.T) {
	rec := newRecorder()
	idx := openTestIndex(t, testOptions(rec))

	req := jsonRequest("d1", `{"a":"kettle"}`)
	req.PostbackURL = "http://example.test/hook"
	require.True(t, idx.Add(context.Background(), req).Success)

	job := <-rec.got
	assert.Empty(t, job.URL)
	assert.Equal(t, "d1", job.Key)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(nil)
	idx := openTestIndex(t, opts)

	require.True(t, idx.Add(ctx, jsonRequest("keep", `{"a":"kettle toaster"}`)).Success)
	require.True(t, idx.Add(ctx, jsonRequest("gone", `{"a":"kettle lamp"}`)).Success)

	require.NoError(t, idx.Remove(ctx, "keep", false))
	docs, err := opts.Terms.DocumentsForTerm(ctx, idx.GUID(), "toaster")
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = idx.GetSourceDocument(ctx, "keep")
	assert.Equal(t, apperrors.IDRetrieveFailed, apperrors.IDOf(err))
	_, err = idx.GetPostings(ctx, "keep")
	assert.Error(t, err)
	_, err = idx.source.Get(ctx, "keep")
	assert.NoError(t, err, "source bytes survive a non-destroying remove")

	require.NoError(t, idx.Remove(ctx, "gone", true))
	for _, s := range []blob.Store{idx.source, idx.parsed, idx.postings} {
		ok, err := s.Exists(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	sr := idx.Search(ctx, search.Query{Required: search.QueryFilter{Terms: []string{"kettle"}}})
	require.True(t, sr.Success)
	assert.Empty(t, sr.Documents)

	err = idx.Remove(ctx, "gone", false)
	assert.Equal(t, apperrors.IDRetrieveFailed, apperrors.IDOf(err))
}

func TestConcurrentAddRemoveSameDocument(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(nil)
	idx := openTestIndex(t, opts)

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			idx.Add(ctx, jsonRequest("d1", `{"a":"kettle"}`))
		}()
		go func() {
			defer wg.Done()
			_ = idx.Remove(ctx, "d1", true)
		}()
	}
	wg.Wait()

	_, err := idx.GetSourceDocument(ctx, "d1")
	docs, derr := opts.Terms.DocumentsForTerm(ctx, idx.GUID(), "kettle")
	require.NoError(t, derr)
	if err == nil {
		assert.Equal(t, []string{"d1"}, docs)
	} else {
		assert.Empty(t, docs)
	}
}

func TestDestroyRejectsNewWork(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, testOptions(nil))
	require.True(t, idx.Add(ctx, jsonRequest("d1", `{"a":"kettle"}`)).Success)

	require.NoError(t, idx.Destroy(ctx))

	res := idx.Add(ctx, jsonRequest("d2", `{"a":"kettle"}`))
	assert.Equal(t, apperrors.IDDestroyInProgress, res.Error)
	sr := idx.Search(ctx, search.Query{Required: search.QueryFilter{Terms: []string{"kettle"}}})
	assert.False(t, sr.Success)
	assert.Equal(t, apperrors.IDDestroyInProgress, sr.Error)
	assert.Equal(t, apperrors.IDDestroyInProgress, apperrors.IDOf(idx.Remove(ctx, "d1", false)))

	ok, err := idx.source.Exists(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnumerateThroughIndex(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	idx := openTestIndex(t, testOptions(rec))
	require.True(t, idx.Add(ctx, jsonRequest("a", `{"x":"one"}`)).Success)
	req := AddRequest{GUID: "b", Name: "b.txt", Type: parser.TypeText, Data: []byte("plain words"), Parse: true}
	require.True(t, idx.Add(ctx, req).Success)
	<-rec.got
	<-rec.got

	res := idx.Enumerate(ctx, search.EnumerationQuery{
		Filters:     []search.Filter{{Field: "DocumentType", Condition: search.Equals, Value: "Text"}},
		PostbackURL: "http://example.test/enum",
	})
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "b", res.Documents[0].GUID)

	job := <-rec.got
	assert.Equal(t, postback.EventEnumerate, job.Event)
	assert.Equal(t, "http://example.test/enum", job.URL)
}

func TestDocLocksReleaseEntries(t *testing.T) {
	var l docLocks
	unlock := l.lock("a")
	unlock()
	assert.Empty(t, l.locks)
}

type mapCache struct {
	mu      sync.Mutex
	results map[string]*search.Result
}

func (c *mapCache) GetOrCompute(_ context.Context, indexGUID string, _ search.Query, compute func() *search.Result) (*search.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.results[indexGUID]; ok {
		return res, true
	}
	res := compute()
	c.results[indexGUID] = res
	return res, false
}

func (c *mapCache) InvalidateIndex(_ context.Context, indexGUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, indexGUID)
}

func TestAddInvalidatesCacheOnEveryStoredOutcome(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(nil)
	opts.Cache = &mapCache{results: map[string]*search.Result{}}
	idx := openTestIndex(t, opts)

	require.True(t, idx.Add(ctx, jsonRequest("a", `{"name":"kettle"}`)).Success)
	require.Len(t, idx.Search(ctx, search.Query{}).Documents, 1)

	broken := idx.Add(ctx, jsonRequest("b", `{"x":`))
	require.False(t, broken.Success)
	require.Equal(t, StateStored, broken.State)
	assert.Len(t, idx.Search(ctx, search.Query{}).Documents, 2)

	skip := jsonRequest("c", `{"name":"teapot"}`)
	skip.SkipPostings = true
	require.Equal(t, StatePostingsSkipped, idx.Add(ctx, skip).State)
	assert.Len(t, idx.Search(ctx, search.Query{}).Documents, 3)

	raw := jsonRequest("d", `{"name":"mug"}`)
	raw.Parse = false
	require.Equal(t, StateParseSkipped, idx.Add(ctx, raw).State)
	assert.Len(t, idx.Search(ctx, search.Query{}).Documents, 4)
}

type failingParsedStore struct {
	metadata.Store
}

func (failingParsedStore) InsertParsedDocument(context.Context, metadata.ParsedDocument) error {
	return errors.New("disk full")
}

func TestAddRollsBackParsedContent(t *testing.T) {
	ctx := context.Background()
	for _, skip := range []bool{false, true} {
		opts := testOptions(nil)
		opts.Metadata = failingParsedStore{Store: opts.Metadata}
		opts.Terms = terms.New(opts.Metadata)
		idx := openTestIndex(t, opts)

		req := jsonRequest("d1", `{"name":"Blue Kettle"}`)
		req.SkipPostings = skip
		res := idx.Add(ctx, req)
		require.False(t, res.Success)
		assert.Equal(t, apperrors.IDWriteError, res.Error)

		_, err := idx.parsed.Get(ctx, "d1")
		assert.ErrorIs(t, err, blob.ErrNotFound, "skip postings %v", skip)
		_, err = idx.postings.Get(ctx, "d1")
		assert.ErrorIs(t, err, blob.ErrNotFound)
		docs, err := opts.Terms.DocumentsForTerm(ctx, "idx-1", "kettle")
		require.NoError(t, err)
		assert.Empty(t, docs)
	}
}
