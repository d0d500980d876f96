package komodo

import (
	"context"
	"time"

	"github.com/komodo-search/komodo/internal/postback"
	"github.com/komodo-search/komodo/internal/search"
)

// Search evaluates q, consulting the query cache when one is configured.
// When q names a postback URL the result is also delivered there.
func (i *Index) Search(ctx context.Context, q search.Query) *search.Result {
	start := time.Now()
	if err := i.checkUsable(); err != nil {
		res := &search.Result{Timing: search.StartTiming()}
		return res.Fail(err)
	}
	var res *search.Result
	if i.cache != nil {
		res, _ = i.cache.GetOrCompute(ctx, i.rec.GUID, q, func() *search.Result {
			return i.eval.Search(ctx, q)
		})
	} else {
		res = i.eval.Search(ctx, q)
	}
	i.metrics.ObserveQuery("search", time.Since(start), res.TotalMatches, !res.Success)
	i.deliver(postback.EventSearch, q.PostbackURL, res)
	return res
}

// Enumerate lists source documents whose metadata matches q.Filters.
func (i *Index) Enumerate(ctx context.Context, q search.EnumerationQuery) *search.EnumerationResult {
	start := time.Now()
	if err := i.checkUsable(); err != nil {
		res := &search.EnumerationResult{Timing: search.StartTiming()}
		return res.Fail(err)
	}
	res := i.eval.Enumerate(ctx, q)
	i.metrics.ObserveQuery("enumerate", time.Since(start), res.TotalMatches, !res.Success)
	i.deliver(postback.EventEnumerate, q.PostbackURL, res)
	return res
}

func (i *Index) deliver(event postback.Event, url string, result any) {
	if url == "" || i.postback == nil {
		return
	}
	i.postback.Enqueue(postback.Job{
		URL:       url,
		Event:     event,
		IndexGUID: i.rec.GUID,
		IndexName: i.rec.Name,
		Result:    result,
	})
}
