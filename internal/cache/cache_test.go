package cache

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komodo-search/komodo/internal/search"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (f *fakeBackend) GetBytes(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.([]byte)
	return nil
}

func (f *fakeBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func TestGetOrComputeCachesSuccess(t *testing.T) {
	c := New(newFakeBackend(), time.Minute, nil)
	ctx := context.Background()
	var calls atomic.Int32
	compute := func() *search.Result {
		calls.Add(1)
		return &search.Result{Success: true, TotalMatches: 7}
	}

	q := search.Query{Required: search.QueryFilter{Terms: []string{"b", "a"}}}
	res, hit := c.GetOrCompute(ctx, "idx", q, compute)
	require.False(t, hit)
	assert.Equal(t, 7, res.TotalMatches)

	reordered := search.Query{Required: search.QueryFilter{Terms: []string{"a", "b"}}, PostbackURL: "http://x"}
	res, hit = c.GetOrCompute(ctx, "idx", reordered, compute)
	require.True(t, hit)
	assert.Equal(t, 7, res.TotalMatches)
	assert.Equal(t, int32(1), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetOrComputeSkipsFailures(t *testing.T) {
	c := New(newFakeBackend(), time.Minute, nil)
	ctx := context.Background()
	var calls atomic.Int32
	compute := func() *search.Result {
		calls.Add(1)
		return &search.Result{Success: false}
	}
	c.GetOrCompute(ctx, "idx", search.Query{}, compute)
	c.GetOrCompute(ctx, "idx", search.Query{}, compute)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidateIndexIsScoped(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, time.Minute, nil)
	ctx := context.Background()
	ok := func() *search.Result { return &search.Result{Success: true} }

	c.GetOrCompute(ctx, "one", search.Query{}, ok)
	c.GetOrCompute(ctx, "two", search.Query{}, ok)
	require.Len(t, backend.data, 2)

	c.InvalidateIndex(ctx, "one")
	_, hit := c.Get(ctx, "one", search.Query{})
	assert.False(t, hit)
	_, hit = c.Get(ctx, "two", search.Query{})
	assert.True(t, hit)
}
