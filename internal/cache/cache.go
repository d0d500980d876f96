// Package cache memoises search results in Redis. Keys are scoped by index
// GUID so a write to one index invalidates only that index's entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/komodo-search/komodo/internal/search"
	"github.com/komodo-search/komodo/pkg/metrics"
	pkgredis "github.com/komodo-search/komodo/pkg/redis"
)

const keyPrefix = "komodo:search:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Backend = (*pkgredis.Client)(nil)

type QueryCache struct {
	client  Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(client Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, indexGUID string, q search.Query) (*search.Result, bool) {
	key := c.buildKey(indexGUID, q)
	data, err := c.client.GetBytes(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result search.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheLookup(true)
	c.logger.Debug("cache hit", "index_guid", indexGUID, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, indexGUID string, q search.Query, result *search.Result) {
	key := c.buildKey(indexGUID, q)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or runs compute once for all
// concurrent callers of the same query. Failed results are not cached.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	indexGUID string,
	q search.Query,
	compute func() *search.Result,
) (*search.Result, bool) {
	if result, ok := c.Get(ctx, indexGUID, q); ok {
		return result, true
	}
	key := c.buildKey(indexGUID, q)
	val, _, _ := c.group.Do(key, func() (interface{}, error) {
		result := compute()
		if result.Success {
			c.Set(ctx, indexGUID, q, result)
		}
		return result, nil
	})
	return val.(*search.Result), false
}

// InvalidateIndex drops every cached result of one index.
func (c *QueryCache) InvalidateIndex(ctx context.Context, indexGUID string) {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+indexGUID+":*")
	if err != nil {
		c.logger.Error("cache invalidate failed", "index_guid", indexGUID, "error", err)
		return
	}
	c.logger.Debug("cache invalidated", "index_guid", indexGUID, "keys_deleted", deleted)
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheLookup(false)
}

func (c *QueryCache) buildKey(indexGUID string, q search.Query) string {
	raw, _ := json.Marshal(normalizeQuery(q))
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%s:%x", keyPrefix, indexGUID, hash[:16])
}

// normalizeQuery makes term order irrelevant to the cache key. The postback
// URL does not affect the result and is dropped.
func normalizeQuery(q search.Query) search.Query {
	q.Required.Terms = sortedCopy(q.Required.Terms)
	q.Optional.Terms = sortedCopy(q.Optional.Terms)
	q.Exclude.Terms = sortedCopy(q.Exclude.Terms)
	q.PostbackURL = ""
	return q
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
