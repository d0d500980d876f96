package postback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komodo-search/komodo/pkg/config"
	"github.com/komodo-search/komodo/pkg/kafka"
	"github.com/komodo-search/komodo/pkg/resilience"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDispatcherDeliversJSON(t *testing.T) {
	var mu sync.Mutex
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		assert.NoError(t, json.Unmarshal(body, &m))
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pub := &recordingPublisher{}
	d := NewDispatcher(config.IndexerConfig{PostbackWorkers: 2, PostbackQueueSize: 8},
		WithPublisher(pub), WithRetry(fastRetry()))
	d.Start(context.Background())

	require.True(t, d.Enqueue(Job{URL: srv.URL, Event: EventIndex, IndexGUID: "idx", Key: "doc-1", Result: map[string]bool{"success": true}}))
	require.True(t, d.Enqueue(Job{Event: EventIndex, IndexGUID: "idx", Key: "doc-2"}))
	d.Close()

	require.Len(t, got, 1)
	assert.Equal(t, "index", got[0]["event"])
	assert.Equal(t, "doc-1", got[0]["key"])
	assert.Len(t, pub.events, 2)
	assert.Equal(t, "idx", pub.events[0].Key)
}

func TestDispatcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(config.IndexerConfig{PostbackWorkers: 1}, WithRetry(fastRetry()))
	d.Start(context.Background())
	require.True(t, d.Enqueue(Job{URL: srv.URL, Event: EventSearch}))
	d.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcherDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(config.IndexerConfig{PostbackWorkers: 1}, WithRetry(fastRetry()))
	d.Start(context.Background())
	require.True(t, d.Enqueue(Job{URL: srv.URL, Event: EventSearch}))
	d.Close()
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcherQueueIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(config.IndexerConfig{PostbackWorkers: 1, PostbackQueueSize: 1}, WithRetry(fastRetry()))
	// Workers are not started, so nothing drains the queue.
	assert.True(t, d.Enqueue(Job{URL: srv.URL}))
	assert.False(t, d.Enqueue(Job{URL: srv.URL}))

	close(release)
	d.Start(context.Background())
	d.Close()
	assert.False(t, d.Enqueue(Job{URL: srv.URL}))
}

func TestDispatcherIgnoresJobsWithoutTarget(t *testing.T) {
	d := NewDispatcher(config.IndexerConfig{})
	assert.True(t, d.Enqueue(Job{Event: EventIndex}))
	d.Close()
}
