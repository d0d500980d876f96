// Package postback delivers the results of asynchronous operations out of
// band: an HTTP POST to the caller's postback URL and, when configured, an
// event on the index-complete Kafka topic. Deliveries go through a bounded
// queue drained by a fixed worker pool so slow targets cannot pile up
// goroutines.
package postback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/komodo-search/komodo/pkg/config"
	"github.com/komodo-search/komodo/pkg/kafka"
	"github.com/komodo-search/komodo/pkg/metrics"
	"github.com/komodo-search/komodo/pkg/resilience"
)

// Event names the operation a Job reports on.
type Event string

const (
	EventIndex     Event = "index"
	EventSearch    Event = "search"
	EventEnumerate Event = "enumerate"
)

// Job is one pending delivery.
type Job struct {
	URL       string    `json:"-"`
	Event     Event     `json:"event"`
	IndexGUID string    `json:"index_guid"`
	IndexName string    `json:"index_name"`
	Key       string    `json:"key,omitempty"`
	Result    any       `json:"result"`
	Queued    time.Time `json:"queued"`
}

// Dispatcher owns the queue and its workers.
type Dispatcher struct {
	cfg       config.IndexerConfig
	retry     resilience.RetryConfig
	client    *http.Client
	publisher kafka.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	queue    chan Job
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	breakers sync.Map // host -> *resilience.CircuitBreaker
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher also publishes every job to Kafka.
func WithPublisher(p kafka.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry replaces the default backoff schedule.
func WithRetry(r resilience.RetryConfig) Option {
	return func(d *Dispatcher) { d.retry = r }
}

func NewDispatcher(cfg config.IndexerConfig, opts ...Option) *Dispatcher {
	if cfg.PostbackQueueSize <= 0 {
		cfg.PostbackQueueSize = 256
	}
	if cfg.PostbackWorkers <= 0 {
		cfg.PostbackWorkers = 2
	}
	if cfg.PostbackTimeout <= 0 {
		cfg.PostbackTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		cfg:    cfg,
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
		client: &http.Client{},
		queue:  make(chan Job, cfg.PostbackQueueSize),
		logger: slog.Default().With("component", "postback"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers. They exit when Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.PostbackWorkers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info("postback workers started", "workers", d.cfg.PostbackWorkers, "queue_size", d.cfg.PostbackQueueSize)
}

// Enqueue accepts a job without blocking. It returns false when the job
// was dropped because the queue is full or the dispatcher is closed.
// Jobs with neither a URL nor a Kafka publisher are ignored.
func (d *Dispatcher) Enqueue(job Job) bool {
	if job.URL == "" && d.publisher == nil {
		return true
	}
	if job.Queued.IsZero() {
		job.Queued = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.Postback("dropped")
		return false
	}
	select {
	case d.queue <- job:
		d.metrics.SetPostbackQueueDepth(len(d.queue))
		return true
	default:
		d.logger.Warn("postback queue full, dropping", "event", job.Event, "index_guid", job.IndexGUID, "key", job.Key)
		d.metrics.Postback("dropped")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Info("postback workers stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for job := range d.queue {
		d.metrics.SetPostbackQueueDepth(len(d.queue))
		d.deliver(ctx, job)
	}
	d.logger.Debug("postback worker exiting", "worker", id)
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	body, err := json.Marshal(job)
	if err != nil {
		d.logger.Error("encoding postback failed", "event", job.Event, "error", err)
		d.metrics.Postback("failed")
		return
	}
	if job.URL != "" {
		if err := d.post(ctx, job.URL, body); err != nil {
			d.logger.Error("postback delivery failed", "url", job.URL, "event", job.Event, "key", job.Key, "error", err)
			d.metrics.Postback("failed")
		} else {
			d.logger.Debug("postback delivered", "url", job.URL, "event", job.Event, "key", job.Key)
			d.metrics.Postback("delivered")
		}
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, kafka.Event{Key: job.IndexGUID, Value: job}); err != nil {
			d.logger.Error("publishing completion event failed", "event", job.Event, "key", job.Key, "error", err)
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, target string, body []byte) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid postback url %q", target)
	}
	cb := d.breaker(u.Host)
	return resilience.Retry(ctx, "postback", d.retry, func() error {
		return cb.Execute(func() error {
			return resilience.WithTimeout(ctx, d.cfg.PostbackTimeout, "postback", func(ctx context.Context) error {
				return d.send(ctx, target, body)
			})
		})
	})
}

func (d *Dispatcher) send(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("building postback request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return resilience.Permanent(fmt.Errorf("postback rejected with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("postback failed with status %d", resp.StatusCode)
	}
}

func (d *Dispatcher) breaker(host string) *resilience.CircuitBreaker {
	if cb, ok := d.breakers.Load(host); ok {
		return cb.(*resilience.CircuitBreaker)
	}
	cb, _ := d.breakers.LoadOrStore(host, resilience.NewCircuitBreaker("postback:"+host, resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			if d.metrics != nil {
				d.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	}))
	return cb.(*resilience.CircuitBreaker)
}
