// Package resilience provides the fault-tolerance primitives used for
// outbound delivery: a circuit breaker, exponential-backoff retry and a
// context-based timeout wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker refuses calls.
// It is marked permanent so Retry gives up immediately.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker phase. The numeric values are exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig controls when a target is considered down and how
// long it is left alone. OnStateChange runs without the breaker lock held.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	OnStateChange       func(name string, to State)
}

// CircuitBreaker guards one delivery target. Errors marked Permanent mean
// the target answered and declined, so they do not count against it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker returns a closed breaker; zero config fields fall back
// to five failures, a 30s cool-down and a single half-open probe.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "breaker", "target", name),
	}
}

// Execute calls fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if wait, ok := cb.admit(); !ok {
		return Permanent(fmt.Errorf("%w: %s, next probe in %v", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond)))
	}
	err := fn()
	cb.record(err == nil || isPermanent(err))
	return err
}

// GetState reports the current phase.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears its failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	prev := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	cb.logger.Info("breaker reset", "from", prev)
	cb.notify(StateClosed)
}

// admit decides whether a call may proceed. When it may not, it returns the
// time left until the next probe is allowed.
func (cb *CircuitBreaker) admit() (time.Duration, bool) {
	cb.mu.Lock()
	if cb.state == StateOpen {
		left := cb.cfg.ResetTimeout - time.Since(cb.openedAt)
		if left > 0 {
			cb.mu.Unlock()
			return left, false
		}
		cb.moveTo(StateHalfOpen)
		cb.mu.Unlock()
		cb.logger.Info("probing target", "idle_for", cb.cfg.ResetTimeout)
		cb.notify(StateHalfOpen)
		cb.mu.Lock()
	}
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return 0, false
		}
		cb.probes++
	}
	return 0, true
}

func (cb *CircuitBreaker) record(healthy bool) {
	cb.mu.Lock()
	var next State
	switch {
	case healthy:
		cb.failures = 0
		next = StateClosed
	case cb.state == StateHalfOpen:
		next = StateOpen
	default:
		cb.failures++
		next = cb.state
		if cb.failures >= cb.cfg.FailureThreshold {
			next = StateOpen
		}
	}
	if next == cb.state {
		cb.mu.Unlock()
		return
	}
	failures := cb.failures
	cb.moveTo(next)
	cb.mu.Unlock()

	if next == StateOpen {
		cb.logger.Warn("target marked down", "failures", failures, "cool_down", cb.cfg.ResetTimeout)
	} else {
		cb.logger.Info("target recovered")
	}
	cb.notify(next)
}

// moveTo must be called with mu held. It returns the previous state.
func (cb *CircuitBreaker) moveTo(s State) State {
	prev := cb.state
	cb.state = s
	cb.probes = 0
	switch s {
	case StateOpen:
		cb.openedAt = time.Now()
	case StateClosed:
		cb.failures = 0
	}
	return prev
}

func (cb *CircuitBreaker) notify(s State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, s)
	}
}
