package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// halfOpenSuccesses is the number of consecutive half-open successes that close the circuit.
const halfOpenSuccesses = 3

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	Timeout          time.Duration
}

// DefaultBreakerConfig returns threshold 5 and a 60 second open timeout.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{Name: name, FailureThreshold: 5, Timeout: 60 * time.Second}
}

// BreakerStats is a point-in-time snapshot of the breaker.
type BreakerStats struct {
	State        State
	FailureCount int
	SuccessCount int
}

// CircuitBreaker rejects calls after repeated failures and probes for recovery
// once the open timeout has elapsed. Transitions are evaluated lazily.
type CircuitBreaker struct {
	cfg      BreakerConfig
	logger   *slog.Logger
	now      func() time.Time
	onChange func(name string, state State)

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// BreakerOption customises a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithStateObserver registers a callback invoked on every state change.
func WithStateObserver(fn func(name string, state State)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker constructs a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig, logger *slog.Logger, opts ...BreakerOption) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cb := &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// IsAvailable reports whether a call may be attempted. An open breaker whose
// timeout has elapsed moves to half-open here.
func (cb *CircuitBreaker) IsAvailable() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if !cb.lastFailure.IsZero() && cb.now().Sub(cb.lastFailure) > cb.cfg.Timeout {
			cb.logger.Info("circuit breaker half-open", slog.String("name", cb.cfg.Name))
			cb.failures = 0
			cb.successes = 0
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	}
	return false
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= halfOpenSuccesses {
			cb.logger.Info("circuit breaker closed after recovery", slog.String("name", cb.cfg.Name))
			cb.failures = 0
			cb.successes = 0
			cb.lastFailure = time.Time{}
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure notes a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.logger.Warn("circuit breaker opened",
				slog.String("name", cb.cfg.Name),
				slog.Int("failures", cb.failures),
			)
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.logger.Warn("circuit breaker reopened from half-open", slog.String("name", cb.cfg.Name))
		cb.successes = 0
		cb.transition(StateOpen)
	}
}

// State returns the current state without evaluating the timeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.lastFailure = time.Time{}
	cb.transition(StateClosed)
	cb.logger.Info("circuit breaker reset", slog.String("name", cb.cfg.Name))
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{State: cb.state, FailureCount: cb.failures, SuccessCount: cb.successes}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	if cb.onChange != nil {
		cb.onChange(cb.cfg.Name, next)
	}
}
