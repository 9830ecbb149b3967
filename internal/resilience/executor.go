package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without attempting it.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrTransportFailure marks a call that still failed after all retries.
	ErrTransportFailure = errors.New("transport failure")
)

// Executor composes a circuit breaker with a retry policy.
type Executor struct {
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewExecutor wires breaker and retry together; a nil breaker gets defaults.
func NewExecutor(breaker *CircuitBreaker, retry RetryPolicy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultBreakerConfig("default"), logger)
	}
	return &Executor{breaker: breaker, retry: retry.WithLogger(logger)}
}

// Breaker exposes the underlying circuit breaker.
func (e *Executor) Breaker() *CircuitBreaker {
	return e.breaker
}

// Execute checks availability, runs op under the retry policy and records the
// final outcome on the breaker.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !e.breaker.IsAvailable() {
		return fmt.Errorf("%s: %w", e.breaker.Name(), ErrCircuitOpen)
	}
	if err := e.retry.Do(ctx, op); err != nil {
		e.breaker.RecordFailure()
		return fmt.Errorf("%s: %w: %w", e.breaker.Name(), ErrTransportFailure, err)
	}
	e.breaker.RecordSuccess()
	return nil
}
