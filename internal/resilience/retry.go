package resilience

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy retries a single operation with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 attempts starting at 100ms, doubling, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// WithLogger returns a copy of the policy that logs retries to logger.
func (p RetryPolicy) WithLogger(logger *slog.Logger) RetryPolicy {
	p.logger = logger
	return p
}

// Delay returns the backoff before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, attempts are exhausted or ctx is done.
// The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", slog.Int("attempts", attempt))
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	logger.Warn("operation failed after retries", slog.Int("attempts", attempts), slog.Any("error", err))
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
