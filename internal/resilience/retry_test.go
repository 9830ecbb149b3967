package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleepPolicy(attempts int) (RetryPolicy, *[]time.Duration) {
	var slept []time.Duration
	p := DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p, slept := noSleepPolicy(5)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p, _ := noSleepPolicy(3)
	calls := 0
	boom := errors.New("boom")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryDelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, InitialDelay: time.Second, Multiplier: 10, MaxDelay: 30 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(8))
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("down")
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestExecutorRejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "dep", FailureThreshold: 1, Timeout: time.Hour}, nil)
	p, _ := noSleepPolicy(2)
	exec := NewExecutor(cb, p, nil)

	calls := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.ErrorIs(t, err, ErrTransportFailure)
	assert.Equal(t, 2, calls, "retry wraps the single guarded call")
	assert.Equal(t, StateOpen, cb.State())

	err = exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit must not attempt the operation")
}

func TestExecutorRecordsSuccess(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "dep", FailureThreshold: 3, Timeout: time.Hour}, nil)
	p, _ := noSleepPolicy(1)
	exec := NewExecutor(cb, p, nil)

	_ = exec.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	require.Equal(t, 1, cb.Stats().FailureCount)

	require.NoError(t, exec.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Zero(t, cb.Stats().FailureCount)
}
