package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

func latencyEvent(ms float64) models.Event {
	return models.NewEvent(models.ModuleObservatory, models.EventTypeTelemetry, models.SeverityInfo,
		models.LatencyTelemetry(models.LatencyMetrics{ModelID: "m", RequestID: "r", TotalLatencyMS: ms}))
}

func publishEvents(t *testing.T, transport Transport, events ...models.Event) {
	t.Helper()
	codec, _ := NewCodec("")
	for _, ev := range events {
		data, err := codec.Encode(ev)
		require.NoError(t, err)
		require.NoError(t, transport.Publish(context.Background(), ev.EventID.String(), data))
	}
}

func startIngester(t *testing.T, ing *Ingester) (context.CancelFunc, *sync.WaitGroup) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ing.Run(ctx)
	}()
	return cancel, &wg
}

func TestIngesterDropsMalformedMessages(t *testing.T) {
	transport := NewMemoryTransport(16)
	publishEvents(t, transport, latencyEvent(1), latencyEvent(2))
	require.NoError(t, transport.Publish(context.Background(), "bad", []byte("{broken")))
	publishEvents(t, transport, latencyEvent(3))

	ing := NewIngester(transport, nil, IngesterConfig{BatchSize: 10, FetchWait: 10 * time.Millisecond}, nil)
	cancel, wg := startIngester(t, ing)

	var got []float64
	for len(got) < 3 {
		select {
		case ev := <-ing.Events():
			got = append(got, ev.Payload.Telemetry.Latency.TotalLatencyMS)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	cancel()
	wg.Wait()

	assert.Equal(t, []float64{1, 2, 3}, got, "arrival order is preserved")
	stats := ing.Stats()
	assert.EqualValues(t, 4, stats.Received)
	assert.EqualValues(t, 3, stats.Processed)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 4, transport.Acked(), "malformed messages are acked and dropped")

	_, open := <-ing.Events()
	assert.False(t, open, "output channel is closed after Run returns")
}

func TestIngesterBlocksOnFullChannel(t *testing.T) {
	transport := NewMemoryTransport(16)
	publishEvents(t, transport, latencyEvent(1), latencyEvent(2), latencyEvent(3), latencyEvent(4), latencyEvent(5))

	ing := NewIngester(transport, nil, IngesterConfig{BatchSize: 1, ChannelCapacity: 2, FetchWait: 10 * time.Millisecond}, nil)
	cancel, wg := startIngester(t, ing)
	defer func() {
		cancel()
		wg.Wait()
	}()

	require.Eventually(t, func() bool { return ing.Stats().Processed == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, ing.Stats().Processed, "ingester must wait for the consumer")

	for i := 0; i < 5; i++ {
		select {
		case <-ing.Events():
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
	assert.EqualValues(t, 5, ing.Stats().Processed)
}

func TestIngesterFlushesPartialBatchOnShutdown(t *testing.T) {
	transport := NewMemoryTransport(16)
	publishEvents(t, transport, latencyEvent(1), latencyEvent(2))

	// A batch size above the message count and a long wait keep the events
	// buffered until cancellation.
	ing := NewIngester(transport, nil, IngesterConfig{BatchSize: 100, FetchWait: time.Hour}, nil)
	cancel, wg := startIngester(t, ing)

	require.Eventually(t, func() bool { return ing.Stats().Received == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	var n int
	for range ing.Events() {
		n++
	}
	assert.Equal(t, 2, n)
}

// failingTransport wraps a transport whose subscriptions fail their first
// fetches with a transient error.
type failingTransport struct {
	Transport
	failures int

	mu       sync.Mutex
	attempts []time.Time
}

func (f *failingTransport) Subscribe(ctx context.Context) (Subscription, error) {
	sub, err := f.Transport.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return &failingSubscription{Subscription: sub, owner: f}, nil
}

func (f *failingTransport) Attempts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.attempts...)
}

type failingSubscription struct {
	Subscription
	owner *failingTransport
}

func (s *failingSubscription) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	s.owner.mu.Lock()
	s.owner.attempts = append(s.owner.attempts, time.Now())
	fail := len(s.owner.attempts) <= s.owner.failures
	s.owner.mu.Unlock()
	if fail {
		return nil, errors.New("stream leader unavailable")
	}
	return s.Subscription.Fetch(ctx, max, wait)
}

func TestIngesterBacksOffAfterFetchErrors(t *testing.T) {
	const backoff = 50 * time.Millisecond
	memory := NewMemoryTransport(16)
	transport := &failingTransport{Transport: memory, failures: 2}
	publishEvents(t, transport, latencyEvent(1), latencyEvent(2))

	before := testutil.ToFloat64(metrics.FailedCounter(metrics.ReasonTransport))
	ing := NewIngester(transport, nil, IngesterConfig{BatchSize: 10, FetchWait: 10 * time.Millisecond, ErrorBackoff: backoff}, nil)
	cancel, wg := startIngester(t, ing)
	defer func() {
		cancel()
		wg.Wait()
	}()

	got := make([]float64, 0, 3)
	for len(got) < 2 {
		select {
		case ev := <-ing.Events():
			got = append(got, ev.Payload.Telemetry.Latency.TotalLatencyMS)
		case <-time.After(5 * time.Second):
			t.Fatalf("events were not delivered after fetch errors, got %v", got)
		}
	}

	publishEvents(t, transport, latencyEvent(3))
	select {
	case ev := <-ing.Events():
		got = append(got, ev.Payload.Telemetry.Latency.TotalLatencyMS)
	case <-time.After(5 * time.Second):
		t.Fatalf("event published after recovery was not delivered")
	}
	assert.Equal(t, []float64{1, 2, 3}, got)

	attempts := transport.Attempts()
	require.GreaterOrEqual(t, len(attempts), 3)
	for i := 1; i < 3; i++ {
		assert.GreaterOrEqual(t, attempts[i].Sub(attempts[i-1]), backoff, "attempt %d came too soon", i)
	}
	assert.EqualValues(t, 2, ing.Stats().FetchErrors)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.FailedCounter(metrics.ReasonTransport)))
}
