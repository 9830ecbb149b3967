package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/resilience"
)

type flakyTransport struct {
	mu     sync.Mutex
	sent   []string
	failAt int
}

func (f *flakyTransport) Publish(_ context.Context, key string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == f.failAt {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, key)
	return nil
}

func (f *flakyTransport) Subscribe(context.Context) (Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *flakyTransport) Close() error { return nil }

func singleAttemptExecutor() *resilience.Executor {
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "publisher", FailureThreshold: 5, Timeout: time.Minute}, nil)
	retry := resilience.DefaultRetryPolicy()
	retry.MaxAttempts = 1
	return resilience.NewExecutor(breaker, retry, nil)
}

func TestPublishBatchStopsAtFirstError(t *testing.T) {
	transport := &flakyTransport{failAt: 2}
	pub := NewPublisher(transport, nil, singleAttemptExecutor(), nil)

	events := []models.Event{latencyEvent(1), latencyEvent(2), latencyEvent(3), latencyEvent(4)}
	err := pub.PublishBatch(context.Background(), events)

	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrTransportFailure)
	assert.Contains(t, err.Error(), "publish event 2 of 4")
	assert.Equal(t, []string{events[0].EventID.String(), events[1].EventID.String()}, transport.sent,
		"events before the failure remain sent")
}

func TestPublishThroughMemoryTransport(t *testing.T) {
	transport := NewMemoryTransport(4)
	codec, _ := NewCodec("snappy")
	pub := NewPublisher(transport, codec, nil, nil)

	event := latencyEvent(12)
	require.NoError(t, pub.Publish(context.Background(), event))

	sub, err := transport.Subscribe(context.Background())
	require.NoError(t, err)
	msgs, err := sub.Fetch(context.Background(), 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, event.EventID.String(), msgs[0].Key())

	decoded, err := codec.Decode(msgs[0].Data())
	require.NoError(t, err)
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestMemoryTransportClosed(t *testing.T) {
	transport := NewMemoryTransport(1)
	require.NoError(t, transport.Close())

	assert.ErrorIs(t, transport.Publish(context.Background(), "k", []byte("{}")), ErrTransportClosed)
	_, err := transport.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrTransportClosed)
}
