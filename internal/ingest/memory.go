package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryTransport is a bounded in-process queue with Transport semantics.
// Publish blocks while the queue is full. Every subscription competes for the
// same queue, like members of one consumer group.
type MemoryTransport struct {
	queue     chan *memoryMessage
	closed    chan struct{}
	closeOnce sync.Once
	acked     atomic.Int64
}

// NewMemoryTransport creates a queue holding up to capacity messages.
func NewMemoryTransport(capacity int) *MemoryTransport {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryTransport{
		queue:  make(chan *memoryMessage, capacity),
		closed: make(chan struct{}),
	}
}

type memoryMessage struct {
	key   string
	data  []byte
	owner *MemoryTransport
	once  sync.Once
}

func (m *memoryMessage) Data() []byte { return m.data }

func (m *memoryMessage) Key() string { return m.key }

func (m *memoryMessage) Ack() error {
	m.once.Do(func() { m.owner.acked.Add(1) })
	return nil
}

// Publish enqueues a copy of data.
func (t *MemoryTransport) Publish(ctx context.Context, key string, data []byte) error {
	msg := &memoryMessage{key: key, data: append([]byte(nil), data...), owner: t}
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case t.queue <- msg:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a consumer over the shared queue.
func (t *MemoryTransport) Subscribe(context.Context) (Subscription, error) {
	select {
	case <-t.closed:
		return nil, ErrTransportClosed
	default:
	}
	return &memorySubscription{transport: t}, nil
}

// Close stops the transport. Queued messages are discarded.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Pending returns the number of queued, undelivered messages.
func (t *MemoryTransport) Pending() int {
	return len(t.queue)
}

// Acked returns how many delivered messages were acknowledged.
func (t *MemoryTransport) Acked() int64 {
	return t.acked.Load()
}

type memorySubscription struct {
	transport *MemoryTransport
}

func (s *memorySubscription) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var first *memoryMessage
	select {
	case first = <-s.transport.queue:
	case <-timer.C:
		return nil, nil
	case <-s.transport.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make([]Message, 0, max)
	out = append(out, first)
	for len(out) < max {
		select {
		case msg := <-s.transport.queue:
			out = append(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (s *memorySubscription) Close() error { return nil }
