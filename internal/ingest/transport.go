package ingest

import (
	"context"
	"errors"
	"time"
)

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// Message is one delivery from the event stream.
type Message interface {
	Data() []byte
	Key() string
	// Ack confirms the message; unacknowledged messages may be redelivered.
	Ack() error
}

// Subscription is a pull consumer bound to the analytics consumer group.
type Subscription interface {
	// Fetch returns up to max messages, waiting at most wait for the first.
	// An empty result with a nil error means the stream was idle.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Close() error
}

// Transport is a partitioned, at-least-once event stream.
type Transport interface {
	Subscribe(ctx context.Context) (Subscription, error)
	Publish(ctx context.Context, key string, data []byte) error
	Close() error
}
