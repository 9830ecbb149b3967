package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/resilience"
)

// Publisher sends events to the stream through a circuit breaker and retry
// policy.
type Publisher struct {
	transport Transport
	codec     *Codec
	executor  *resilience.Executor
	logger    *slog.Logger
}

// NewPublisher wires a publisher; a nil executor gets default resilience.
func NewPublisher(transport Transport, codec *Codec, executor *resilience.Executor, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = &Codec{compression: CompressionNone}
	}
	if executor == nil {
		executor = resilience.NewExecutor(nil, resilience.DefaultRetryPolicy(), logger)
	}
	return &Publisher{transport: transport, codec: codec, executor: executor, logger: logger}
}

// Publish encodes event and sends it keyed by its id.
func (p *Publisher) Publish(ctx context.Context, event models.Event) error {
	data, err := p.codec.Encode(event)
	if err != nil {
		return err
	}
	key := event.EventID.String()
	return p.executor.Execute(ctx, func(ctx context.Context) error {
		return p.transport.Publish(ctx, key, data)
	})
}

// PublishBatch publishes events in order and stops at the first failure.
// Events sent before the failure stay sent.
func (p *Publisher) PublishBatch(ctx context.Context, events []models.Event) error {
	for idx, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			p.logger.Warn("batch publish stopped",
				slog.Int("index", idx),
				slog.Int("batch_size", len(events)),
				slog.Any("error", err),
			)
			return fmt.Errorf("publish event %d of %d: %w", idx, len(events), err)
		}
	}
	return nil
}
