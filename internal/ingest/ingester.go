package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

// IngesterConfig tunes batching and backpressure.
type IngesterConfig struct {
	BatchSize       int
	FetchWait       time.Duration
	ChannelCapacity int
	ErrorBackoff    time.Duration
	ProgressEvery   int
	// ShutdownGrace bounds how long the final flush may block on a full
	// output channel once the context is cancelled.
	ShutdownGrace time.Duration
}

// DefaultIngesterConfig returns batch 1000, channel 10000 and a 1s backoff.
func DefaultIngesterConfig() IngesterConfig {
	return IngesterConfig{
		BatchSize:       1000,
		FetchWait:       time.Second,
		ChannelCapacity: 10000,
		ErrorBackoff:    time.Second,
		ProgressEvery:   10000,
		ShutdownGrace:   5 * time.Second,
	}
}

func (c IngesterConfig) withDefaults() IngesterConfig {
	d := DefaultIngesterConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FetchWait <= 0 {
		c.FetchWait = d.FetchWait
	}
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = d.ChannelCapacity
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = d.ProgressEvery
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	return c
}

// IngesterStats reports consumption counters.
type IngesterStats struct {
	Received         uint64        `json:"messages_received"`
	Processed        uint64        `json:"messages_processed"`
	Failed           uint64        `json:"messages_failed"`
	FetchErrors      uint64        `json:"fetch_errors"`
	MsgsPerSecond    float64       `json:"avg_throughput"`
	FlushLatencyP95  time.Duration `json:"flush_latency_p95"`
	FlushLatencyMean time.Duration `json:"flush_latency_mean"`
}

// Ingester pulls messages from a Transport, decodes them and hands batches to
// an output channel. Decoding failures are logged and dropped.
type Ingester struct {
	transport Transport
	codec     *Codec
	cfg       IngesterConfig
	logger    *slog.Logger
	out       chan models.Event

	received  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	fetchErrs atomic.Uint64
	started   atomic.Int64
	flushes   *utils.LatencyTracker
}

// NewIngester wires an ingester; a nil codec decodes plain JSON.
func NewIngester(transport Transport, codec *Codec, cfg IngesterConfig, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = &Codec{compression: CompressionNone}
	}
	cfg = cfg.withDefaults()
	return &Ingester{
		transport: transport,
		codec:     codec,
		cfg:       cfg,
		logger:    logger,
		out:       make(chan models.Event, cfg.ChannelCapacity),
		flushes:   utils.NewLatencyTracker(256),
	}
}

// Events is the decoded output. It is closed when Run returns.
func (i *Ingester) Events() <-chan models.Event {
	return i.out
}

// Run consumes until ctx is cancelled, then flushes the pending batch and
// closes the output channel.
func (i *Ingester) Run(ctx context.Context) error {
	defer close(i.out)

	sub, err := i.transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			i.logger.Warn("subscription close failed", slog.Any("error", cerr))
		}
	}()

	i.started.Store(time.Now().UnixNano())
	i.logger.Info("ingester started", slog.Int("batch_size", i.cfg.BatchSize))

	batch := make([]models.Event, 0, i.cfg.BatchSize)
	for {
		if ctx.Err() != nil {
			i.shutdownFlush(batch)
			return nil
		}

		msgs, err := sub.Fetch(ctx, i.cfg.BatchSize-len(batch), i.cfg.FetchWait)
		if err != nil {
			if ctx.Err() != nil {
				i.shutdownFlush(batch)
				return nil
			}
			if errors.Is(err, ErrTransportClosed) {
				i.shutdownFlush(batch)
				return err
			}
			i.logger.Error("fetch failed, backing off", slog.Any("error", err), slog.Duration("backoff", i.cfg.ErrorBackoff))
			i.fetchErrs.Add(1)
			metrics.ObserveFailed(metrics.ReasonTransport)
			if !sleep(ctx, i.cfg.ErrorBackoff) {
				i.shutdownFlush(batch)
				return nil
			}
			continue
		}

		if len(msgs) == 0 {
			// Idle flush keeps a trickle of events from waiting on a full batch.
			if len(batch) > 0 {
				if !i.flush(ctx, batch) {
					return nil
				}
				batch = batch[:0]
			}
			continue
		}

		for _, msg := range msgs {
			batch = i.decode(msg, batch)
		}
		if len(batch) >= i.cfg.BatchSize {
			if !i.flush(ctx, batch) {
				return nil
			}
			batch = batch[:0]
		}
	}
}

func (i *Ingester) decode(msg Message, batch []models.Event) []models.Event {
	n := i.received.Add(1)
	metrics.ObserveReceived(1)
	if n%uint64(i.cfg.ProgressEvery) == 0 {
		i.logger.Info("ingestion progress",
			slog.Uint64("received", n),
			slog.Float64("msgs_per_sec", i.throughput()),
		)
	}

	event, err := i.codec.Decode(msg.Data())
	if ackErr := msg.Ack(); ackErr != nil {
		i.logger.Warn("ack failed", slog.String("key", msg.Key()), slog.Any("error", ackErr))
	}
	if err != nil {
		i.failed.Add(1)
		metrics.ObserveFailed(metrics.ReasonDeserialization)
		i.logger.Warn("dropping malformed message", slog.String("key", msg.Key()), slog.Any("error", err))
		return batch
	}
	return append(batch, event)
}

// flush sends the batch downstream, blocking while the channel is full. It
// returns false if ctx was cancelled mid-flush; the rest is then drained by
// shutdownFlush.
func (i *Ingester) flush(ctx context.Context, batch []models.Event) bool {
	start := time.Now()
	for idx, event := range batch {
		select {
		case i.out <- event:
			i.processed.Add(1)
		case <-ctx.Done():
			i.shutdownFlush(batch[idx:])
			return false
		}
	}
	elapsed := time.Since(start)
	i.flushes.Observe(elapsed)
	metrics.ObserveBatchFlush(elapsed)
	metrics.ObserveProcessed(len(batch))
	return true
}

func (i *Ingester) shutdownFlush(batch []models.Event) {
	if len(batch) == 0 {
		return
	}
	timer := time.NewTimer(i.cfg.ShutdownGrace)
	defer timer.Stop()

	sent := 0
	for _, event := range batch {
		select {
		case i.out <- event:
			i.processed.Add(1)
			sent++
		case <-timer.C:
			i.logger.Warn("shutdown flush timed out, dropping remainder", slog.Int("dropped", len(batch)-sent))
			metrics.ObserveProcessed(sent)
			return
		}
	}
	metrics.ObserveProcessed(sent)
	i.logger.Info("flushed pending batch on shutdown", slog.Int("events", sent))
}

func (i *Ingester) throughput() float64 {
	started := i.started.Load()
	if started == 0 {
		return 0
	}
	elapsed := time.Since(time.Unix(0, started)).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(i.received.Load()) / elapsed
}

// Stats returns a snapshot of the counters.
func (i *Ingester) Stats() IngesterStats {
	return IngesterStats{
		Received:         i.received.Load(),
		Processed:        i.processed.Load(),
		Failed:           i.failed.Load(),
		FetchErrors:      i.fetchErrs.Load(),
		MsgsPerSecond:    i.throughput(),
		FlushLatencyP95:  i.flushes.Percentile(95),
		FlushLatencyMean: i.flushes.Mean(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
