package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/llm-devops/llm-analytics-hub/internal/extractors"
	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// TracerName identifies spans emitted by the analytics engines.
const TracerName = "github.com/llm-devops/llm-analytics-hub/engine"

// AlertCustomType is the custom payload type of generated alert events.
const AlertCustomType = "analytics_alert"

// SampleRecorder persists extracted samples for rollup queries.
type SampleRecorder interface {
	Record(ctx context.Context, metric string, value float64, ts time.Time) error
	Flush(ctx context.Context) error
}

// AlertPublisher forwards generated alert events.
type AlertPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// SampleExtractor maps an event onto samples.
type SampleExtractor interface {
	Extract(event models.Event) []extractors.Sample
}

// alertEmitter hands one built alert onwards.
type alertEmitter func(ctx context.Context, alert models.Event) error

// work is one event routed to a worker lane with its samples already extracted.
type work struct {
	event   models.Event
	samples []extractors.Sample
}

// laneBuffer is the per-worker queue between the dispatcher and a worker.
const laneBuffer = 64

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithStore records every sample into store.
func WithStore(store SampleRecorder) AggregatorOption {
	return func(a *Aggregator) { a.store = store }
}

// WithPublisher publishes alert events through p.
func WithPublisher(p AlertPublisher) AggregatorOption {
	return func(a *Aggregator) { a.publisher = p }
}

// WithRules evaluates anomalies against rules.
func WithRules(rules *RuleEngine) AggregatorOption {
	return func(a *Aggregator) { a.rules = rules }
}

// WithExtractors replaces the default extractor set.
func WithExtractors(x SampleExtractor) AggregatorOption {
	return func(a *Aggregator) { a.extractors = x }
}

// WithTracerProvider sources spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) AggregatorOption {
	return func(a *Aggregator) { a.tracer = tp.Tracer(TracerName) }
}

// ProcessResult describes what one event produced.
type ProcessResult struct {
	Samples   int
	Anomalies []models.Anomaly
	Alerts    []models.Event
}

// AggregatorStats combines the engine counters.
type AggregatorStats struct {
	EventsProcessed uint64           `json:"events_processed"`
	AlertsEmitted   uint64           `json:"alerts_emitted"`
	AlertsDropped   uint64           `json:"alerts_dropped"`
	Prediction      PredictionStats  `json:"prediction"`
	Anomaly         DetectorStats    `json:"anomaly"`
	Correlation     CorrelationStats `json:"correlation"`
}

// MaintenanceReport counts what one maintenance pass removed.
type MaintenanceReport struct {
	PredictionPoints  int
	CorrelationEvents int
	StaleCorrelations int
	DecayedPatterns   int
	PrunedAnomalies   int
}

// Aggregator is the composition root that feeds every event through the
// correlation, prediction and anomaly engines and turns anomalies into alerts.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	prediction  *PredictionEngine
	anomaly     *AnomalyDetector
	correlation *CorrelationEngine

	extractors SampleExtractor
	rules      *RuleEngine
	store      SampleRecorder
	publisher  AlertPublisher

	processed atomic.Uint64
	alerts    atomic.Uint64
	dropped   atomic.Uint64
}

// NewAggregator builds the engines from cfg and applies opts.
func NewAggregator(cfg Config, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	a := &Aggregator{
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer(TracerName),
		prediction:  NewPredictionEngine(cfg, logger),
		anomaly:     NewAnomalyDetector(cfg, logger),
		correlation: NewCorrelationEngine(cfg, logger),
		extractors:  extractors.NewSet(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prediction exposes the prediction engine.
func (a *Aggregator) Prediction() *PredictionEngine { return a.prediction }

// Anomaly exposes the anomaly detector.
func (a *Aggregator) Anomaly() *AnomalyDetector { return a.anomaly }

// Correlation exposes the correlation engine.
func (a *Aggregator) Correlation() *CorrelationEngine { return a.correlation }

// Process runs one event through the pipeline and publishes its alerts before
// returning. Store failures are logged and counted; only alert publication
// failures are returned.
func (a *Aggregator) Process(ctx context.Context, event models.Event) (ProcessResult, error) {
	return a.process(ctx, event, a.extractors.Extract(event), a.publishAlert)
}

func (a *Aggregator) process(ctx context.Context, event models.Event, samples []extractors.Sample, emit alertEmitter) (ProcessResult, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.process", trace.WithAttributes(
		attribute.String("event.id", event.EventID.String()),
		attribute.String("event.source_module", string(event.SourceModule)),
		attribute.String("event.type", string(event.EventType)),
	))
	defer span.End()

	var result ProcessResult
	a.correlation.AddEvent(event)

	result.Samples = len(samples)
	for _, s := range samples {
		a.prediction.AddDataPoint(s.Metric, s.Value, s.Timestamp)
		if anomaly, ok := a.anomaly.Check(s.Metric, s.Value, s.Timestamp); ok {
			result.Anomalies = append(result.Anomalies, *anomaly)
		}
		if a.store != nil {
			if err := a.store.Record(ctx, s.Metric, s.Value, s.Timestamp); err != nil {
				metrics.ObserveStoreError("record")
				a.logger.Warn("rollup record failed", slog.String("metric", s.Metric), slog.Any("error", err))
			}
		}
	}

	var errs []error
	for _, anomaly := range result.Anomalies {
		for _, rule := range a.rules.Evaluate(anomaly) {
			alert, err := a.buildAlert(event, anomaly, rule)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			result.Alerts = append(result.Alerts, alert)
			a.alerts.Add(1)
			if err := emit(ctx, alert); err != nil {
				a.logger.Warn("alert publish failed",
					slog.String("rule", rule.ID),
					slog.String("metric", anomaly.MetricName),
					slog.Any("error", err),
				)
				errs = append(errs, fmt.Errorf("publish alert %s: %w", rule.ID, err))
			}
		}
	}

	a.processed.Add(1)
	span.SetAttributes(
		attribute.Int("analytics.samples", result.Samples),
		attribute.Int("analytics.anomalies", len(result.Anomalies)),
		attribute.Int("analytics.alerts", len(result.Alerts)),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "alert publication failed")
	}
	return result, err
}

func (a *Aggregator) buildAlert(source models.Event, anomaly models.Anomaly, rule Rule) (models.Event, error) {
	payload, err := models.CustomData(AlertCustomType, map[string]any{
		"anomaly_id":     anomaly.ID.String(),
		"metric":         anomaly.MetricName,
		"value":          anomaly.Value,
		"expected":       anomaly.ExpectedValue,
		"z_score":        anomaly.Deviation,
		"anomaly_type":   string(anomaly.Type),
		"severity":       string(anomaly.Severity),
		"rule_id":        rule.ID,
		"recommendation": rule.Recommendation,
	})
	if err != nil {
		return models.Event{}, fmt.Errorf("build alert payload: %w", err)
	}
	alert := models.NewEvent(models.ModuleAnalyticsHub, models.EventTypeAlert, alertSeverity(anomaly.Severity), payload).
		WithParent(source.EventID).
		WithTag("rule_id", rule.ID)
	if source.CorrelationID != nil {
		alert = alert.WithCorrelation(*source.CorrelationID)
	}
	if source.Environment != "" {
		alert.Environment = source.Environment
	}
	return alert, nil
}

func alertSeverity(s models.AnomalySeverity) models.Severity {
	switch s {
	case models.AnomalyCritical:
		return models.SeverityCritical
	case models.AnomalyHigh:
		return models.SeverityError
	case models.AnomalyMedium:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func (a *Aggregator) publishAlert(ctx context.Context, alert models.Event) error {
	if a.publisher == nil {
		return nil
	}
	return a.publisher.Publish(ctx, alert)
}

// enqueueAlert never blocks the caller: an alert that does not fit the outbox
// is dropped and counted.
func (a *Aggregator) enqueueAlert(outbox chan<- models.Event) alertEmitter {
	return func(_ context.Context, alert models.Event) error {
		select {
		case outbox <- alert:
		default:
			a.dropped.Add(1)
			metrics.ObserveFailed(metrics.ReasonAlertDropped)
			a.logger.Warn("alert outbox full, dropping alert", slog.String("alert_id", alert.EventID.String()))
		}
		return nil
	}
}

func (a *Aggregator) drainAlerts(ctx context.Context, outbox <-chan models.Event, done chan<- struct{}) {
	defer close(done)
	for alert := range outbox {
		if err := a.publisher.Publish(ctx, alert); err != nil {
			a.logger.Warn("alert publish failed",
				slog.String("alert_id", alert.EventID.String()),
				slog.Any("error", err),
			)
		}
	}
}

// Run consumes events until the channel closes or ctx is done. Events are
// routed to cfg.Workers lanes by metric family, so every sample of one metric
// is applied by the same worker in arrival order. Alerts leave through a
// bounded outbox drained by its own goroutine; a worker never waits on the
// publisher, which may feed the very stream this aggregator consumes.
func (a *Aggregator) Run(ctx context.Context, events <-chan models.Event) error {
	emit := a.publishAlert
	var (
		outbox     chan models.Event
		alertsDone chan struct{}
	)
	if a.publisher != nil {
		outbox = make(chan models.Event, a.cfg.AlertQueueSize)
		alertsDone = make(chan struct{})
		go a.drainAlerts(ctx, outbox, alertsDone)
		emit = a.enqueueAlert(outbox)
	}

	lanes := make([]chan work, a.cfg.Workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan work, laneBuffer)
		wg.Add(1)
		go func(lane <-chan work) {
			defer wg.Done()
			for item := range lane {
				if ctx.Err() != nil {
					continue
				}
				if _, err := a.process(ctx, item.event, item.samples, emit); err != nil {
					metrics.ObserveFailed(metrics.ReasonProcessing)
				}
			}
		}(lanes[i])
	}

	a.dispatch(ctx, events, lanes)
	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
	if outbox != nil {
		close(outbox)
		<-alertsDone
	}
	a.logger.Info("aggregator stopped",
		slog.Uint64("events_processed", a.processed.Load()),
		slog.Uint64("alerts_dropped", a.dropped.Load()),
	)
	return ctx.Err()
}

func (a *Aggregator) dispatch(ctx context.Context, events <-chan models.Event, lanes []chan work) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			samples := a.extractors.Extract(event)
			lane := lanes[laneFor(event, samples, len(lanes))]
			select {
			case lane <- work{event: event, samples: samples}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// laneFor keys an event by the family of its first sample. Events without
// samples only touch the correlation engine and are keyed by source module.
func laneFor(event models.Event, samples []extractors.Sample, lanes int) int {
	if lanes <= 1 {
		return 0
	}
	key := string(event.SourceModule)
	if len(samples) > 0 {
		key = extractors.Family(samples[0].Metric)
	}
	return int(xxhash.Sum64String(key) % uint64(lanes))
}

// RunMaintenance applies retention on every tick until ctx is done.
func (a *Aggregator) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := a.Maintain(ctx)
			a.logger.Debug("maintenance pass",
				slog.Int("prediction_points", report.PredictionPoints),
				slog.Int("correlation_events", report.CorrelationEvents),
				slog.Int("stale_correlations", report.StaleCorrelations),
				slog.Int("decayed_patterns", report.DecayedPatterns),
				slog.Int("pruned_anomalies", report.PrunedAnomalies),
			)
		}
	}
}

// Maintain runs one retention pass and flushes the rollup store.
func (a *Aggregator) Maintain(ctx context.Context) MaintenanceReport {
	var report MaintenanceReport
	report.PredictionPoints = a.prediction.Cleanup(a.cfg.PredictionRetention)
	report.CorrelationEvents = a.correlation.Cleanup(a.cfg.CorrelationRetentionHours)
	report.StaleCorrelations = a.correlation.EvictStaleCorrelations()
	report.DecayedPatterns = a.correlation.DecayPatterns(a.cfg.PatternMaxIdle)
	report.PrunedAnomalies = a.anomaly.PruneAnomalies(a.anomaly.now().Add(-a.cfg.AnomalyRetention))
	if a.store != nil {
		if err := a.store.Flush(ctx); err != nil {
			metrics.ObserveStoreError("flush")
			a.logger.Warn("rollup flush failed", slog.Any("error", err))
		}
	}
	return report
}

// Stats combines the engine statistics.
func (a *Aggregator) Stats() AggregatorStats {
	return AggregatorStats{
		EventsProcessed: a.processed.Load(),
		AlertsEmitted:   a.alerts.Load(),
		AlertsDropped:   a.dropped.Load(),
		Prediction:      a.prediction.Stats(),
		Anomaly:         a.anomaly.Stats(),
		Correlation:     a.correlation.Stats(),
	}
}
