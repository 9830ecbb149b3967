package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (engine or dependency issues).
	OutcomeError = "error"

	// ReasonDeserialization labels messages that could not be decoded.
	ReasonDeserialization = "deserialization"
	// ReasonTransport labels stream fetch failures.
	ReasonTransport = "transport"
	// ReasonProcessing labels events the aggregator failed to process.
	ReasonProcessing = "processing"
	// ReasonAlertDropped labels alerts discarded because the outbox was full.
	ReasonAlertDropped = "alert_dropped"
)

var (
	eventsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llm_analytics",
			Name:      "events_received_total",
			Help:      "Total number of messages pulled from the event transport.",
		},
	)

	eventsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llm_analytics",
			Name:      "events_processed_total",
			Help:      "Total number of events handed to the analytics engines.",
		},
	)

	eventsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llm_analytics",
			Name:      "events_failed_total",
			Help:      "Events that could not be ingested, partitioned by reason.",
		},
		[]string{"reason"},
	)

	batchFlushSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "llm_analytics",
			Name:      "batch_flush_seconds",
			Help:      "Time spent delivering one ingestion batch downstream.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llm_analytics",
			Name:      "anomalies_detected_total",
			Help:      "Anomalies flagged by the detector, partitioned by type and severity.",
		},
		[]string{"type", "severity"},
	)

	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llm_analytics",
			Name:      "predictions_total",
			Help:      "Forecast requests, partitioned by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llm_analytics",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	querySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llm_analytics",
			Name:      "query_seconds",
			Help:      "Operational query latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "outcome"},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llm_analytics",
			Name:      "store_errors_total",
			Help:      "Rollup store failures, partitioned by operation.",
		},
		[]string{"op"},
	)
)

// Register attaches analytics hub collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsReceivedTotal,
		eventsProcessedTotal,
		eventsFailedTotal,
		batchFlushSeconds,
		anomaliesDetectedTotal,
		predictionsTotal,
		circuitState,
		querySeconds,
		storeErrorsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveReceived counts messages pulled from the transport.
func ObserveReceived(n int) {
	eventsReceivedTotal.Add(float64(n))
}

// ObserveProcessed counts events delivered to the engines.
func ObserveProcessed(n int) {
	eventsProcessedTotal.Add(float64(n))
}

// ObserveFailed counts an ingestion failure such as a malformed message.
func ObserveFailed(reason string) {
	eventsFailedTotal.WithLabelValues(reason).Inc()
}

// FailedCounter returns the events_failed_total child for reason.
func FailedCounter(reason string) prometheus.Counter {
	return eventsFailedTotal.WithLabelValues(reason)
}

// ObserveBatchFlush records how long one downstream flush took.
func ObserveBatchFlush(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	batchFlushSeconds.Observe(duration.Seconds())
}

// ObserveAnomaly counts a detected anomaly.
func ObserveAnomaly(anomalyType, severity string) {
	anomaliesDetectedTotal.WithLabelValues(anomalyType, severity).Inc()
}

// ObservePrediction counts a forecast request and its outcome label.
func ObservePrediction(method, outcome string) {
	predictionsTotal.WithLabelValues(method, normaliseOutcome(outcome)).Inc()
}

// SetCircuitState publishes the numeric state of a named breaker.
func SetCircuitState(name string, state float64) {
	circuitState.WithLabelValues(name).Set(state)
}

// ObserveQuery records an operational query duration and outcome label.
func ObserveQuery(method string, duration time.Duration, outcome string) {
	if duration < 0 {
		duration = 0
	}
	querySeconds.WithLabelValues(method, normaliseOutcome(outcome)).Observe(duration.Seconds())
}

// ObserveStoreError counts a rollup store failure.
func ObserveStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

func normaliseOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return OutcomeError
}
