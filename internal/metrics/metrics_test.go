package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(anomaliesDetectedTotal.WithLabelValues("spike", "critical"))
	ObserveAnomaly("spike", "critical")
	after := testutil.ToFloat64(anomaliesDetectedTotal.WithLabelValues("spike", "critical"))
	if after-before != 1 {
		t.Fatalf("expected anomaly counter to increase by 1, got %v", after-before)
	}

	SetCircuitState("costops", 2)
	if v := testutil.ToFloat64(circuitState.WithLabelValues("costops")); v != 2 {
		t.Fatalf("expected circuit gauge 2, got %v", v)
	}

	ObservePrediction("arima", "weird")
	if v := testutil.ToFloat64(predictionsTotal.WithLabelValues("arima", OutcomeSuccess)); v < 1 {
		t.Fatalf("unknown outcomes should be labelled success")
	}

	ObserveQuery("MetricStats", -time.Second, OutcomeError)
}
