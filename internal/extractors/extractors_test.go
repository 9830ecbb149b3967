package extractors

import (
	"testing"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

func samplesByMetric(samples []Sample) map[string]float64 {
	out := make(map[string]float64, len(samples))
	for _, s := range samples {
		out[s.Metric] = s.Value
	}
	return out
}

func TestTelemetryLatencySamples(t *testing.T) {
	ttft := 42.0
	event := models.NewEvent(models.ModuleObservatory, models.EventTypeTelemetry, models.SeverityInfo,
		models.LatencyTelemetry(models.LatencyMetrics{ModelID: "gpt-4", RequestID: "r1", TotalLatencyMS: 120, TTFTMS: &ttft}))

	samples := NewSet().Extract(event)
	got := samplesByMetric(samples)
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %v", samples)
	}
	if got["latency"] != 120 || got["latency.ttft"] != 42 || got["latency.gpt-4"] != 120 {
		t.Fatalf("unexpected latency samples: %v", got)
	}
	for _, s := range samples {
		if !s.Timestamp.Equal(event.Timestamp) {
			t.Fatalf("sample timestamp %v does not match event %v", s.Timestamp, event.Timestamp)
		}
	}
}

func TestTelemetryQualityOnlyPresentFields(t *testing.T) {
	acc := 0.91
	event := models.NewEvent(models.ModuleObservatory, models.EventTypeTelemetry, models.SeverityInfo,
		models.ModelPerformanceTelemetry(models.ModelPerformanceMetrics{ModelID: "m", Accuracy: &acc}))

	got := samplesByMetric(NewTelemetryExtractor().Extract(event))
	if len(got) != 1 || got["quality.accuracy"] != 0.91 {
		t.Fatalf("expected accuracy only, got %v", got)
	}
}

func TestTokenUsageSamples(t *testing.T) {
	event := models.NewEvent(models.ModuleObservatory, models.EventTypeTelemetry, models.SeverityInfo,
		models.TokenUsageTelemetry(models.TokenUsageMetrics{PromptTokens: 10, CompletionTokens: 30, TotalTokens: 40}))

	got := samplesByMetric(NewSet().Extract(event))
	if got["tokens.total"] != 40 || got["tokens.prompt"] != 10 || got["tokens.completion"] != 30 {
		t.Fatalf("unexpected token samples: %v", got)
	}
}

func TestCostBudgetUtilization(t *testing.T) {
	event := models.NewEvent(models.ModuleCostOps, models.EventTypeCost, models.SeverityWarning,
		models.CostData(models.CostPayload{Kind: models.CostBudgetAlert, BudgetAlert: &models.BudgetAlertEvent{
			BudgetID: "b1", BudgetLimitUSD: 200, CurrentSpendUSD: 150, ThresholdPercent: 75,
		}}))

	got := samplesByMetric(NewSet().Extract(event))
	if got["cost.budget.utilization"] != 75 {
		t.Fatalf("expected 75%% utilisation, got %v", got)
	}

	zero := models.NewEvent(models.ModuleCostOps, models.EventTypeCost, models.SeverityWarning,
		models.CostData(models.CostPayload{Kind: models.CostBudgetAlert, BudgetAlert: &models.BudgetAlertEvent{}}))
	if samples := NewCostExtractor().Extract(zero); len(samples) != 0 {
		t.Fatalf("expected no samples without a limit, got %v", samples)
	}
}

func TestSecurityAuthFailuresOnly(t *testing.T) {
	failed := models.NewEvent(models.ModuleSentinel, models.EventTypeSecurity, models.SeverityWarning,
		models.SecurityData(models.SecurityPayload{Kind: models.SecurityAuth, Auth: &models.AuthEvent{UserID: "u", Success: false}}))
	ok := models.NewEvent(models.ModuleSentinel, models.EventTypeSecurity, models.SeverityInfo,
		models.SecurityData(models.SecurityPayload{Kind: models.SecurityAuth, Auth: &models.AuthEvent{UserID: "u", Success: true}}))

	set := NewSet()
	if got := samplesByMetric(set.Extract(failed)); got["security.auth.failures"] != 1 {
		t.Fatalf("expected a failure sample, got %v", got)
	}
	if samples := set.Extract(ok); len(samples) != 0 {
		t.Fatalf("successful auth should not produce samples, got %v", samples)
	}
}

func TestUnsupportedPayloadsYieldNothing(t *testing.T) {
	custom, err := models.CustomData("note", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("custom payload: %v", err)
	}
	event := models.NewEvent(models.ModuleRegistry, models.EventTypeLifecycle, models.SeverityInfo, custom).
		WithTimestamp(time.Now())
	if samples := NewSet().Extract(event); samples != nil {
		t.Fatalf("expected nil samples, got %v", samples)
	}
}

func TestTelemetryQualityCustomMetrics(t *testing.T) {
	score := 0.7
	custom := map[string]float64{"toxicity": 0.02, "bleu": 0.41, "score": 0.1, "": 5}
	event := models.NewEvent(models.ModuleObservatory, models.EventTypeTelemetry, models.SeverityInfo,
		models.ModelPerformanceTelemetry(models.ModelPerformanceMetrics{ModelID: "m", QualityScore: &score, CustomMetrics: custom}))

	samples := NewTelemetryExtractor().Extract(event)
	names := make([]string, 0, len(samples))
	for _, s := range samples {
		names = append(names, s.Metric)
	}
	want := []string{"quality.score", "quality.bleu", "quality.toxicity"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	got := samplesByMetric(samples)
	if got["quality.score"] != 0.7 || got["quality.bleu"] != 0.41 || got["quality.toxicity"] != 0.02 {
		t.Fatalf("unexpected quality samples: %v", got)
	}
}

func TestFamily(t *testing.T) {
	cases := []struct {
		metric string
		want   string
	}{
		{"latency", "latency"},
		{"latency.ttft", "latency"},
		{"cost.tokens.usd", "cost"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Family(tc.metric); got != tc.want {
			t.Fatalf("Family(%q) = %q, want %q", tc.metric, got, tc.want)
		}
	}
}
