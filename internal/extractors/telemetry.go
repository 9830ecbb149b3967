package extractors

import (
	"maps"
	"slices"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// TelemetryExtractor derives latency, throughput, error, token and quality
// samples from observatory telemetry.
type TelemetryExtractor struct{}

// NewTelemetryExtractor creates a telemetry extractor.
func NewTelemetryExtractor() *TelemetryExtractor {
	return &TelemetryExtractor{}
}

// Extract implements Extractor.
func (e *TelemetryExtractor) Extract(event models.Event) []Sample {
	t := event.Payload.Telemetry
	if t == nil {
		return nil
	}
	ts := event.Timestamp
	out := make([]Sample, 0, 3)
	add := func(metric string, value float64) {
		out = append(out, Sample{Metric: metric, Value: value, Timestamp: ts})
	}

	switch t.Kind {
	case models.TelemetryLatency:
		if t.Latency == nil {
			return nil
		}
		add("latency", t.Latency.TotalLatencyMS)
		if t.Latency.TTFTMS != nil {
			add("latency.ttft", *t.Latency.TTFTMS)
		}
		if t.Latency.ModelID != "" {
			add("latency."+t.Latency.ModelID, t.Latency.TotalLatencyMS)
		}
	case models.TelemetryThroughput:
		if t.Throughput == nil {
			return nil
		}
		add("throughput.rps", t.Throughput.RequestsPerSecond)
		add("throughput.tps", t.Throughput.TokensPerSecond)
	case models.TelemetryErrorRate:
		if t.ErrorRate == nil {
			return nil
		}
		add("error_rate", t.ErrorRate.ErrorRatePercent)
	case models.TelemetryTokenUsage:
		if t.TokenUsage == nil {
			return nil
		}
		add("tokens.total", float64(t.TokenUsage.TotalTokens))
		add("tokens.prompt", float64(t.TokenUsage.PromptTokens))
		add("tokens.completion", float64(t.TokenUsage.CompletionTokens))
	case models.TelemetryModelPerformance:
		m := t.ModelPerformance
		if m == nil {
			return nil
		}
		if m.Accuracy != nil {
			add("quality.accuracy", *m.Accuracy)
		}
		if m.QualityScore != nil {
			add("quality.score", *m.QualityScore)
		}
		if m.UserSatisfaction != nil {
			add("quality.satisfaction", *m.UserSatisfaction)
		}
		// Custom names go in sorted order so repeated events feed metrics
		// identically; a name shadowing a built-in quality metric is skipped.
		for _, name := range slices.Sorted(maps.Keys(m.CustomMetrics)) {
			if name == "" || emitted(out, "quality."+name) {
				continue
			}
			add("quality."+name, m.CustomMetrics[name])
		}
	}
	return out
}

func emitted(samples []Sample, metric string) bool {
	for _, s := range samples {
		if s.Metric == metric {
			return true
		}
	}
	return false
}
