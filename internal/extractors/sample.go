package extractors

import (
	"strings"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// Sample is one numeric observation derived from an event.
type Sample struct {
	Metric    string
	Value     float64
	Timestamp time.Time
}

// Family is the metric name up to its first dot: "latency.ttft" and
// "latency.gpt-4" both belong to "latency". Every sample of one event shares a
// family.
func Family(metric string) string {
	family, _, _ := strings.Cut(metric, ".")
	return family
}

// Extractor maps an event onto zero or more samples.
type Extractor interface {
	Extract(event models.Event) []Sample
}

// Set dispatches an event to the extractor for its payload family.
type Set struct {
	telemetry *TelemetryExtractor
	cost      *CostExtractor
	security  *SecurityExtractor
}

// NewSet creates the default extractor set.
func NewSet() *Set {
	return &Set{
		telemetry: NewTelemetryExtractor(),
		cost:      NewCostExtractor(),
		security:  NewSecurityExtractor(),
	}
}

// Extract returns the samples for event; unsupported payloads yield none.
func (s *Set) Extract(event models.Event) []Sample {
	switch event.Payload.Type {
	case models.PayloadTelemetry:
		return s.telemetry.Extract(event)
	case models.PayloadCost:
		return s.cost.Extract(event)
	case models.PayloadSecurity:
		return s.security.Extract(event)
	default:
		return nil
	}
}
