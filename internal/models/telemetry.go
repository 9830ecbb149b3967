package models

import (
	"encoding/json"
	"fmt"
)

// TelemetryKind is the nested telemetry_type tag.
type TelemetryKind string

const (
	TelemetryLatency          TelemetryKind = "latency"
	TelemetryThroughput       TelemetryKind = "throughput"
	TelemetryErrorRate        TelemetryKind = "error_rate"
	TelemetryTokenUsage       TelemetryKind = "token_usage"
	TelemetryModelPerformance TelemetryKind = "model_performance"
)

// TelemetryPayload holds exactly one telemetry variant selected by Kind.
type TelemetryPayload struct {
	Kind             TelemetryKind
	Latency          *LatencyMetrics
	Throughput       *ThroughputMetrics
	ErrorRate        *ErrorRateMetrics
	TokenUsage       *TokenUsageMetrics
	ModelPerformance *ModelPerformanceMetrics
}

// LatencyMetrics reports the latency of a single model request.
type LatencyMetrics struct {
	ModelID         string            `json:"model_id"`
	RequestID       string            `json:"request_id"`
	TotalLatencyMS  float64           `json:"total_latency_ms"`
	TTFTMS          *float64          `json:"ttft_ms,omitempty"`
	TokensPerSecond *float64          `json:"tokens_per_second,omitempty"`
	Breakdown       *LatencyBreakdown `json:"breakdown,omitempty"`
}

// LatencyBreakdown splits total latency into stages.
type LatencyBreakdown struct {
	QueueTimeMS      float64 `json:"queue_time_ms"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	NetworkTimeMS    float64 `json:"network_time_ms"`
	OtherMS          float64 `json:"other_ms"`
}

// ThroughputMetrics reports request and token rates over a window.
type ThroughputMetrics struct {
	ModelID               string  `json:"model_id"`
	RequestsPerSecond     float64 `json:"requests_per_second"`
	TokensPerSecond       float64 `json:"tokens_per_second"`
	ConcurrentRequests    uint32  `json:"concurrent_requests"`
	WindowDurationSeconds uint32  `json:"window_duration_seconds"`
}

// ErrorRateMetrics reports failures over a window.
type ErrorRateMetrics struct {
	ModelID               string            `json:"model_id"`
	TotalRequests         uint64            `json:"total_requests"`
	FailedRequests        uint64            `json:"failed_requests"`
	ErrorRatePercent      float64           `json:"error_rate_percent"`
	ErrorBreakdown        map[string]uint64 `json:"error_breakdown"`
	WindowDurationSeconds uint32            `json:"window_duration_seconds"`
}

// TokenUsageMetrics reports token counts for a request.
type TokenUsageMetrics struct {
	ModelID          string `json:"model_id"`
	RequestID        string `json:"request_id"`
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
}

// ModelPerformanceMetrics reports quality scores for a model.
type ModelPerformanceMetrics struct {
	ModelID          string             `json:"model_id"`
	Accuracy         *float64           `json:"accuracy"`
	QualityScore     *float64           `json:"quality_score"`
	UserSatisfaction *float64           `json:"user_satisfaction"`
	CustomMetrics    map[string]float64 `json:"custom_metrics"`
}

// LatencyTelemetry builds a latency telemetry payload.
func LatencyTelemetry(m LatencyMetrics) Payload {
	return TelemetryData(TelemetryPayload{Kind: TelemetryLatency, Latency: &m})
}

// ThroughputTelemetry builds a throughput telemetry payload.
func ThroughputTelemetry(m ThroughputMetrics) Payload {
	return TelemetryData(TelemetryPayload{Kind: TelemetryThroughput, Throughput: &m})
}

// ErrorRateTelemetry builds an error-rate telemetry payload.
func ErrorRateTelemetry(m ErrorRateMetrics) Payload {
	return TelemetryData(TelemetryPayload{Kind: TelemetryErrorRate, ErrorRate: &m})
}

// TokenUsageTelemetry builds a token-usage telemetry payload.
func TokenUsageTelemetry(m TokenUsageMetrics) Payload {
	return TelemetryData(TelemetryPayload{Kind: TelemetryTokenUsage, TokenUsage: &m})
}

// ModelPerformanceTelemetry builds a model-performance telemetry payload.
func ModelPerformanceTelemetry(m ModelPerformanceMetrics) Payload {
	return TelemetryData(TelemetryPayload{Kind: TelemetryModelPerformance, ModelPerformance: &m})
}

// MarshalJSON writes the variant with an inline telemetry_type field.
func (t TelemetryPayload) MarshalJSON() ([]byte, error) {
	var v any
	switch t.Kind {
	case TelemetryLatency:
		v = t.Latency
	case TelemetryThroughput:
		v = t.Throughput
	case TelemetryErrorRate:
		v = t.ErrorRate
	case TelemetryTokenUsage:
		v = t.TokenUsage
	case TelemetryModelPerformance:
		v = t.ModelPerformance
	default:
		return nil, fmt.Errorf("%w: telemetry_type %q", ErrUnknownVariant, t.Kind)
	}
	return marshalTagged("telemetry_type", string(t.Kind), v)
}

// UnmarshalJSON reads the telemetry_type tag and decodes the matching variant.
func (t *TelemetryPayload) UnmarshalJSON(data []byte) error {
	tag, err := readTag(data, "telemetry_type")
	if err != nil {
		return err
	}
	out := TelemetryPayload{Kind: TelemetryKind(tag)}
	var target any
	switch out.Kind {
	case TelemetryLatency:
		out.Latency = &LatencyMetrics{}
		target = out.Latency
	case TelemetryThroughput:
		out.Throughput = &ThroughputMetrics{}
		target = out.Throughput
	case TelemetryErrorRate:
		out.ErrorRate = &ErrorRateMetrics{}
		target = out.ErrorRate
	case TelemetryTokenUsage:
		out.TokenUsage = &TokenUsageMetrics{}
		target = out.TokenUsage
	case TelemetryModelPerformance:
		out.ModelPerformance = &ModelPerformanceMetrics{}
		target = out.ModelPerformance
	default:
		return fmt.Errorf("%w: telemetry_type %q", ErrUnknownVariant, tag)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	*t = out
	return nil
}
