package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEventJSONWireShape(t *testing.T) {
	ttft := 234.12
	ev := NewEvent(ModuleObservatory, EventTypeTelemetry, SeverityInfo, LatencyTelemetry(LatencyMetrics{
		ModelID:        "gpt-4",
		RequestID:      "req-123",
		TotalLatencyMS: 1523.45,
		TTFTMS:         &ttft,
	})).WithCorrelation(uuid.New())

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["source_module"] != "llm-observatory" {
		t.Fatalf("unexpected source_module %v", raw["source_module"])
	}
	if _, ok := raw["parent_event_id"]; ok {
		t.Fatalf("parent_event_id should be omitted when unset")
	}
	payload, ok := raw["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing: %s", data)
	}
	if payload["payload_type"] != "telemetry" {
		t.Fatalf("unexpected payload_type %v", payload["payload_type"])
	}
	inner := payload["data"].(map[string]any)
	if inner["telemetry_type"] != "latency" || inner["model_id"] != "gpt-4" {
		t.Fatalf("unexpected telemetry data %v", inner)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventID != ev.EventID {
		t.Fatalf("event id mismatch")
	}
	if decoded.CorrelationID == nil || *decoded.CorrelationID != *ev.CorrelationID {
		t.Fatalf("correlation id mismatch")
	}
	lat := decoded.Payload.Telemetry.Latency
	if lat == nil || lat.TotalLatencyMS != 1523.45 || lat.TTFTMS == nil || *lat.TTFTMS != ttft {
		t.Fatalf("latency payload not preserved: %+v", lat)
	}
}

func TestEventPayloadFamilies(t *testing.T) {
	custom, err := CustomData("analytics_alert", map[string]any{"metric": "latency"})
	if err != nil {
		t.Fatalf("custom: %v", err)
	}
	payloads := []Payload{
		CostData(CostPayload{Kind: CostToken, TokenCost: &TokenCostEvent{ModelID: "m", TotalCostUSD: 0.42}}),
		SecurityData(SecurityPayload{Kind: SecurityAuth, Auth: &AuthEvent{UserID: "u", Action: "login", Success: false}}),
		GovernanceData(GovernancePayload{Kind: GovernanceDataLineage, DataLineage: &DataLineageEvent{DataAssetID: "a", Operation: "read"}}),
		ThroughputTelemetry(ThroughputMetrics{ModelID: "m", RequestsPerSecond: 10}),
		custom,
	}
	for _, p := range payloads {
		ev := NewEvent(ModuleCostOps, EventTypeCost, SeverityWarning, p)
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %s: %v", p.Type, err)
		}
		var decoded Event
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode %s: %v", p.Type, err)
		}
		if decoded.Payload.Type != p.Type {
			t.Fatalf("payload type mismatch: %s vs %s", decoded.Payload.Type, p.Type)
		}
	}
}

func TestEventUnknownVariantRejected(t *testing.T) {
	body := `{"event_id":"` + uuid.NewString() + `","timestamp":"2025-01-01T00:00:00Z",` +
		`"source_module":"llm-sentinel","event_type":"security","severity":"info","environment":"test",` +
		`"payload":{"payload_type":"security","data":{"security_type":"meteor_strike"}}}`
	var ev Event
	err := json.Unmarshal([]byte(body), &ev)
	if err == nil {
		t.Fatalf("expected error for unknown variant")
	}
	if !errors.Is(err, ErrUnknownVariant) && !strings.Contains(err.Error(), "unknown payload variant") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEventDefaultsApplied(t *testing.T) {
	body := `{"timestamp":"2025-01-01T00:00:00Z","source_module":"llm-registry","event_type":"lifecycle",` +
		`"severity":"debug","environment":"dev",` +
		`"payload":{"payload_type":"custom","data":{"custom_type":"deploy","data":{"v":1}}}}`
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventID == uuid.Nil {
		t.Fatalf("expected generated event id")
	}
	if ev.SchemaVersion != SchemaVersion {
		t.Fatalf("expected schema version %s, got %s", SchemaVersion, ev.SchemaVersion)
	}
	if ev.Tags == nil {
		t.Fatalf("expected empty tag map")
	}
	if !ev.Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", ev.Timestamp)
	}
}

func TestSeverityOrdering(t *testing.T) {
	order := []Severity{SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if !order[i-1].Less(order[i]) {
			t.Fatalf("%s should order before %s", order[i-1], order[i])
		}
	}
	if _, err := ParseSeverity("LOUD"); err == nil {
		t.Fatalf("expected parse error")
	}
	if sev, err := ParseSeverity("Warning"); err != nil || sev != SeverityWarning {
		t.Fatalf("unexpected parse result %v %v", sev, err)
	}
}

func TestWithTagCopies(t *testing.T) {
	ev := NewEvent(ModuleRegistry, EventTypeLifecycle, SeverityInfo, Payload{})
	tagged := ev.WithTag("region", "eu")
	if len(ev.Tags) != 0 {
		t.Fatalf("original event mutated")
	}
	if tagged.Tags["region"] != "eu" {
		t.Fatalf("tag missing on copy")
	}
}

func TestPatternConfidenceBounds(t *testing.T) {
	if c := PatternConfidence(1); c <= 0.1 || c >= 1 {
		t.Fatalf("unexpected confidence %f", c)
	}
	if c := PatternConfidence(500); c != 1.0 {
		t.Fatalf("expected saturation at 1.0, got %f", c)
	}
}
