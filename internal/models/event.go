package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every event produced by the hub.
const SchemaVersion = "1.0.0"

// SourceModule identifies the ecosystem service that emitted an event.
type SourceModule string

const (
	ModuleObservatory         SourceModule = "llm-observatory"
	ModuleSentinel            SourceModule = "llm-sentinel"
	ModuleCostOps             SourceModule = "llm-cost-ops"
	ModuleGovernanceDashboard SourceModule = "llm-governance-dashboard"
	ModuleRegistry            SourceModule = "llm-registry"
	ModulePolicyEngine        SourceModule = "llm-policy-engine"
	ModuleAnalyticsHub        SourceModule = "llm-analytics-hub"
)

var knownModules = map[SourceModule]struct{}{
	ModuleObservatory:         {},
	ModuleSentinel:            {},
	ModuleCostOps:             {},
	ModuleGovernanceDashboard: {},
	ModuleRegistry:            {},
	ModulePolicyEngine:        {},
	ModuleAnalyticsHub:        {},
}

// Valid reports whether m is one of the known ecosystem modules.
func (m SourceModule) Valid() bool {
	_, ok := knownModules[m]
	return ok
}

// EventType classifies the event family.
type EventType string

const (
	EventTypeTelemetry  EventType = "telemetry"
	EventTypeSecurity   EventType = "security"
	EventTypeCost       EventType = "cost"
	EventTypeGovernance EventType = "governance"
	EventTypeLifecycle  EventType = "lifecycle"
	EventTypeAudit      EventType = "audit"
	EventTypeAlert      EventType = "alert"
)

// Severity is totally ordered: debug < info < warning < error < critical.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity, or -1 if unknown.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Less reports whether s orders strictly before other.
func (s Severity) Less(other Severity) bool {
	return s.Rank() < other.Rank()
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(value string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(value)))
	if sev.Rank() < 0 {
		return "", fmt.Errorf("unknown severity %q", value)
	}
	return sev, nil
}

// Event is the canonical record exchanged across the ecosystem. Events are
// never mutated after construction; the With* helpers return copies.
type Event struct {
	EventID       uuid.UUID         `json:"event_id"`
	Timestamp     time.Time         `json:"timestamp"`
	SourceModule  SourceModule      `json:"source_module"`
	EventType     EventType         `json:"event_type"`
	CorrelationID *uuid.UUID        `json:"correlation_id,omitempty"`
	ParentEventID *uuid.UUID        `json:"parent_event_id,omitempty"`
	SchemaVersion string            `json:"schema_version"`
	Severity      Severity          `json:"severity"`
	Environment   string            `json:"environment"`
	Tags          map[string]string `json:"tags"`
	Payload       Payload           `json:"payload"`
}

// NewEvent builds an event with a fresh id, the current UTC time and the
// current schema version.
func NewEvent(module SourceModule, eventType EventType, severity Severity, payload Payload) Event {
	return Event{
		EventID:       uuid.New(),
		Timestamp:     time.Now().UTC(),
		SourceModule:  module,
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Severity:      severity,
		Environment:   "production",
		Tags:          map[string]string{},
		Payload:       payload,
	}
}

// WithCorrelation returns a copy of the event carrying the correlation id.
func (e Event) WithCorrelation(id uuid.UUID) Event {
	e.CorrelationID = &id
	return e
}

// WithParent returns a copy of the event pointing at a parent event.
func (e Event) WithParent(id uuid.UUID) Event {
	e.ParentEventID = &id
	return e
}

// WithTimestamp returns a copy of the event with a different timestamp.
func (e Event) WithTimestamp(ts time.Time) Event {
	e.Timestamp = ts.UTC()
	return e
}

// WithTag returns a copy of the event with an extra tag.
func (e Event) WithTag(key, value string) Event {
	tags := make(map[string]string, len(e.Tags)+1)
	for k, v := range e.Tags {
		tags[k] = v
	}
	tags[key] = value
	e.Tags = tags
	return e
}

// UnmarshalJSON applies the wire defaults for a missing id, schema version
// or tag map.
func (e *Event) UnmarshalJSON(data []byte) error {
	type wire Event
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.EventID == uuid.Nil {
		w.EventID = uuid.New()
	}
	if w.SchemaVersion == "" {
		w.SchemaVersion = SchemaVersion
	}
	if w.Tags == nil {
		w.Tags = map[string]string{}
	}
	if w.Timestamp.IsZero() {
		return fmt.Errorf("event %s: timestamp is required", w.EventID)
	}
	if w.Payload.Type == "" {
		return fmt.Errorf("event %s: payload is required", w.EventID)
	}
	*e = Event(w)
	return nil
}
