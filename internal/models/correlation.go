package models

import (
	"time"

	"github.com/google/uuid"
)

// EdgeType classifies a link in a correlation graph.
type EdgeType string

const (
	EdgeCausal   EdgeType = "causal"
	EdgeTemporal EdgeType = "temporal"
	EdgeSemantic EdgeType = "semantic"
)

// CorrelationGraph is the materialised view of one correlation id.
type CorrelationGraph struct {
	CorrelationID uuid.UUID   `json:"correlation_id"`
	Nodes         []GraphNode `json:"nodes"`
	Edges         []GraphEdge `json:"edges"`
	CreatedAt     time.Time   `json:"created_at"`
}

// GraphNode summarises one retained event.
type GraphNode struct {
	EventID      uuid.UUID    `json:"event_id"`
	Timestamp    time.Time    `json:"timestamp"`
	SourceModule SourceModule `json:"source_module"`
	EventType    EventType    `json:"event_type"`
	Severity     Severity     `json:"severity"`
}

// GraphEdge links two events in the graph.
type GraphEdge struct {
	From       uuid.UUID `json:"from"`
	To         uuid.UUID `json:"to"`
	Type       EdgeType  `json:"edge_type"`
	Confidence float64   `json:"confidence"`
}

// TimeRange bounds a query window. End is exclusive.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls in [Start, End).
func (r TimeRange) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && ts.Before(r.End)
}
