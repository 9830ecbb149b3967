package models

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyType is decided by a deterministic classification rule.
type AnomalyType string

const (
	AnomalySpike     AnomalyType = "spike"
	AnomalyDrop      AnomalyType = "drop"
	AnomalyHighValue AnomalyType = "high_value"
	AnomalyLowValue  AnomalyType = "low_value"
	// AnomalyPattern is reserved; the z-score detector never emits it.
	AnomalyPattern AnomalyType = "pattern"
)

// AnomalySeverity is ordered low < medium < high < critical.
type AnomalySeverity string

const (
	AnomalyLow      AnomalySeverity = "low"
	AnomalyMedium   AnomalySeverity = "medium"
	AnomalyHigh     AnomalySeverity = "high"
	AnomalyCritical AnomalySeverity = "critical"
)

var anomalySeverityRank = map[AnomalySeverity]int{
	AnomalyLow:      0,
	AnomalyMedium:   1,
	AnomalyHigh:     2,
	AnomalyCritical: 3,
}

// Rank returns the ordinal position of the severity, or -1 if unknown.
func (s AnomalySeverity) Rank() int {
	if r, ok := anomalySeverityRank[s]; ok {
		return r
	}
	return -1
}

// SeverityForDeviation maps a z-score onto a severity band.
func SeverityForDeviation(z float64) AnomalySeverity {
	switch {
	case z > 5.0:
		return AnomalyCritical
	case z > 4.0:
		return AnomalyHigh
	case z > 3.0:
		return AnomalyMedium
	default:
		return AnomalyLow
	}
}

// Anomaly is an immutable detection record.
type Anomaly struct {
	ID            uuid.UUID       `json:"anomaly_id"`
	MetricName    string          `json:"metric_name"`
	Timestamp     time.Time       `json:"timestamp"`
	Value         float64         `json:"value"`
	ExpectedValue float64         `json:"expected_value"`
	Deviation     float64         `json:"deviation"`
	Type          AnomalyType     `json:"anomaly_type"`
	Severity      AnomalySeverity `json:"severity"`
}
