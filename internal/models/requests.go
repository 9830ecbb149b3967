package models

import (
	"fmt"
	"time"
)

// RollupWindow names an aggregation bucket width.
type RollupWindow string

const (
	Window1m  RollupWindow = "1m"
	Window5m  RollupWindow = "5m"
	Window15m RollupWindow = "15m"
	Window1h  RollupWindow = "1h"
	Window1d  RollupWindow = "1d"
)

// RollupWindows lists every window maintained by the rollup store.
var RollupWindows = []RollupWindow{Window1m, Window5m, Window15m, Window1h, Window1d}

// Duration returns the bucket width.
func (w RollupWindow) Duration() time.Duration {
	switch w {
	case Window1m:
		return time.Minute
	case Window5m:
		return 5 * time.Minute
	case Window15m:
		return 15 * time.Minute
	case Window1h:
		return time.Hour
	case Window1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// ParseRollupWindow validates a window name.
func ParseRollupWindow(value string) (RollupWindow, error) {
	w := RollupWindow(value)
	if w.Duration() == 0 {
		return "", fmt.Errorf("unknown rollup window %q", value)
	}
	return w, nil
}

// MetricStats is one aggregated bucket for a metric.
type MetricStats struct {
	Metric      string       `json:"metric"`
	Window      RollupWindow `json:"window"`
	BucketStart time.Time    `json:"bucket_start"`
	BucketEnd   time.Time    `json:"bucket_end"`
	Count       int64        `json:"count"`
	Sum         float64      `json:"sum"`
	Min         float64      `json:"min"`
	Max         float64      `json:"max"`
	Avg         float64      `json:"avg"`
	StdDev      float64      `json:"stddev"`
	P50         float64      `json:"p50"`
	P95         float64      `json:"p95"`
	P99         float64      `json:"p99"`
}

// StatsQuery selects rollup buckets for a metric.
type StatsQuery struct {
	Metric string
	Window RollupWindow
	Range  TimeRange
}

// Forecast is a single predicted step.
type Forecast struct {
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"predicted_value"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
	Confidence float64   `json:"confidence"`
}
