package models

import "time"

// ModuleCorrelation describes how often two modules emit events close in time.
type ModuleCorrelation struct {
	ModuleA         SourceModule `json:"module_a"`
	ModuleB         SourceModule `json:"module_b"`
	Occurrences     int          `json:"occurrences"`
	AvgDeltaSeconds int64        `json:"avg_delta_seconds"`
	Confidence      float64      `json:"confidence"`
	LastSeen        time.Time    `json:"last_seen"`
}

// PatternConfidence maps an occurrence count onto (0.1, 1.0].
func PatternConfidence(count int) float64 {
	ratio := float64(count) / 100.0
	if ratio > 1 {
		ratio = 1
	}
	return ratio*0.9 + 0.1
}
