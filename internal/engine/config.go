package engine

import (
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/config"
)

// Config tunes the analytics engines. Zero sizes and durations fall back to
// defaults; Sensitivity is used as given, clamped to [0,1].
type Config struct {
	Sensitivity               float64
	BaselineSize              int
	HistorySize               int
	PredictionTTL             time.Duration
	CorrelationWindow         time.Duration
	CorrelationRetentionHours int
	PredictionRetention       time.Duration
	AnomalyRetention          time.Duration
	PatternMaxIdle            time.Duration
	MaxPatternOccurrences     int
	Workers                   int
	AlertQueueSize            int
}

// DefaultConfig mirrors the analytics defaults of config.Load.
func DefaultConfig() Config {
	return Config{
		Sensitivity:               0.5,
		BaselineSize:              100,
		HistorySize:               1000,
		PredictionTTL:             5 * time.Minute,
		CorrelationWindow:         5 * time.Minute,
		CorrelationRetentionHours: 24,
		PredictionRetention:       24 * time.Hour,
		AnomalyRetention:          7 * 24 * time.Hour,
		PatternMaxIdle:            24 * time.Hour,
		MaxPatternOccurrences:     1000,
		Workers:                   1,
		AlertQueueSize:            1024,
	}
}

// FromAnalytics derives engine settings from the loaded application config.
func FromAnalytics(cfg config.AnalyticsConfig) Config {
	out := DefaultConfig()
	out.Sensitivity = cfg.Sensitivity
	if cfg.BaselineSize > 0 {
		out.BaselineSize = cfg.BaselineSize
	}
	if cfg.HistorySize > 0 {
		out.HistorySize = cfg.HistorySize
	}
	if cfg.PredictionTTL > 0 {
		out.PredictionTTL = cfg.PredictionTTL
	}
	if cfg.CorrelationWindow > 0 {
		out.CorrelationWindow = cfg.CorrelationWindow
	}
	if cfg.CorrelationRetentionHours > 0 {
		out.CorrelationRetentionHours = cfg.CorrelationRetentionHours
	}
	if cfg.PredictionRetention > 0 {
		out.PredictionRetention = cfg.PredictionRetention
	}
	if cfg.AnomalyRetention > 0 {
		out.AnomalyRetention = cfg.AnomalyRetention
	}
	if cfg.PatternMaxIdle > 0 {
		out.PatternMaxIdle = cfg.PatternMaxIdle
	}
	if cfg.Workers > 0 {
		out.Workers = cfg.Workers
	}
	if cfg.AlertQueueSize > 0 {
		out.AlertQueueSize = cfg.AlertQueueSize
	}
	return out
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaselineSize <= 0 {
		c.BaselineSize = d.BaselineSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.PredictionTTL <= 0 {
		c.PredictionTTL = d.PredictionTTL
	}
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = d.CorrelationWindow
	}
	if c.CorrelationRetentionHours <= 0 {
		c.CorrelationRetentionHours = d.CorrelationRetentionHours
	}
	if c.PredictionRetention <= 0 {
		c.PredictionRetention = d.PredictionRetention
	}
	if c.AnomalyRetention <= 0 {
		c.AnomalyRetention = d.AnomalyRetention
	}
	if c.PatternMaxIdle <= 0 {
		c.PatternMaxIdle = d.PatternMaxIdle
	}
	if c.MaxPatternOccurrences <= 0 {
		c.MaxPatternOccurrences = d.MaxPatternOccurrences
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.AlertQueueSize <= 0 {
		c.AlertQueueSize = d.AlertQueueSize
	}
	if c.Sensitivity < 0 {
		c.Sensitivity = 0
	}
	if c.Sensitivity > 1 {
		c.Sensitivity = 1
	}
	return c
}
