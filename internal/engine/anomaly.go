package engine

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// warmupPoints is the minimum baseline size before a z-score is trusted.
const warmupPoints = 10

// baseline is a bounded ring of recent observations for a single metric.
type baseline struct {
	values     []float64
	timestamps []time.Time
	start      int
	size       int
}

func newBaseline(capacity int) *baseline {
	return &baseline{
		values:     make([]float64, capacity),
		timestamps: make([]time.Time, capacity),
	}
}

func (b *baseline) add(value float64, ts time.Time) {
	capacity := len(b.values)
	if b.size < capacity {
		idx := (b.start + b.size) % capacity
		b.values[idx] = value
		b.timestamps[idx] = ts
		b.size++
		return
	}
	b.values[b.start] = value
	b.timestamps[b.start] = ts
	b.start = (b.start + 1) % capacity
}

// last returns the most recent value.
func (b *baseline) last() (float64, bool) {
	if b.size == 0 {
		return 0, false
	}
	return b.values[(b.start+b.size-1)%len(b.values)], true
}

func (b *baseline) lastTimestamp() time.Time {
	if b.size == 0 {
		return time.Time{}
	}
	return b.timestamps[(b.start+b.size-1)%len(b.timestamps)]
}

// dropBefore removes points older than cutoff from the front.
func (b *baseline) dropBefore(cutoff time.Time) int {
	removed := 0
	for b.size > 0 && b.timestamps[b.start].Before(cutoff) {
		b.values[b.start] = 0
		b.timestamps[b.start] = time.Time{}
		b.start = (b.start + 1) % len(b.values)
		b.size--
		removed++
	}
	return removed
}

func (b *baseline) each(fn func(v float64)) {
	for i := 0; i < b.size; i++ {
		fn(b.values[(b.start+i)%len(b.values)])
	}
}

func (b *baseline) mean() float64 {
	if b.size == 0 {
		return 0
	}
	sum := 0.0
	b.each(func(v float64) { sum += v })
	return sum / float64(b.size)
}

// stddev is the sample standard deviation, floored to keep z-scores finite.
func (b *baseline) stddev(mean float64) float64 {
	if b.size < 2 {
		return 1.0
	}
	sq := 0.0
	b.each(func(v float64) {
		d := v - mean
		sq += d * d
	})
	return math.Max(math.Sqrt(sq/float64(b.size-1)), 0.0001)
}

func (b *baseline) snapshot() []float64 {
	out := make([]float64, 0, b.size)
	b.each(func(v float64) { out = append(out, v) })
	return out
}

// DetectorStats summarises detector state.
type DetectorStats struct {
	TotalMetrics    int `json:"total_metrics"`
	TotalAnomalies  int `json:"total_anomalies"`
	ActiveBaselines int `json:"active_baselines"`
}

// AnomalyDetector flags per-metric z-score outliers against a rolling baseline.
type AnomalyDetector struct {
	logger      *slog.Logger
	capacity    int
	sensitivity float64
	baselines   *shardMap[*baseline]
	logs        *shardMap[[]models.Anomaly]
	now         func() time.Time
}

// NewAnomalyDetector builds a detector from cfg.
func NewAnomalyDetector(cfg Config, logger *slog.Logger) *AnomalyDetector {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	capacity := cfg.BaselineSize
	return &AnomalyDetector{
		logger:      logger,
		capacity:    capacity,
		sensitivity: cfg.Sensitivity,
		baselines:   newShardMap(func() *baseline { return newBaseline(capacity) }),
		logs:        newShardMap(func() []models.Anomaly { return nil }),
		now:         time.Now,
	}
}

// Threshold is the z-score above which a point is anomalous.
func (d *AnomalyDetector) Threshold() float64 {
	return 3.0 - d.sensitivity*2.0
}

// Check records value in the metric's baseline and reports an anomaly when its
// z-score against the window (including the new point) exceeds the threshold.
func (d *AnomalyDetector) Check(metric string, value float64, ts time.Time) (*models.Anomaly, bool) {
	var found *models.Anomaly
	d.baselines.Update(metric, func(b *baseline) *baseline {
		prev, hasPrev := b.last()
		b.add(value, ts)
		if b.size < warmupPoints {
			return b
		}

		mean := b.mean()
		z := math.Abs(value-mean) / b.stddev(mean)
		if z <= d.Threshold() {
			return b
		}
		found = &models.Anomaly{
			ID:            uuid.New(),
			MetricName:    metric,
			Timestamp:     ts,
			Value:         value,
			ExpectedValue: mean,
			Deviation:     z,
			Type:          classify(value, mean, prev, hasPrev),
			Severity:      models.SeverityForDeviation(z),
		}
		return b
	})
	if found == nil {
		return nil, false
	}

	d.logs.Update(metric, func(log []models.Anomaly) []models.Anomaly {
		return append(log, *found)
	})
	metrics.ObserveAnomaly(string(found.Type), string(found.Severity))
	d.logger.Debug("anomaly detected",
		slog.String("metric", metric),
		slog.Float64("value", value),
		slog.Float64("expected", found.ExpectedValue),
		slog.Float64("z_score", found.Deviation),
	)
	return found, true
}

// classify compares against the mean and the value preceding this one.
func classify(value, mean, prev float64, hasPrev bool) models.AnomalyType {
	if value > mean {
		if hasPrev && value > prev*1.5 {
			return models.AnomalySpike
		}
		return models.AnomalyHighValue
	}
	if hasPrev && value < prev*0.5 {
		return models.AnomalyDrop
	}
	return models.AnomalyLowValue
}

// Anomalies returns up to limit anomalies for metric, newest first.
func (d *AnomalyDetector) Anomalies(metric string, limit int) []models.Anomaly {
	var out []models.Anomaly
	d.logs.View(metric, func(log []models.Anomaly) {
		n := len(log)
		if limit >= 0 && limit < n {
			n = limit
		}
		out = make([]models.Anomaly, 0, n)
		for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, log[i])
		}
	})
	return out
}

// AllAnomalies returns up to limit anomalies across metrics, newest first.
func (d *AnomalyDetector) AllAnomalies(limit int) []models.Anomaly {
	var all []models.Anomaly
	d.logs.Range(func(_ string, log []models.Anomaly) bool {
		all = append(all, log...)
		return true
	})
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ResetBaseline forgets the metric's window; its anomaly log is kept.
func (d *AnomalyDetector) ResetBaseline(metric string) {
	d.baselines.Delete(metric)
}

// Window returns a copy of the metric's baseline in arrival order.
func (d *AnomalyDetector) Window(metric string) []float64 {
	var out []float64
	d.baselines.View(metric, func(b *baseline) { out = b.snapshot() })
	return out
}

// PruneAnomalies drops logged anomalies older than before and returns the
// number removed.
func (d *AnomalyDetector) PruneAnomalies(before time.Time) int {
	removed := 0
	var keys []string
	d.logs.Range(func(key string, _ []models.Anomaly) bool {
		keys = append(keys, key)
		return true
	})
	for _, key := range keys {
		d.logs.Update(key, func(log []models.Anomaly) []models.Anomaly {
			kept := log[:0]
			for _, a := range log {
				if a.Timestamp.Before(before) {
					removed++
					continue
				}
				kept = append(kept, a)
			}
			return kept
		})
	}
	d.logs.Sweep(func(_ string, log []models.Anomaly) bool { return len(log) > 0 })
	return removed
}

// Stats reports detector counters.
func (d *AnomalyDetector) Stats() DetectorStats {
	total := 0
	d.logs.Range(func(_ string, log []models.Anomaly) bool {
		total += len(log)
		return true
	})
	return DetectorStats{
		TotalMetrics:    d.logs.Len(),
		TotalAnomalies:  total,
		ActiveBaselines: d.baselines.Len(),
	}
}
