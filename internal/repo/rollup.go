package repo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

// reservoirSize bounds the samples kept per bucket for percentile estimates.
const reservoirSize = 256

var (
	// ErrInvalidQuery rejects a malformed stats query.
	ErrInvalidQuery = errors.New("invalid rollup query")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("rollup store closed")
)

// RollupStore aggregates samples into time buckets and persists them.
type RollupStore interface {
	Record(ctx context.Context, metric string, value float64, ts time.Time) error
	Flush(ctx context.Context) error
	QueryStats(ctx context.Context, metric string, window models.RollupWindow, start, end time.Time) ([]models.MetricStats, error)
	Close() error
}

type bucketKey struct {
	metric string
	window models.RollupWindow
	start  int64
}

// rollupRow is the persisted form of one bucket. Rows combine with merge, so a
// flush only has to carry what arrived since the previous one.
type rollupRow struct {
	Metric      string
	Window      models.RollupWindow
	BucketStart time.Time
	Count       int64
	Sum         float64
	Min         float64
	Max         float64
	Mean        float64
	M2          float64
	P50         float64
	P95         float64
	P99         float64
}

func (r rollupRow) key() bucketKey {
	return bucketKey{metric: r.Metric, window: r.Window, start: r.BucketStart.UnixNano()}
}

// merge folds o into r with Chan's parallel variance update. Percentiles are
// count weighted, which is exact only when both sides see the same
// distribution.
func (r rollupRow) merge(o rollupRow) rollupRow {
	if r.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return r
	}
	n := float64(r.Count + o.Count)
	na, nb := float64(r.Count), float64(o.Count)
	delta := o.Mean - r.Mean
	weighted := func(a, b float64) float64 { return (a*na + b*nb) / n }

	out := r
	out.Count = r.Count + o.Count
	out.Sum = r.Sum + o.Sum
	out.Min = math.Min(r.Min, o.Min)
	out.Max = math.Max(r.Max, o.Max)
	out.Mean = weighted(r.Mean, o.Mean)
	out.M2 = r.M2 + o.M2 + delta*delta*na*nb/n
	out.P50 = weighted(r.P50, o.P50)
	out.P95 = weighted(r.P95, o.P95)
	out.P99 = weighted(r.P99, o.P99)
	return out
}

func (r rollupRow) stats() models.MetricStats {
	var stddev float64
	if r.Count > 1 {
		stddev = math.Sqrt(r.M2 / float64(r.Count-1))
	}
	return models.MetricStats{
		Metric:      r.Metric,
		Window:      r.Window,
		BucketStart: r.BucketStart,
		BucketEnd:   r.BucketStart.Add(r.Window.Duration()),
		Count:       r.Count,
		Sum:         r.Sum,
		Min:         r.Min,
		Max:         r.Max,
		Avg:         r.Mean,
		StdDev:      stddev,
		P50:         r.P50,
		P95:         r.P95,
		P99:         r.P99,
	}
}

// accumulator is a Welford running mean and variance plus a uniform reservoir.
type accumulator struct {
	count     int64
	sum       float64
	min       float64
	max       float64
	mean      float64
	m2        float64
	reservoir []float64
}

func (a *accumulator) add(v float64, rng *rand.Rand) {
	a.count++
	a.sum += v
	if a.count == 1 || v < a.min {
		a.min = v
	}
	if a.count == 1 || v > a.max {
		a.max = v
	}
	delta := v - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (v - a.mean)

	if len(a.reservoir) < reservoirSize {
		a.reservoir = append(a.reservoir, v)
		return
	}
	if j := rng.Int64N(a.count); j < reservoirSize {
		a.reservoir[j] = v
	}
}

func (a *accumulator) row(key bucketKey) rollupRow {
	sorted := append([]float64(nil), a.reservoir...)
	sort.Float64s(sorted)
	return rollupRow{
		Metric:      key.metric,
		Window:      key.window,
		BucketStart: time.Unix(0, key.start).UTC(),
		Count:       a.count,
		Sum:         a.sum,
		Min:         a.min,
		Max:         a.max,
		Mean:        a.mean,
		M2:          a.m2,
		P50:         percentile(sorted, 50),
		P95:         percentile(sorted, 95),
		P99:         percentile(sorted, 99),
	}
}

// percentile uses nearest rank over an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// rollupBuffer holds the buckets touched since the last flush, across every
// rollup window.
type rollupBuffer struct {
	mu      sync.Mutex
	rng     *rand.Rand
	buckets map[bucketKey]*accumulator
	pending map[bucketKey]rollupRow
}

func newRollupBuffer() *rollupBuffer {
	return &rollupBuffer{
		rng:     rand.New(rand.NewPCG(0x6c6c6d, 0x616e616c)),
		buckets: make(map[bucketKey]*accumulator),
		pending: make(map[bucketKey]rollupRow),
	}
}

func (b *rollupBuffer) record(metric string, value float64, ts time.Time) error {
	if metric == "" {
		return fmt.Errorf("record sample: empty metric name")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("record sample %s: non-finite value", metric)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range models.RollupWindows {
		key := bucketKey{metric: metric, window: w, start: utils.BucketStart(ts, w.Duration()).UnixNano()}
		acc, ok := b.buckets[key]
		if !ok {
			acc = &accumulator{}
			b.buckets[key] = acc
		}
		acc.add(value, b.rng)
	}
	return nil
}

// drain hands every dirty bucket to the caller and clears the buffer. Rows
// from a failed earlier flush are included.
func (b *rollupBuffer) drain() []rollupRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, acc := range b.buckets {
		b.pending[key] = b.pending[key].merge(acc.row(key))
	}
	b.buckets = make(map[bucketKey]*accumulator)
	rows := make([]rollupRow, 0, len(b.pending))
	for _, row := range b.pending {
		rows = append(rows, row)
	}
	b.pending = make(map[bucketKey]rollupRow)
	sortRows(rows)
	return rows
}

// restore puts rows back after a failed flush so the next one retries them.
func (b *rollupBuffer) restore(rows []rollupRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		key := row.key()
		b.pending[key] = b.pending[key].merge(row)
	}
}

// snapshot returns unflushed rows for metric and window overlapping [start, end).
func (b *rollupBuffer) snapshot(metric string, window models.RollupWindow, start, end time.Time) []rollupRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	width := window.Duration()
	merged := make(map[bucketKey]rollupRow)
	for key, row := range b.pending {
		if key.metric == metric && key.window == window && overlaps(key.start, width, start, end) {
			merged[key] = row
		}
	}
	for key, acc := range b.buckets {
		if key.metric == metric && key.window == window && overlaps(key.start, width, start, end) {
			merged[key] = merged[key].merge(acc.row(key))
		}
	}
	rows := make([]rollupRow, 0, len(merged))
	for _, row := range merged {
		rows = append(rows, row)
	}
	return rows
}

func (b *rollupBuffer) dirty() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets) + len(b.pending)
}

func overlaps(bucketStart int64, width time.Duration, start, end time.Time) bool {
	bs := time.Unix(0, bucketStart)
	return bs.Before(end) && bs.Add(width).After(start)
}

// combine merges flushed and unflushed rows by bucket and orders the result by
// bucket start.
func combine(stored, unflushed []rollupRow) []models.MetricStats {
	byKey := make(map[bucketKey]rollupRow, len(stored)+len(unflushed))
	for _, row := range stored {
		byKey[row.key()] = byKey[row.key()].merge(row)
	}
	for _, row := range unflushed {
		byKey[row.key()] = byKey[row.key()].merge(row)
	}
	rows := make([]rollupRow, 0, len(byKey))
	for _, row := range byKey {
		rows = append(rows, row)
	}
	sortRows(rows)
	out := make([]models.MetricStats, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.stats())
	}
	return out
}

func sortRows(rows []rollupRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.BucketStart.Equal(b.BucketStart) {
			return a.BucketStart.Before(b.BucketStart)
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Window < b.Window
	})
}

func validateQuery(metric string, window models.RollupWindow, start, end time.Time) error {
	if metric == "" {
		return fmt.Errorf("%w: empty metric name", ErrInvalidQuery)
	}
	if window.Duration() == 0 {
		return fmt.Errorf("%w: unknown window %q", ErrInvalidQuery, window)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidQuery, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}
