package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/pkg/cache"
)

// Method selects a forecasting model.
type Method string

const (
	// MethodTrendSeasonal fits a linear trend plus a seasonal offset.
	MethodTrendSeasonal Method = "arima"
	// MethodExponentialSmoothing projects a flat, smoothed level.
	MethodExponentialSmoothing Method = "exponential_smoothing"
)

const (
	minTrendPoints = 10
	maxSeasonLen   = 24
	defaultAlpha   = 0.3
)

// ParseMethod validates a method name.
func ParseMethod(value string) (Method, error) {
	switch Method(value) {
	case MethodTrendSeasonal, MethodExponentialSmoothing:
		return Method(value), nil
	case "":
		return MethodTrendSeasonal, nil
	default:
		return "", fmt.Errorf("%w: unknown prediction method %q", ErrInvalidArgument, value)
	}
}

// PredictOption adjusts a single forecast request.
type PredictOption func(*predictOptions)

type predictOptions struct {
	alpha float64
}

// WithAlpha sets the smoothing factor for MethodExponentialSmoothing.
func WithAlpha(alpha float64) PredictOption {
	return func(o *predictOptions) { o.alpha = alpha }
}

// timeSeries is the prediction history of one metric. It shares the ring
// layout of the anomaly baseline but is owned and sized independently.
type timeSeries = baseline

// PredictionStats summarises engine state.
type PredictionStats struct {
	TotalSeries       int `json:"total_time_series"`
	CachedPredictions int `json:"total_cached_predictions"`
	TotalPoints       int `json:"total_points"`
}

// cachedForecast remembers the smoothing factor a forecast was computed
// with; trend-seasonal entries leave it zero.
type cachedForecast struct {
	alpha  float64
	points []models.Forecast
}

// PredictionEngine keeps bounded per-metric history and produces short
// horizon forecasts.
type PredictionEngine struct {
	logger   *slog.Logger
	capacity int
	series   *shardMap[*timeSeries]
	cache    *cache.TTLCache[cachedForecast]
	now      func() time.Time
}

// NewPredictionEngine builds an engine from cfg.
func NewPredictionEngine(cfg Config, logger *slog.Logger) *PredictionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	capacity := cfg.HistorySize
	return &PredictionEngine{
		logger:   logger,
		capacity: capacity,
		series:   newShardMap(func() *timeSeries { return newBaseline(capacity) }),
		cache:    cache.NewTTLCache[cachedForecast](cfg.PredictionTTL),
		now:      time.Now,
	}
}

func cacheKey(method Method, metric string) string {
	return string(method) + ":" + metric
}

func (e *PredictionEngine) invalidate(metric string) {
	e.cache.Delete(cacheKey(MethodTrendSeasonal, metric), cacheKey(MethodExponentialSmoothing, metric))
}

// AddDataPoint appends to the metric's history and invalidates its cached
// forecasts.
func (e *PredictionEngine) AddDataPoint(metric string, value float64, ts time.Time) {
	e.series.Update(metric, func(s *timeSeries) *timeSeries {
		s.add(value, ts)
		e.invalidate(metric)
		return s
	})
}

// History returns a copy of the metric's values in arrival order.
func (e *PredictionEngine) History(metric string) []float64 {
	var out []float64
	e.series.View(metric, func(s *timeSeries) { out = s.snapshot() })
	return out
}

// Predict forecasts steps points ahead, one minute apart, from the metric's
// last timestamp. Results are cached per method and metric for the
// configured TTL regardless of steps; a smoothing entry is reused only for
// the alpha it was computed with.
func (e *PredictionEngine) Predict(ctx context.Context, metric string, method Method, steps int, opts ...PredictOption) ([]models.Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := predictOptions{alpha: defaultAlpha}
	for _, opt := range opts {
		opt(&o)
	}
	if steps < 1 {
		return nil, fmt.Errorf("%w: steps must be positive, got %d", ErrInvalidArgument, steps)
	}

	var (
		out []models.Forecast
		err error
	)
	switch method {
	case MethodTrendSeasonal:
		out, err = e.predictTrendSeasonal(metric, steps)
	case MethodExponentialSmoothing:
		if o.alpha <= 0 || o.alpha > 1 {
			return nil, fmt.Errorf("%w: alpha must be in (0,1], got %v", ErrInvalidArgument, o.alpha)
		}
		out, err = e.predictSmoothing(metric, steps, o.alpha)
	default:
		return nil, fmt.Errorf("%w: unknown prediction method %q", ErrInvalidArgument, method)
	}

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObservePrediction(string(method), outcome)
	return out, err
}

func (e *PredictionEngine) predictTrendSeasonal(metric string, steps int) ([]models.Forecast, error) {
	key := cacheKey(MethodTrendSeasonal, metric)
	var (
		out []models.Forecast
		err error
	)
	// Runs under the series read lock so AddDataPoint cannot interleave
	// between compute and cache store.
	found := e.series.View(metric, func(s *timeSeries) {
		if cached, ok := e.cache.Get(key); ok {
			out = append([]models.Forecast(nil), cached.points...)
			return
		}
		if s.size == 0 {
			err = fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
			return
		}
		if s.size < minTrendPoints {
			err = fmt.Errorf("%w: %s has %d points, need %d", ErrInsufficientData, metric, s.size, minTrendPoints)
			return
		}
		out = trendSeasonalForecast(s.snapshot(), s.lastTimestamp(), steps)
		e.cache.Set(key, cachedForecast{points: append([]models.Forecast(nil), out...)})
	})
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
	return out, err
}

func (e *PredictionEngine) predictSmoothing(metric string, steps int, alpha float64) ([]models.Forecast, error) {
	key := cacheKey(MethodExponentialSmoothing, metric)
	var out []models.Forecast
	found := e.series.View(metric, func(s *timeSeries) {
		if cached, ok := e.cache.Get(key); ok && cached.alpha == alpha {
			out = append([]models.Forecast(nil), cached.points...)
			return
		}
		if s.size == 0 {
			return
		}
		out = smoothingForecast(s.snapshot(), s.lastTimestamp(), steps, alpha)
		e.cache.Set(key, cachedForecast{alpha: alpha, points: append([]models.Forecast(nil), out...)})
	})
	if !found || out == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
	return out, nil
}

func smoothingForecast(values []float64, last time.Time, steps int, alpha float64) []models.Forecast {
	smoothed := values[0]
	for _, v := range values[1:] {
		smoothed = alpha*v + (1-alpha)*smoothed
	}
	out := make([]models.Forecast, 0, steps)
	for i := 1; i <= steps; i++ {
		out = append(out, models.Forecast{
			Timestamp:  last.Add(time.Duration(i) * time.Minute),
			Value:      smoothed,
			LowerBound: smoothed * 0.9,
			UpperBound: smoothed * 1.1,
			Confidence: stepConfidence(i, steps),
		})
	}
	return out
}

func trendSeasonalForecast(values []float64, last time.Time, steps int) []models.Forecast {
	n := len(values)
	slope, intercept := linearTrend(values)
	seasonal := seasonality(values)

	out := make([]models.Forecast, 0, steps)
	for i := 1; i <= steps; i++ {
		v := slope*float64(n+i) + intercept + seasonal[(n+i)%len(seasonal)]
		conf := stepConfidence(i, steps)
		out = append(out, models.Forecast{
			Timestamp:  last.Add(time.Duration(i) * time.Minute),
			Value:      v,
			LowerBound: v * (1 - 0.1*(1-conf)),
			UpperBound: v * (1 + 0.1*(1-conf)),
			Confidence: conf,
		})
	}
	return out
}

// linearTrend is an ordinary least squares fit over x = 0..n-1.
func linearTrend(values []float64) (slope, intercept float64) {
	n := float64(len(values))
	var xSum, ySum, xySum, xxSum float64
	for i, y := range values {
		x := float64(i)
		xSum += x
		ySum += y
		xySum += x * y
		xxSum += x * x
	}
	slope = (n*xySum - xSum*ySum) / (n*xxSum - xSum*xSum)
	intercept = (ySum - slope*xSum) / n
	return slope, intercept
}

// seasonality returns per-phase means, centred on zero.
func seasonality(values []float64) []float64 {
	period := len(values) / 2
	if period > maxSeasonLen {
		period = maxSeasonLen
	}
	seasonal := make([]float64, period)
	for p := 0; p < period; p++ {
		sum, count := 0.0, 0
		for j := p; j < len(values); j += period {
			sum += values[j]
			count++
		}
		if count > 0 {
			seasonal[p] = sum / float64(count)
		}
	}
	mean := 0.0
	for _, v := range seasonal {
		mean += v
	}
	mean /= float64(period)
	for p := range seasonal {
		seasonal[p] -= mean
	}
	return seasonal
}

func stepConfidence(step, total int) float64 {
	return math.Max(0.95-0.05*(float64(step)/float64(total)), 0.5)
}

// Cleanup drops points older than retention and forgets series that empty out.
func (e *PredictionEngine) Cleanup(retention time.Duration) int {
	cutoff := e.now().Add(-retention)
	removed := 0
	e.series.Sweep(func(metric string, s *timeSeries) bool {
		removed += s.dropBefore(cutoff)
		if s.size == 0 {
			e.invalidate(metric)
			return false
		}
		return true
	})
	e.cache.Purge()
	if removed > 0 {
		e.logger.Debug("prediction history trimmed", slog.Int("points", removed))
	}
	return removed
}

// Stats reports engine counters.
func (e *PredictionEngine) Stats() PredictionStats {
	stats := PredictionStats{CachedPredictions: e.cache.Len()}
	e.series.Range(func(_ string, s *timeSeries) bool {
		stats.TotalSeries++
		stats.TotalPoints += s.size
		return true
	})
	return stats
}
