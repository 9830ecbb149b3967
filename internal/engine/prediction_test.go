package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearEngine(t *testing.T, points int) *PredictionEngine {
	t.Helper()
	e := NewPredictionEngine(DefaultConfig(), nil)
	for i := 0; i < points; i++ {
		e.AddDataPoint("m", 2*float64(i)+1, minute(i))
	}
	return e
}

func TestHistoryIsBoundedInArrivalOrder(t *testing.T) {
	e := NewPredictionEngine(Config{HistorySize: 3}, nil)
	for i := 1; i <= 5; i++ {
		e.AddDataPoint("m", float64(i), minute(i))
	}
	assert.Equal(t, []float64{3, 4, 5}, e.History("m"))
}

func TestTrendSeasonalForecast(t *testing.T) {
	e := linearEngine(t, 10)

	got, err := e.Predict(context.Background(), "m", MethodTrendSeasonal, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// slope 2, intercept 1, season period 5 with offsets [-4,-2,0,2,4].
	assert.InDelta(t, 21.0, got[0].Value, 1e-9)
	assert.InDelta(t, 25.0, got[1].Value, 1e-9)
	assert.InDelta(t, 29.0, got[2].Value, 1e-9)
	assert.Equal(t, minute(10), got[0].Timestamp)
	assert.Equal(t, minute(12), got[2].Timestamp)

	conf := 0.95 - 0.05/3
	assert.InDelta(t, conf, got[0].Confidence, 1e-12)
	assert.InDelta(t, 21*(1-0.1*(1-conf)), got[0].LowerBound, 1e-9)
	assert.InDelta(t, 21*(1+0.1*(1-conf)), got[0].UpperBound, 1e-9)
	assert.InDelta(t, 0.90, got[2].Confidence, 1e-12)
}

func TestForecastIsDeterministicUntilNewData(t *testing.T) {
	e := linearEngine(t, 30)
	ctx := context.Background()

	for _, method := range []Method{MethodTrendSeasonal, MethodExponentialSmoothing} {
		a, err := e.Predict(ctx, "m", method, 4)
		require.NoError(t, err)
		b, err := e.Predict(ctx, "m", method, 4)
		require.NoError(t, err)
		assert.Equal(t, a, b, "method %s", method)
	}
}

func TestForecastCacheIgnoresSteps(t *testing.T) {
	e := linearEngine(t, 12)
	ctx := context.Background()

	first, err := e.Predict(ctx, "m", MethodTrendSeasonal, 3)
	require.NoError(t, err)
	cached, err := e.Predict(ctx, "m", MethodTrendSeasonal, 6)
	require.NoError(t, err)
	assert.Equal(t, first, cached, "cache is keyed by method and metric only")
	assert.Equal(t, 1, e.Stats().CachedPredictions)

	e.AddDataPoint("m", 25, minute(12))
	assert.Zero(t, e.Stats().CachedPredictions, "new data invalidates the cache")
	fresh, err := e.Predict(ctx, "m", MethodTrendSeasonal, 6)
	require.NoError(t, err)
	assert.Len(t, fresh, 6)
}

func TestForecastCacheExpires(t *testing.T) {
	e := linearEngine(t, 12)
	now := time.Now()
	e.cache.WithClock(func() time.Time { return now })

	_, err := e.Predict(context.Background(), "m", MethodTrendSeasonal, 2)
	require.NoError(t, err)
	require.Equal(t, 1, e.Stats().CachedPredictions)

	now = now.Add(DefaultConfig().PredictionTTL)
	assert.Zero(t, e.Stats().CachedPredictions)
	again, err := e.Predict(context.Background(), "m", MethodTrendSeasonal, 4)
	require.NoError(t, err)
	assert.Len(t, again, 4, "expired entry is recomputed")
}

func TestSmoothingCachedPerMetricAndAlpha(t *testing.T) {
	e := linearEngine(t, 12)
	ctx := context.Background()

	first, err := e.Predict(ctx, "m", MethodExponentialSmoothing, 2, WithAlpha(0.5))
	require.NoError(t, err)
	_, ok := e.cache.Get(cacheKey(MethodExponentialSmoothing, "m"))
	require.True(t, ok)
	cached, err := e.Predict(ctx, "m", MethodExponentialSmoothing, 5, WithAlpha(0.5))
	require.NoError(t, err)
	assert.Equal(t, first, cached, "steps do not change the cached entry")

	other, err := e.Predict(ctx, "m", MethodExponentialSmoothing, 2, WithAlpha(1))
	require.NoError(t, err)
	assert.InDelta(t, 23, other[0].Value, 1e-9, "alpha 1 tracks the last value")
	assert.NotEqual(t, first[0].Value, other[0].Value)

	_, err = e.Predict(ctx, "m", MethodTrendSeasonal, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Stats().CachedPredictions)

	e.AddDataPoint("m", 40, minute(12))
	assert.Zero(t, e.Stats().CachedPredictions, "new data invalidates both methods")
	fresh, err := e.Predict(ctx, "m", MethodExponentialSmoothing, 1, WithAlpha(1))
	require.NoError(t, err)
	assert.InDelta(t, 40, fresh[0].Value, 1e-9)
}

func TestPredictErrors(t *testing.T) {
	ctx := context.Background()
	e := linearEngine(t, 9)

	_, err := e.Predict(ctx, "missing", MethodTrendSeasonal, 3)
	assert.ErrorIs(t, err, ErrUnknownMetric)
	_, err = e.Predict(ctx, "missing", MethodExponentialSmoothing, 3)
	assert.ErrorIs(t, err, ErrUnknownMetric)

	_, err = e.Predict(ctx, "m", MethodTrendSeasonal, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = e.Predict(ctx, "m", MethodTrendSeasonal, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Predict(ctx, "m", MethodExponentialSmoothing, 2, WithAlpha(1.5))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Predict(ctx, "m", Method("prophet"), 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseMethod("prophet")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodTrendSeasonal, m)
}

func TestSmoothingWithSinglePoint(t *testing.T) {
	e := NewPredictionEngine(DefaultConfig(), nil)
	e.AddDataPoint("cost", 42, baseTime)

	got, err := e.Predict(context.Background(), "cost", MethodExponentialSmoothing, 3, WithAlpha(0.5))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, f := range got {
		assert.Equal(t, 42.0, f.Value)
		assert.InDelta(t, 37.8, f.LowerBound, 1e-9)
		assert.InDelta(t, 46.2, f.UpperBound, 1e-9)
		assert.Equal(t, baseTime.Add(time.Duration(i+1)*time.Minute), f.Timestamp)
	}
}

func TestSmoothingLevel(t *testing.T) {
	e := NewPredictionEngine(DefaultConfig(), nil)
	for i, v := range []float64{10, 20, 30} {
		e.AddDataPoint("m", v, minute(i))
	}
	got, err := e.Predict(context.Background(), "m", MethodExponentialSmoothing, 1, WithAlpha(0.5))
	require.NoError(t, err)
	// s = 10, then 15, then 22.5
	assert.InDelta(t, 22.5, got[0].Value, 1e-9)
}

func TestPredictionCleanup(t *testing.T) {
	e := NewPredictionEngine(DefaultConfig(), nil)
	e.now = func() time.Time { return baseTime.Add(2 * time.Hour) }

	e.AddDataPoint("old", 1, baseTime)
	for i := 0; i < 4; i++ {
		e.AddDataPoint("mixed", float64(i), baseTime.Add(time.Duration(i)*time.Hour))
	}

	removed := e.Cleanup(90 * time.Minute)
	assert.Equal(t, 2, removed)
	assert.Nil(t, e.History("old"))
	assert.Equal(t, []float64{1, 2, 3}, e.History("mixed"))
	assert.Equal(t, PredictionStats{TotalSeries: 1, TotalPoints: 3}, e.Stats())
}
