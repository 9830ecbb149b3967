package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/llm-devops/llm-analytics-hub/internal/cache"
	"github.com/llm-devops/llm-analytics-hub/internal/engine"
	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/patterns"
	"github.com/llm-devops/llm-analytics-hub/internal/repo"
	"github.com/llm-devops/llm-analytics-hub/internal/resilience"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

const (
	defaultAnomalyLimit = 50
	maxAnomalyLimit     = 1000
	defaultPatternLimit = 10
	maxPredictSteps     = 1440
)

// StatsQuerier reads aggregated rollups.
type StatsQuerier interface {
	QueryStats(ctx context.Context, metric string, window models.RollupWindow, start, end time.Time) ([]models.MetricStats, error)
}

// HealthChecker reports the health of one collaborator adapter.
type HealthChecker interface {
	HealthCheck(ctx context.Context) models.AdapterHealth
}

// ServiceStats is the hub-wide status snapshot.
type ServiceStats struct {
	Aggregator   engine.AggregatorStats `json:"aggregator"`
	QueryP95     time.Duration          `json:"query_p95"`
	QueryMean    time.Duration          `json:"query_mean"`
	QueryCount   int                    `json:"query_count"`
	RulesLoaded  int                    `json:"rules_loaded"`
	StoreEnabled bool                   `json:"store_enabled"`
}

// Option customises an AnalyticsService.
type Option func(*AnalyticsService)

// WithStatsStore serves MetricStats from store.
func WithStatsStore(store StatsQuerier) Option {
	return func(s *AnalyticsService) { s.store = store }
}

// WithCache caches MetricStats responses for ttl.
func WithCache(provider cache.Provider, ttl time.Duration) Option {
	return func(s *AnalyticsService) {
		s.cache = provider
		s.statsTTL = ttl
	}
}

// WithAdapters reports the given adapters from AdapterHealth.
func WithAdapters(adapters ...HealthChecker) Option {
	return func(s *AnalyticsService) { s.adapters = append(s.adapters, adapters...) }
}

// WithMiner ranks patterns through miner instead of a store-less default.
func WithMiner(miner *patterns.Miner) Option {
	return func(s *AnalyticsService) { s.miner = miner }
}

// WithRules exposes the loaded rule count in Stats.
func WithRules(rules *engine.RuleEngine) Option {
	return func(s *AnalyticsService) { s.rules = rules }
}

// AnalyticsService is the query facade over the aggregator and rollup store.
// Every method returns gRPC status errors.
type AnalyticsService struct {
	logger     *slog.Logger
	aggregator *engine.Aggregator
	store      StatsQuerier
	cache      cache.Provider
	statsTTL   time.Duration
	adapters   []HealthChecker
	miner      *patterns.Miner
	rules      *engine.RuleEngine
	latencies  *utils.LatencyTracker
}

// NewAnalyticsService constructs the service facade.
func NewAnalyticsService(logger *slog.Logger, aggregator *engine.Aggregator, opts ...Option) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AnalyticsService{
		logger:     logger,
		aggregator: aggregator,
		cache:      cache.NoopProvider{},
		statsTTL:   30 * time.Second,
		latencies:  utils.NewLatencyTracker(1024),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.miner == nil {
		s.miner = patterns.NewMiner(logger, nil)
	}
	return s
}

// MetricStats returns rollup buckets for metric overlapping [start, end).
func (s *AnalyticsService) MetricStats(ctx context.Context, metric, window string, start, end time.Time) (out []models.MetricStats, err error) {
	defer s.observe("MetricStats", time.Now(), &err)

	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "rollup store not configured")
	}
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return nil, status.Error(codes.InvalidArgument, "metric is required")
	}
	w, perr := models.ParseRollupWindow(window)
	if perr != nil {
		return nil, status.Error(codes.InvalidArgument, perr.Error())
	}

	key := statsCacheKey(metric, w, start, end)
	if hit, cerr := cache.GetJSON(ctx, s.cache, key, &out); cerr != nil {
		s.logger.Warn("stats cache read failed", slog.String("key", key), slog.Any("error", cerr))
	} else if hit {
		return out, nil
	}

	out, qerr := s.store.QueryStats(ctx, metric, w, start, end)
	if qerr != nil {
		return nil, s.toStatus("query stats", qerr)
	}
	if serr := cache.SetJSON(ctx, s.cache, key, out, s.statsTTL); serr != nil {
		s.logger.Warn("stats cache write failed", slog.String("key", key), slog.Any("error", serr))
	}
	return out, nil
}

func statsCacheKey(metric string, window models.RollupWindow, start, end time.Time) string {
	return fmt.Sprintf("stats:%s:%s:%d:%d", metric, window, start.Unix(), end.Unix())
}

// RecentAnomalies returns the newest anomalies, for one metric or across all.
func (s *AnalyticsService) RecentAnomalies(ctx context.Context, metric string, limit int) (out []models.Anomaly, err error) {
	defer s.observe("RecentAnomalies", time.Now(), &err)

	if limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	if limit == 0 {
		limit = defaultAnomalyLimit
	}
	if limit > maxAnomalyLimit {
		limit = maxAnomalyLimit
	}
	if metric = strings.TrimSpace(metric); metric == "" {
		return s.aggregator.Anomaly().AllAnomalies(limit), nil
	}
	return s.aggregator.Anomaly().Anomalies(metric, limit), nil
}

// CorrelationGraph materialises the causal graph of a correlation id.
func (s *AnalyticsService) CorrelationGraph(ctx context.Context, correlationID string) (graph *models.CorrelationGraph, err error) {
	defer s.observe("CorrelationGraph", time.Now(), &err)

	id, perr := uuid.Parse(strings.TrimSpace(correlationID))
	if perr != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid correlation id %q", correlationID)
	}
	graph, ok := s.aggregator.Correlation().BuildGraph(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "correlation %s not found", id)
	}
	return graph, nil
}

// ModuleCorrelation summarises the directed module pair (a, b).
func (s *AnalyticsService) ModuleCorrelation(ctx context.Context, moduleA, moduleB string) (mc *models.ModuleCorrelation, err error) {
	defer s.observe("ModuleCorrelation", time.Now(), &err)

	a, b := models.SourceModule(moduleA), models.SourceModule(moduleB)
	if !a.Valid() || !b.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown module pair %q, %q", moduleA, moduleB)
	}
	mc, ok := s.aggregator.Correlation().AnalyzeModuleCorrelation(a, b)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no correlation between %s and %s", a, b)
	}
	return mc, nil
}

// Predict forecasts metric steps minutes ahead. Alpha applies only to
// exponential smoothing; zero selects the default.
func (s *AnalyticsService) Predict(ctx context.Context, metric, method string, steps int, alpha float64) (out []models.Forecast, err error) {
	defer s.observe("Predict", time.Now(), &err)

	m, perr := engine.ParseMethod(method)
	if perr != nil {
		return nil, s.toStatus("predict", perr)
	}
	if steps > maxPredictSteps {
		return nil, status.Errorf(codes.InvalidArgument, "steps must not exceed %d", maxPredictSteps)
	}
	var opts []engine.PredictOption
	if alpha != 0 {
		opts = append(opts, engine.WithAlpha(alpha))
	}
	out, perr = s.aggregator.Prediction().Predict(ctx, metric, m, steps, opts...)
	if perr != nil {
		return nil, s.toStatus("predict", perr)
	}
	return out, nil
}

// TopModulePatterns ranks every module pair and returns the first limit.
func (s *AnalyticsService) TopModulePatterns(ctx context.Context, limit int) (out []models.ModuleCorrelation, err error) {
	defer s.observe("TopModulePatterns", time.Now(), &err)

	if limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	if limit == 0 {
		limit = defaultPatternLimit
	}
	ranked, merr := s.miner.Mine(ctx, s.aggregator.Correlation().ModulePatterns())
	if merr != nil {
		return nil, s.toStatus("mine patterns", merr)
	}
	return patterns.Top(ranked, limit), nil
}

// AdapterHealth probes every configured adapter.
func (s *AnalyticsService) AdapterHealth(ctx context.Context) (out []models.AdapterHealth, err error) {
	defer s.observe("AdapterHealth", time.Now(), &err)

	out = make([]models.AdapterHealth, 0, len(s.adapters))
	for _, adapter := range s.adapters {
		out = append(out, adapter.HealthCheck(ctx))
	}
	return out, nil
}

// Stats reports engine counters and query latency.
func (s *AnalyticsService) Stats(ctx context.Context) (ServiceStats, error) {
	stats := ServiceStats{
		Aggregator:   s.aggregator.Stats(),
		QueryP95:     s.latencies.Percentile(95),
		QueryMean:    s.latencies.Mean(),
		QueryCount:   s.latencies.Count(),
		StoreEnabled: s.store != nil,
	}
	if s.rules != nil {
		stats.RulesLoaded = len(s.rules.Rules())
	}
	return stats, nil
}

// LatencyP95 returns the current p95 query latency.
func (s *AnalyticsService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *AnalyticsService) observe(method string, started time.Time, err *error) {
	duration := time.Since(started)
	s.latencies.Observe(duration)
	outcome := metrics.OutcomeSuccess
	if *err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveQuery(method, duration, outcome)
	if count := s.latencies.Count(); count >= 100 && count%100 == 0 {
		s.logger.Info("query latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

// toStatus maps domain errors onto gRPC codes.
func (s *AnalyticsService) toStatus(op string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, engine.ErrUnknownMetric):
		code = codes.NotFound
	case errors.Is(err, engine.ErrInsufficientData):
		code = codes.FailedPrecondition
	case errors.Is(err, resilience.ErrCircuitOpen):
		code = codes.Unavailable
	case errors.Is(err, engine.ErrInvalidArgument), errors.Is(err, repo.ErrInvalidQuery):
		code = codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		s.logger.Error(op+" failed", slog.Any("error", err))
		return status.Error(codes.Internal, utils.NewAppError(op, "internal error", err).Error())
	}
	return status.Error(code, err.Error())
}
