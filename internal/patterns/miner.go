package patterns

import (
	"context"
	"log/slog"
	"sort"

	"github.com/llm-devops/llm-analytics-hub/internal/engine"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// Store abstracts persistence for mined module patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.ModuleCorrelation) error
}

// Miner ranks module co-occurrence accumulators into correlation summaries.
type Miner struct {
	store          Store
	logger         *slog.Logger
	minOccurrences int
}

// Option customises a Miner.
type Option func(*Miner)

// WithMinOccurrences drops pairs seen fewer than n times.
func WithMinOccurrences(n int) Option {
	return func(m *Miner) { m.minOccurrences = n }
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store, opts ...Option) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Miner{store: store, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mine converts accumulators into correlations ranked by confidence, then
// occurrence count, then pair key. A store failure is logged, not returned.
func (m *Miner) Mine(ctx context.Context, accumulators []engine.ModulePattern) ([]models.ModuleCorrelation, error) {
	if len(accumulators) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type ranked struct {
		key string
		mc  models.ModuleCorrelation
	}
	items := make([]ranked, 0, len(accumulators))
	for _, p := range accumulators {
		if p.Count < m.minOccurrences {
			continue
		}
		items = append(items, ranked{key: p.Key(), mc: p.Correlation()})
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].mc, items[j].mc
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Occurrences != b.Occurrences {
			return a.Occurrences > b.Occurrences
		}
		return items[i].key < items[j].key
	})

	out := make([]models.ModuleCorrelation, 0, len(items))
	for _, it := range items {
		out = append(out, it.mc)
	}

	if m.store != nil && len(out) > 0 {
		if err := m.store.StorePatterns(ctx, out); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// Top returns at most limit entries of ranked; limit <= 0 returns all.
func Top(ranked []models.ModuleCorrelation, limit int) []models.ModuleCorrelation {
	if limit <= 0 || limit >= len(ranked) {
		return ranked
	}
	return ranked[:limit]
}

// Hotspots totals occurrences per module across every pair it takes part in,
// counting a same-module pair once.
func Hotspots(ranked []models.ModuleCorrelation) map[models.SourceModule]int {
	out := make(map[models.SourceModule]int)
	for _, mc := range ranked {
		out[mc.ModuleA] += mc.Occurrences
		if mc.ModuleB != mc.ModuleA {
			out[mc.ModuleB] += mc.Occurrences
		}
	}
	return out
}
