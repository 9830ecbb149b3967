package patterns

import (
	"context"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/cache"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// CacheKey holds the last ranked pattern list.
const CacheKey = "patterns:top"

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, patterns []models.ModuleCorrelation) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, patterns []models.ModuleCorrelation) error {
	return f(ctx, patterns)
}

// CacheStore keeps the latest ranking in a cache provider so other replicas
// can serve it.
type CacheStore struct {
	provider cache.Provider
	ttl      time.Duration
}

// NewCacheStore wraps provider; entries expire after ttl.
func NewCacheStore(provider cache.Provider, ttl time.Duration) *CacheStore {
	return &CacheStore{provider: provider, ttl: ttl}
}

// StorePatterns implements Store.
func (s *CacheStore) StorePatterns(ctx context.Context, patterns []models.ModuleCorrelation) error {
	return cache.SetJSON(ctx, s.provider, CacheKey, patterns, s.ttl)
}

// LoadPatterns returns the cached ranking; ok is false on a miss.
func (s *CacheStore) LoadPatterns(ctx context.Context) ([]models.ModuleCorrelation, bool, error) {
	var patterns []models.ModuleCorrelation
	ok, err := cache.GetJSON(ctx, s.provider, CacheKey, &patterns)
	if err != nil || !ok {
		return nil, false, err
	}
	return patterns, true, nil
}
