package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/cache"
	"github.com/llm-devops/llm-analytics-hub/internal/engine"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

type fakePatternStore struct {
	stored int
	err    error
}

func (f *fakePatternStore) StorePatterns(_ context.Context, patterns []models.ModuleCorrelation) error {
	f.stored += len(patterns)
	return f.err
}

func samplePatterns(now time.Time) []engine.ModulePattern {
	return []engine.ModulePattern{
		{ModuleA: models.ModuleCostOps, ModuleB: models.ModuleObservatory, Count: 5, DeltaSum: 50, LastSeen: now},
		{ModuleA: models.ModuleSentinel, ModuleB: models.ModuleObservatory, Count: 40, DeltaSum: 400, LastSeen: now},
		{ModuleA: models.ModuleObservatory, ModuleB: models.ModuleSentinel, Count: 40, DeltaSum: 800, LastSeen: now},
		{ModuleA: models.ModuleRegistry, ModuleB: models.ModuleRegistry, Count: 1, DeltaSum: 3, LastSeen: now},
	}
}

func TestMinerRanksPatterns(t *testing.T) {
	store := &fakePatternStore{}
	miner := NewMiner(nil, store)

	ranked, err := miner.Mine(context.Background(), samplePatterns(time.Now()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranked) != 4 {
		t.Fatalf("expected 4 patterns, got %d", len(ranked))
	}
	// Equal confidence and count fall back to the pair key.
	if ranked[0].ModuleA != models.ModuleObservatory || ranked[1].ModuleA != models.ModuleSentinel {
		t.Fatalf("unexpected order: %+v", ranked[:2])
	}
	if ranked[0].AvgDeltaSeconds != 20 || ranked[1].AvgDeltaSeconds != 10 {
		t.Fatalf("unexpected averages: %d %d", ranked[0].AvgDeltaSeconds, ranked[1].AvgDeltaSeconds)
	}
	if ranked[3].ModuleA != models.ModuleRegistry {
		t.Fatalf("lowest confidence must rank last, got %s", ranked[3].ModuleA)
	}
	if want := models.PatternConfidence(40); ranked[0].Confidence != want {
		t.Fatalf("confidence = %v, want %v", ranked[0].Confidence, want)
	}
	if store.stored != 4 {
		t.Fatalf("expected patterns to be stored, got %d", store.stored)
	}
}

func TestMinerFiltersAndToleratesStoreErrors(t *testing.T) {
	store := &fakePatternStore{err: errors.New("unavailable")}
	miner := NewMiner(nil, store, WithMinOccurrences(10))

	ranked, err := miner.Mine(context.Background(), samplePatterns(time.Now()))
	if err != nil {
		t.Fatalf("store errors must not fail mining: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 patterns above the floor, got %d", len(ranked))
	}
	if got := Top(ranked, 1); len(got) != 1 {
		t.Fatalf("Top(1) returned %d", len(got))
	}
	if got := Top(ranked, 0); len(got) != 2 {
		t.Fatalf("Top(0) must return everything")
	}
}

func TestMinerEmptyInput(t *testing.T) {
	ranked, err := NewMiner(nil, nil).Mine(context.Background(), nil)
	if err != nil || ranked != nil {
		t.Fatalf("expected nil result, got %v %v", ranked, err)
	}
}

func TestHotspots(t *testing.T) {
	ranked, _ := NewMiner(nil, nil).Mine(context.Background(), samplePatterns(time.Now()))
	spots := Hotspots(ranked)
	if spots[models.ModuleObservatory] != 85 {
		t.Fatalf("observatory hotspot = %d", spots[models.ModuleObservatory])
	}
	if spots[models.ModuleRegistry] != 1 {
		t.Fatalf("same-module pairs count once, got %d", spots[models.ModuleRegistry])
	}
}

func TestCacheStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(cache.NewMemoryProvider(), time.Minute)

	if _, ok, err := store.LoadPatterns(ctx); ok || err != nil {
		t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
	}
	ranked, _ := NewMiner(nil, store).Mine(ctx, samplePatterns(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))

	loaded, ok, err := store.LoadPatterns(ctx)
	if err != nil || !ok {
		t.Fatalf("expected cached patterns, got ok=%v err=%v", ok, err)
	}
	if len(loaded) != len(ranked) || loaded[0].ModuleA != ranked[0].ModuleA ||
		loaded[0].Occurrences != ranked[0].Occurrences || !loaded[0].LastSeen.Equal(ranked[0].LastSeen) {
		t.Fatalf("cached ranking differs: %+v vs %+v", loaded, ranked)
	}
}
