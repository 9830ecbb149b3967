package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

// PatternOccurrence is one observed co-occurrence of two modules.
type PatternOccurrence struct {
	At           time.Time `json:"at"`
	DeltaSeconds int64     `json:"delta_seconds"`
}

// ModulePattern is a snapshot of one module-pair accumulator.
type ModulePattern struct {
	ModuleA  models.SourceModule
	ModuleB  models.SourceModule
	Count    int
	DeltaSum int64
	LastSeen time.Time
	Recent   []PatternOccurrence
}

// Key is the accumulator key, "<module a>:<module b>".
func (p ModulePattern) Key() string {
	return patternKey(p.ModuleA, p.ModuleB)
}

// Correlation derives the summary statistics for the pair.
func (p ModulePattern) Correlation() models.ModuleCorrelation {
	var avg int64
	if p.Count > 0 {
		avg = p.DeltaSum / int64(p.Count)
	}
	return models.ModuleCorrelation{
		ModuleA:         p.ModuleA,
		ModuleB:         p.ModuleB,
		Occurrences:     p.Count,
		AvgDeltaSeconds: avg,
		Confidence:      models.PatternConfidence(p.Count),
		LastSeen:        p.LastSeen,
	}
}

func patternKey(a, b models.SourceModule) string {
	return string(a) + ":" + string(b)
}

// patternAccumulator folds occurrences into running totals and keeps only the
// most recent ones verbatim.
type patternAccumulator struct {
	moduleA  models.SourceModule
	moduleB  models.SourceModule
	count    int
	deltaSum int64
	lastSeen time.Time
	recent   []PatternOccurrence
	next     int
}

func (a *patternAccumulator) fold(occ PatternOccurrence, limit int) {
	a.count++
	a.deltaSum += occ.DeltaSeconds
	if occ.At.After(a.lastSeen) {
		a.lastSeen = occ.At
	}
	if len(a.recent) < limit {
		a.recent = append(a.recent, occ)
		return
	}
	a.recent[a.next] = occ
	a.next = (a.next + 1) % limit
}

func (a *patternAccumulator) snapshot() ModulePattern {
	recent := make([]PatternOccurrence, 0, len(a.recent))
	recent = append(recent, a.recent[a.next:]...)
	recent = append(recent, a.recent[:a.next]...)
	return ModulePattern{
		ModuleA:  a.moduleA,
		ModuleB:  a.moduleB,
		Count:    a.count,
		DeltaSum: a.deltaSum,
		LastSeen: a.lastSeen,
		Recent:   recent,
	}
}

type eventRef struct {
	id     uuid.UUID
	ts     time.Time
	module models.SourceModule
}

type memberSet map[uuid.UUID]struct{}

// CorrelationStats summarises engine state.
type CorrelationStats struct {
	TotalCorrelations int `json:"total_correlations"`
	TotalEvents       int `json:"total_events"`
	TotalPatterns     int `json:"total_patterns"`
}

// CorrelationEngine groups events by correlation id, materialises causal
// graphs and tracks which modules tend to emit events close together.
//
// Lock order: a correlation shard may be held while taking mu, never the
// reverse.
type CorrelationEngine struct {
	logger         *slog.Logger
	window         time.Duration
	maxOccurrences int
	now            func() time.Time

	mu      sync.RWMutex
	events  map[uuid.UUID]models.Event
	buckets map[int64][]eventRef

	correlations *shardMap[memberSet]
	patterns     *shardMap[*patternAccumulator]
}

// NewCorrelationEngine builds an engine from cfg.
func NewCorrelationEngine(cfg Config, logger *slog.Logger) *CorrelationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &CorrelationEngine{
		logger:         logger,
		window:         cfg.CorrelationWindow,
		maxOccurrences: cfg.MaxPatternOccurrences,
		now:            time.Now,
		events:         make(map[uuid.UUID]models.Event),
		buckets:        make(map[int64][]eventRef),
		correlations:   newShardMap(func() memberSet { return memberSet{} }),
		patterns:       newShardMap(func() *patternAccumulator { return &patternAccumulator{} }),
	}
}

func (c *CorrelationEngine) bucketOf(ts time.Time) int64 {
	return utils.BucketStart(ts, c.window).UnixNano()
}

// AddEvent stores the event, joins it to its correlation group and folds one
// pattern occurrence per retained event within the window.
func (c *CorrelationEngine) AddEvent(event models.Event) {
	c.mu.Lock()
	if old, ok := c.events[event.EventID]; ok {
		c.unindexLocked(old)
	}
	c.events[event.EventID] = event
	b := c.bucketOf(event.Timestamp)
	c.buckets[b] = append(c.buckets[b], eventRef{id: event.EventID, ts: event.Timestamp, module: event.SourceModule})
	c.mu.Unlock()

	if event.CorrelationID != nil {
		c.correlations.Update(event.CorrelationID.String(), func(set memberSet) memberSet {
			set[event.EventID] = struct{}{}
			return set
		})
	}

	for _, ref := range c.neighbours(event) {
		delta := utils.AbsDeltaSeconds(event.Timestamp, ref.ts)
		occ := PatternOccurrence{At: event.Timestamp, DeltaSeconds: delta}
		a, b := event.SourceModule, ref.module
		c.patterns.Update(patternKey(a, b), func(acc *patternAccumulator) *patternAccumulator {
			acc.moduleA, acc.moduleB = a, b
			acc.fold(occ, c.maxOccurrences)
			return acc
		})
	}
}

// neighbours returns refs of retained events, other than event itself, whose
// whole-second distance from it is within the window.
func (c *CorrelationEngine) neighbours(event models.Event) []eventRef {
	limit := int64(c.window / time.Second)
	// Whole-second truncation admits up to one extra second on each side.
	lo := c.bucketOf(event.Timestamp.Add(-c.window - time.Second))
	hi := c.bucketOf(event.Timestamp.Add(c.window + time.Second))

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []eventRef
	for b := lo; b <= hi; b += int64(c.window) {
		for _, ref := range c.buckets[b] {
			if ref.id == event.EventID {
				continue
			}
			if utils.AbsDeltaSeconds(event.Timestamp, ref.ts) <= limit {
				out = append(out, ref)
			}
		}
	}
	return out
}

func (c *CorrelationEngine) unindexLocked(event models.Event) {
	b := c.bucketOf(event.Timestamp)
	refs := c.buckets[b]
	for i, ref := range refs {
		if ref.id == event.EventID {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		delete(c.buckets, b)
		return
	}
	c.buckets[b] = refs
}

func (c *CorrelationEngine) members(correlationID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	c.correlations.View(correlationID.String(), func(set memberSet) {
		ids = make([]uuid.UUID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
	})
	return ids
}

// Correlated returns the retained members of a correlation group ordered by
// timestamp. Evicted members are skipped.
func (c *CorrelationEngine) Correlated(correlationID uuid.UUID) []models.Event {
	ids := c.members(correlationID)

	c.mu.RLock()
	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := c.events[id]; ok {
			out = append(out, ev)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].EventID.String() < out[j].EventID.String()
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// BuildGraph materialises the group as nodes plus causal parent to child
// edges. It returns false when no member is retained.
func (c *CorrelationEngine) BuildGraph(correlationID uuid.UUID) (*models.CorrelationGraph, bool) {
	events := c.Correlated(correlationID)
	if len(events) == 0 {
		return nil, false
	}

	graph := &models.CorrelationGraph{
		CorrelationID: correlationID,
		Nodes:         make([]models.GraphNode, 0, len(events)),
		CreatedAt:     c.now().UTC(),
	}
	present := make(map[uuid.UUID]struct{}, len(events))
	for _, ev := range events {
		present[ev.EventID] = struct{}{}
		graph.Nodes = append(graph.Nodes, models.GraphNode{
			EventID:      ev.EventID,
			Timestamp:    ev.Timestamp,
			SourceModule: ev.SourceModule,
			EventType:    ev.EventType,
			Severity:     ev.Severity,
		})
	}
	for _, ev := range events {
		if ev.ParentEventID == nil {
			continue
		}
		if _, ok := present[*ev.ParentEventID]; !ok {
			continue
		}
		graph.Edges = append(graph.Edges, models.GraphEdge{
			From:       *ev.ParentEventID,
			To:         ev.EventID,
			Type:       models.EdgeCausal,
			Confidence: 1.0,
		})
	}
	return graph, true
}

// AnalyzeModuleCorrelation summarises the directed pair (a, b).
func (c *CorrelationEngine) AnalyzeModuleCorrelation(a, b models.SourceModule) (*models.ModuleCorrelation, bool) {
	var out *models.ModuleCorrelation
	c.patterns.View(patternKey(a, b), func(acc *patternAccumulator) {
		mc := acc.snapshot().Correlation()
		out = &mc
	})
	return out, out != nil
}

// ModulePatterns snapshots every accumulator.
func (c *CorrelationEngine) ModulePatterns() []ModulePattern {
	var out []ModulePattern
	c.patterns.Range(func(_ string, acc *patternAccumulator) bool {
		out = append(out, acc.snapshot())
		return true
	})
	return out
}

// Cleanup evicts events at or before now minus retentionHours and returns the
// number removed. Groups and patterns are left alone.
func (c *CorrelationEngine) Cleanup(retentionHours int) int {
	cutoff := c.now().Add(-time.Duration(retentionHours) * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, ev := range c.events {
		if ev.Timestamp.After(cutoff) {
			continue
		}
		delete(c.events, id)
		removed++
	}
	for b, refs := range c.buckets {
		kept := refs[:0]
		for _, ref := range refs {
			if ref.ts.After(cutoff) {
				kept = append(kept, ref)
			}
		}
		if len(kept) == 0 {
			delete(c.buckets, b)
			continue
		}
		c.buckets[b] = kept
	}
	if removed > 0 {
		c.logger.Debug("correlation events evicted", slog.Int("events", removed))
	}
	return removed
}

// EvictStaleCorrelations drops groups with no retained member.
func (c *CorrelationEngine) EvictStaleCorrelations() int {
	return c.correlations.Sweep(func(_ string, set memberSet) bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for id := range set {
			if _, ok := c.events[id]; ok {
				return true
			}
		}
		return false
	})
}

// DecayPatterns drops accumulators with no occurrence within maxIdle.
func (c *CorrelationEngine) DecayPatterns(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)
	return c.patterns.Sweep(func(_ string, acc *patternAccumulator) bool {
		return !acc.lastSeen.Before(cutoff)
	})
}

// Stats reports engine counters.
func (c *CorrelationEngine) Stats() CorrelationStats {
	c.mu.RLock()
	events := len(c.events)
	c.mu.RUnlock()
	return CorrelationStats{
		TotalCorrelations: c.correlations.Len(),
		TotalEvents:       events,
		TotalPatterns:     c.patterns.Len(),
	}
}
