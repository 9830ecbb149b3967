package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// syntheticOptions shape a generated event sequence.
type syntheticOptions struct {
	Count      int
	SpikeEvery int
	GroupSize  int
	Start      time.Time
	Interval   time.Duration
	Seed       uint64
}

// syntheticEvents produces a deterministic mix of observatory latency and
// token telemetry, cost events and sentinel threats. Every GroupSize events
// share a correlation id and each links to the first event of its group.
// Every SpikeEvery-th latency sample is ten times the baseline.
func syntheticEvents(opts syntheticOptions) []models.Event {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = 10
	}
	rng := rand.New(rand.NewPCG(opts.Seed, 0x68756221))

	out := make([]models.Event, 0, opts.Count)
	var (
		correlation uuid.UUID
		root        uuid.UUID
	)
	for i := 0; i < opts.Count; i++ {
		ts := opts.Start.Add(time.Duration(i) * opts.Interval)
		event := syntheticEvent(i, rng, opts.SpikeEvery).WithTimestamp(ts)

		if i%opts.GroupSize == 0 {
			correlation = uuid.New()
			root = event.EventID
		} else {
			event = event.WithParent(root)
		}
		out = append(out, event.WithCorrelation(correlation).WithTag("source", "synthetic"))
	}
	return out
}

func syntheticEvent(i int, rng *rand.Rand, spikeEvery int) models.Event {
	model := []string{"gpt-4o", "claude-3-5-sonnet", "llama-3-70b"}[i%3]
	switch {
	case i%25 == 24:
		return models.NewEvent(models.ModuleSentinel, models.EventTypeSecurity, models.SeverityWarning,
			models.SecurityData(models.SecurityPayload{
				Kind: models.SecurityThreat,
				Threat: &models.ThreatEvent{
					ThreatID:         fmt.Sprintf("threat-%d", i),
					ThreatType:       "prompt_injection",
					ThreatLevel:      "medium",
					TargetResource:   model,
					AttackVector:     "user_prompt",
					MitigationStatus: "blocked",
				},
			}))
	case i%10 == 9:
		prompt := uint32(400 + rng.IntN(200))
		completion := uint32(150 + rng.IntN(100))
		cost := float64(prompt)*0.000005 + float64(completion)*0.000015
		return models.NewEvent(models.ModuleCostOps, models.EventTypeCost, models.SeverityInfo,
			models.CostData(models.CostPayload{
				Kind: models.CostToken,
				TokenCost: &models.TokenCostEvent{
					ModelID:                model,
					RequestID:              fmt.Sprintf("req-%d", i),
					PromptTokens:           prompt,
					CompletionTokens:       completion,
					TotalTokens:            prompt + completion,
					CostPerPromptToken:     0.000005,
					CostPerCompletionToken: 0.000015,
					TotalCostUSD:           cost,
					Currency:               "USD",
				},
			}))
	default:
		latency := 120 + rng.Float64()*20
		if spikeEvery > 0 && i > 0 && i%spikeEvery == 0 {
			latency *= 10
		}
		ttft := latency * 0.3
		return models.NewEvent(models.ModuleObservatory, models.EventTypeTelemetry, models.SeverityInfo,
			models.LatencyTelemetry(models.LatencyMetrics{
				ModelID:        model,
				RequestID:      fmt.Sprintf("req-%d", i),
				TotalLatencyMS: latency,
				TTFTMS:         &ttft,
			}))
	}
}
