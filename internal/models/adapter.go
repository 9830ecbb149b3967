package models

import "time"

// AdapterHealth is the uniform health snapshot every collaborator adapter returns.
type AdapterHealth struct {
	AdapterName         string     `json:"adapter_name"`
	IsHealthy           bool       `json:"is_healthy"`
	LatencyMS           *int64     `json:"latency_ms,omitempty"`
	LastSuccessfulFetch *time.Time `json:"last_successful_fetch,omitempty"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
}

// CostSummary is the CostOps spend summary for a period.
type CostSummary struct {
	SummaryID    string         `json:"summary_id"`
	PeriodStart  time.Time      `json:"period_start"`
	PeriodEnd    time.Time      `json:"period_end"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	Breakdown    CostBreakdown  `json:"breakdown"`
	TopConsumers []CostConsumer `json:"top_consumers"`
	Currency     string         `json:"currency"`
}

// CostBreakdown splits spend along several dimensions.
type CostBreakdown struct {
	ByProvider  map[string]float64 `json:"by_provider"`
	ByModel     map[string]float64 `json:"by_model"`
	ByOperation map[string]float64 `json:"by_operation"`
	ByTeam      map[string]float64 `json:"by_team"`
}

// CostConsumer is one of the largest spenders in a summary.
type CostConsumer struct {
	ConsumerID   string  `json:"consumer_id"`
	ConsumerType string  `json:"consumer_type"`
	Name         string  `json:"name"`
	CostUSD      float64 `json:"cost_usd"`
	Percentage   float64 `json:"percentage"`
}

// BudgetStatus is the CostOps budget position for a team or the organisation.
type BudgetStatus struct {
	BudgetID              string   `json:"budget_id"`
	TeamID                *string  `json:"team_id,omitempty"`
	PeriodBudgetUSD       float64  `json:"period_budget_usd"`
	SpentUSD              float64  `json:"spent_usd"`
	RemainingUSD          float64  `json:"remaining_usd"`
	UtilizationPercentage float64  `json:"utilization_percentage"`
	ProjectedOverage      *float64 `json:"projected_overage,omitempty"`
}
