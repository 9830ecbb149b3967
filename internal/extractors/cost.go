package extractors

import (
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// CostExtractor derives spend samples from CostOps events.
type CostExtractor struct{}

// NewCostExtractor creates a cost extractor.
func NewCostExtractor() *CostExtractor {
	return &CostExtractor{}
}

// Extract implements Extractor.
func (e *CostExtractor) Extract(event models.Event) []Sample {
	c := event.Payload.Cost
	if c == nil {
		return nil
	}
	sample := func(metric string, value float64) []Sample {
		return []Sample{{Metric: metric, Value: value, Timestamp: event.Timestamp}}
	}

	switch c.Kind {
	case models.CostToken:
		if c.TokenCost != nil {
			return sample("cost.tokens.usd", c.TokenCost.TotalCostUSD)
		}
	case models.CostAPI:
		if c.APICost != nil {
			return sample("cost.api.usd", c.APICost.TotalCostUSD)
		}
	case models.CostResourceConsumption:
		if c.ResourceConsumption != nil {
			return sample("cost.resource.usd", c.ResourceConsumption.CostUSD)
		}
	case models.CostBudgetAlert:
		// Utilisation is undefined without a limit.
		if b := c.BudgetAlert; b != nil && b.BudgetLimitUSD > 0 {
			return sample("cost.budget.utilization", b.CurrentSpendUSD/b.BudgetLimitUSD*100)
		}
	}
	return nil
}
