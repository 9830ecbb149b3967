package models

import (
	"encoding/json"
	"fmt"
)

// CostKind is the nested cost_type tag.
type CostKind string

const (
	CostToken               CostKind = "token_cost"
	CostAPI                 CostKind = "api_cost"
	CostResourceConsumption CostKind = "resource_consumption"
	CostBudgetAlert         CostKind = "budget_alert"
)

// CostPayload holds exactly one cost variant selected by Kind.
type CostPayload struct {
	Kind                CostKind
	TokenCost           *TokenCostEvent
	APICost             *APICostEvent
	ResourceConsumption *ResourceConsumptionEvent
	BudgetAlert         *BudgetAlertEvent
}

// TokenCostEvent prices the tokens consumed by a request.
type TokenCostEvent struct {
	ModelID                string  `json:"model_id"`
	RequestID              string  `json:"request_id"`
	PromptTokens           uint32  `json:"prompt_tokens"`
	CompletionTokens       uint32  `json:"completion_tokens"`
	TotalTokens            uint32  `json:"total_tokens"`
	CostPerPromptToken     float64 `json:"cost_per_prompt_token"`
	CostPerCompletionToken float64 `json:"cost_per_completion_token"`
	TotalCostUSD           float64 `json:"total_cost_usd"`
	Currency               string  `json:"currency"`
}

// APICostEvent prices calls made to a provider endpoint.
type APICostEvent struct {
	Provider       string  `json:"provider"`
	APIEndpoint    string  `json:"api_endpoint"`
	RequestCount   uint64  `json:"request_count"`
	CostPerRequest float64 `json:"cost_per_request"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	BillingPeriod  string  `json:"billing_period"`
}

// ResourceConsumptionEvent prices infrastructure usage.
type ResourceConsumptionEvent struct {
	ResourceType       string  `json:"resource_type"`
	ResourceID         string  `json:"resource_id"`
	Quantity           float64 `json:"quantity"`
	Unit               string  `json:"unit"`
	CostUSD            float64 `json:"cost_usd"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// BudgetAlertEvent signals that spend crossed a budget threshold.
type BudgetAlertEvent struct {
	BudgetID         string  `json:"budget_id"`
	BudgetName       string  `json:"budget_name"`
	BudgetLimitUSD   float64 `json:"budget_limit_usd"`
	CurrentSpendUSD  float64 `json:"current_spend_usd"`
	ThresholdPercent float64 `json:"threshold_percent"`
	AlertType        string  `json:"alert_type"`
}

// MarshalJSON writes the variant with an inline cost_type field.
func (c CostPayload) MarshalJSON() ([]byte, error) {
	var v any
	switch c.Kind {
	case CostToken:
		v = c.TokenCost
	case CostAPI:
		v = c.APICost
	case CostResourceConsumption:
		v = c.ResourceConsumption
	case CostBudgetAlert:
		v = c.BudgetAlert
	default:
		return nil, fmt.Errorf("%w: cost_type %q", ErrUnknownVariant, c.Kind)
	}
	return marshalTagged("cost_type", string(c.Kind), v)
}

// UnmarshalJSON reads the cost_type tag and decodes the matching variant.
func (c *CostPayload) UnmarshalJSON(data []byte) error {
	tag, err := readTag(data, "cost_type")
	if err != nil {
		return err
	}
	out := CostPayload{Kind: CostKind(tag)}
	var target any
	switch out.Kind {
	case CostToken:
		out.TokenCost = &TokenCostEvent{}
		target = out.TokenCost
	case CostAPI:
		out.APICost = &APICostEvent{}
		target = out.APICost
	case CostResourceConsumption:
		out.ResourceConsumption = &ResourceConsumptionEvent{}
		target = out.ResourceConsumption
	case CostBudgetAlert:
		out.BudgetAlert = &BudgetAlertEvent{}
		target = out.BudgetAlert
	default:
		return fmt.Errorf("%w: cost_type %q", ErrUnknownVariant, tag)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	*c = out
	return nil
}
