package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-devops/llm-analytics-hub/internal/config"
	"github.com/llm-devops/llm-analytics-hub/internal/resilience"
)

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

type handlerTransport func(*http.Request) (*http.Response, error)

func (h handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) { return h(req) }

// stubCostOps answers every request the client makes with handle.
func stubCostOps(client *CostOpsClient, handle func(*http.Request) (*http.Response, error)) {
	client.httpClient = &http.Client{Transport: handlerTransport(handle)}
}

func singleShotExecutor(threshold int) *resilience.Executor {
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "costops", FailureThreshold: threshold, Timeout: time.Hour}, nil)
	return resilience.NewExecutor(breaker, resilience.RetryPolicy{MaxAttempts: 1}, nil)
}

func TestFetchCostSummary(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	client := NewCostOpsClient(config.CostOpsConfig{Endpoint: "https://costops.example.com/", APIKey: "secret"}, singleShotExecutor(5), nil)
	stubCostOps(client, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/api/v1/costs/summary", req.URL.Path)
		assert.Equal(t, "2025-06-01T00:00:00Z", req.URL.Query().Get("start"))
		assert.Equal(t, "2025-06-02T00:00:00Z", req.URL.Query().Get("end"))
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		return jsonResponse(t, http.StatusOK, map[string]any{
			"summary_id":     "sum-1",
			"period_start":   start,
			"period_end":     end,
			"total_cost_usd": 123.45,
			"breakdown": map[string]any{
				"by_provider": map[string]float64{"openai": 100, "anthropic": 23.45},
			},
			"top_consumers": []map[string]any{{"consumer_id": "team-a", "cost_usd": 80.0}},
		}), nil
	})

	summary, err := client.FetchCostSummary(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, "sum-1", summary.SummaryID)
	assert.InDelta(t, 123.45, summary.TotalCostUSD, 1e-9)
	assert.Equal(t, "USD", summary.Currency, "currency defaults to USD")
	assert.Equal(t, 100.0, summary.Breakdown.ByProvider["openai"])
	require.Len(t, summary.TopConsumers, 1)
	assert.Equal(t, "team-a", summary.TopConsumers[0].ConsumerID)
}

func TestFetchBudgetStatusOmitsAuthWithoutKey(t *testing.T) {
	client := NewCostOpsClient(config.CostOpsConfig{Endpoint: "https://costops.example.com"}, singleShotExecutor(5), nil)
	stubCostOps(client, func(req *http.Request) (*http.Response, error) {
		assert.Empty(t, req.Header.Get("Authorization"))
		assert.Equal(t, "team-a", req.URL.Query().Get("team_id"))
		return jsonResponse(t, http.StatusOK, map[string]any{"budget_id": "b-1", "spent_usd": 40.0, "period_budget_usd": 100.0}), nil
	})

	status, err := client.FetchBudgetStatus(context.Background(), "team-a")
	require.NoError(t, err)
	assert.Equal(t, "b-1", status.BudgetID)
	assert.Equal(t, 40.0, status.SpentUSD)
}

func TestCostOpsHealthCheck(t *testing.T) {
	healthy := true
	client := NewCostOpsClient(config.CostOpsConfig{Endpoint: "https://costops.example.com"}, singleShotExecutor(5), nil)
	stubCostOps(client, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/health", req.URL.Path)
		if !healthy {
			return jsonResponse(t, http.StatusServiceUnavailable, nil), nil
		}
		return jsonResponse(t, http.StatusOK, nil), nil
	})
	ctx := context.Background()

	health := client.HealthCheck(ctx)
	assert.Equal(t, "costops", health.AdapterName)
	assert.True(t, health.IsHealthy)
	require.NotNil(t, health.LatencyMS)
	require.NotNil(t, health.LastSuccessfulFetch)
	assert.Nil(t, health.ErrorMessage)

	healthy = false
	health = client.HealthCheck(ctx)
	assert.False(t, health.IsHealthy)
	assert.Nil(t, health.LatencyMS)
	require.NotNil(t, health.ErrorMessage)
	assert.Contains(t, *health.ErrorMessage, "Service Unavailable")
	require.NotNil(t, health.LastSuccessfulFetch, "last success survives a failed probe")
}

func TestCostOpsCircuitOpens(t *testing.T) {
	calls := 0
	client := NewCostOpsClient(config.CostOpsConfig{Endpoint: "https://costops.example.com"}, singleShotExecutor(2), nil)
	stubCostOps(client, func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		_, err := client.FetchCostSummary(ctx, now.Add(-time.Hour), now)
		require.ErrorIs(t, err, resilience.ErrTransportFailure)
	}
	_, err := client.FetchCostSummary(ctx, now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestCostOpsNotConfigured(t *testing.T) {
	client := NewCostOpsClient(config.CostOpsConfig{}, nil, nil)
	_, err := client.FetchCostSummary(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, ErrAdapterNotConfigured)

	health := client.HealthCheck(context.Background())
	assert.False(t, health.IsHealthy)
	require.NotNil(t, health.ErrorMessage)
}
