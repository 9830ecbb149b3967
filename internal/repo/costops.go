package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/config"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/resilience"
)

const costOpsAdapterName = "costops"

const (
	costSummaryPath  = "/api/v1/costs/summary"
	budgetStatusPath = "/api/v1/budgets/status"
	healthPath       = "/health"
)

// ErrAdapterNotConfigured is returned when no endpoint is set.
var ErrAdapterNotConfigured = errors.New("adapter endpoint not configured")

// CostOpsClient is a read-only client for the LLM-CostOps service.
type CostOpsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.RWMutex
	lastSuccess time.Time
}

// NewCostOpsClient constructs a client for cfg. A nil executor gets a breaker
// named "costops" with default retry settings.
func NewCostOpsClient(cfg config.CostOpsConfig, executor *resilience.Executor, logger *slog.Logger) *CostOpsClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if executor == nil {
		breaker := resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig(costOpsAdapterName), logger)
		executor = resilience.NewExecutor(breaker, resilience.DefaultRetryPolicy(), logger)
	}
	return &CostOpsClient{
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		logger:     logger,
		now:        time.Now,
	}
}

// FetchCostSummary returns the spend summary for [start, end).
func (c *CostOpsClient) FetchCostSummary(ctx context.Context, start, end time.Time) (*models.CostSummary, error) {
	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))

	var summary models.CostSummary
	if err := c.getJSON(ctx, costSummaryPath, query, &summary); err != nil {
		return nil, fmt.Errorf("costops summary request failed: %w", err)
	}
	if summary.Currency == "" {
		summary.Currency = "USD"
	}
	return &summary, nil
}

// FetchBudgetStatus returns the budget state for teamID, or the organisation
// budget when teamID is empty.
func (c *CostOpsClient) FetchBudgetStatus(ctx context.Context, teamID string) (*models.BudgetStatus, error) {
	query := url.Values{}
	if teamID != "" {
		query.Set("team_id", teamID)
	}
	var status models.BudgetStatus
	if err := c.getJSON(ctx, budgetStatusPath, query, &status); err != nil {
		return nil, fmt.Errorf("costops budget request failed: %w", err)
	}
	return &status, nil
}

// HealthCheck times a GET against /health. It never returns an error; failures
// are reported in the snapshot.
func (c *CostOpsClient) HealthCheck(ctx context.Context) models.AdapterHealth {
	health := models.AdapterHealth{AdapterName: costOpsAdapterName}

	started := c.now()
	err := c.getJSON(ctx, healthPath, nil, nil)
	if err != nil {
		msg := err.Error()
		health.ErrorMessage = &msg
	} else {
		health.IsHealthy = true
		latency := c.now().Sub(started).Milliseconds()
		health.LatencyMS = &latency
	}

	c.mu.RLock()
	if !c.lastSuccess.IsZero() {
		last := c.lastSuccess
		health.LastSuccessfulFetch = &last
	}
	c.mu.RUnlock()
	return health
}

func (c *CostOpsClient) resolve(p string, query url.Values) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *CostOpsClient) getJSON(ctx context.Context, p string, query url.Values, out any) error {
	if c == nil || c.baseURL == "" {
		return ErrAdapterNotConfigured
	}
	endpoint := c.resolve(p, query)

	err := c.executor.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("costops returned %s", resp.Status)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		c.logger.Debug("costops request failed", slog.String("path", p), slog.Any("error", err))
		return err
	}

	c.mu.Lock()
	c.lastSuccess = c.now().UTC()
	c.mu.Unlock()
	return nil
}
