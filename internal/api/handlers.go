package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/services"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

// Service is the query surface exposed over gRPC.
type Service interface {
	MetricStats(ctx context.Context, metric, window string, start, end time.Time) ([]models.MetricStats, error)
	RecentAnomalies(ctx context.Context, metric string, limit int) ([]models.Anomaly, error)
	CorrelationGraph(ctx context.Context, correlationID string) (*models.CorrelationGraph, error)
	ModuleCorrelation(ctx context.Context, moduleA, moduleB string) (*models.ModuleCorrelation, error)
	Predict(ctx context.Context, metric, method string, steps int, alpha float64) ([]models.Forecast, error)
	TopModulePatterns(ctx context.Context, limit int) ([]models.ModuleCorrelation, error)
	AdapterHealth(ctx context.Context) ([]models.AdapterHealth, error)
	Stats(ctx context.Context) (services.ServiceStats, error)
}

// Handlers adapts a Service to AnalyticsHubServer.
type Handlers struct {
	svc Service
}

// NewHandlers wraps svc.
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

var _ AnalyticsHubServer = (*Handlers)(nil)

// GetMetricStats expects metric, window, start and end (RFC3339).
func (h *Handlers) GetMetricStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start, err := TimeField(req, "start")
	if err != nil {
		return nil, invalid(err)
	}
	end, err := TimeField(req, "end")
	if err != nil {
		return nil, invalid(err)
	}
	out, err := h.svc.MetricStats(ctx, StringField(req, "metric"), StringField(req, "window"), start, end)
	if err != nil {
		return nil, err
	}
	return ToStruct(map[string]any{"stats": nonNil(out)})
}

// RecentAnomalies accepts an optional metric and limit.
func (h *Handlers) RecentAnomalies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := IntField(req, "limit")
	if err != nil {
		return nil, invalid(err)
	}
	out, err := h.svc.RecentAnomalies(ctx, StringField(req, "metric"), limit)
	if err != nil {
		return nil, err
	}
	return ToStruct(map[string]any{"anomalies": nonNil(out)})
}

// GetCorrelationGraph expects correlation_id.
func (h *Handlers) GetCorrelationGraph(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	graph, err := h.svc.CorrelationGraph(ctx, StringField(req, "correlation_id"))
	if err != nil {
		return nil, err
	}
	graph.Nodes = nonNil(graph.Nodes)
	graph.Edges = nonNil(graph.Edges)
	return ToStruct(graph)
}

// GetModuleCorrelation expects module_a and module_b.
func (h *Handlers) GetModuleCorrelation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	mc, err := h.svc.ModuleCorrelation(ctx, StringField(req, "module_a"), StringField(req, "module_b"))
	if err != nil {
		return nil, err
	}
	return ToStruct(mc)
}

// Predict expects metric and steps; method and alpha are optional.
func (h *Handlers) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	steps, err := IntField(req, "steps")
	if err != nil {
		return nil, invalid(err)
	}
	alpha, err := FloatField(req, "alpha")
	if err != nil {
		return nil, invalid(err)
	}
	method := StringField(req, "method")
	out, err := h.svc.Predict(ctx, StringField(req, "metric"), method, steps, alpha)
	if err != nil {
		return nil, err
	}
	return ToStruct(map[string]any{"forecasts": nonNil(out)})
}

// TopModulePatterns accepts an optional limit.
func (h *Handlers) TopModulePatterns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := IntField(req, "limit")
	if err != nil {
		return nil, invalid(err)
	}
	out, err := h.svc.TopModulePatterns(ctx, limit)
	if err != nil {
		return nil, err
	}
	return ToStruct(map[string]any{"patterns": nonNil(out)})
}

// AdapterHealth takes no arguments.
func (h *Handlers) AdapterHealth(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := h.svc.AdapterHealth(ctx)
	if err != nil {
		return nil, err
	}
	return ToStruct(map[string]any{"adapters": nonNil(out)})
}

// GetStats takes no arguments.
func (h *Handlers) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := h.svc.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return ToStruct(stats)
}

// ToStruct converts v through its JSON form. v must encode as an object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "response is not an object: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return out, nil
}

// FromStruct decodes s into out through its JSON form.
func FromStruct(s *structpb.Struct, out any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("encode struct: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}

// StringField returns the named string field, or "" when absent.
func StringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// IntField returns the named integral number field, or 0 when absent.
func IntField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int(n.NumberValue), nil
}

// FloatField returns the named number field, or 0 when absent.
func FloatField(req *structpb.Struct, name string) (float64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return n.NumberValue, nil
}

// TimeField parses the named RFC3339 field.
func TimeField(req *structpb.Struct, name string) (time.Time, error) {
	ts, err := utils.ParseRFC3339(StringField(req, name))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return ts, nil
}

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
