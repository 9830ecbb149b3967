package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/llm-devops/llm-analytics-hub/internal/cache"
	"github.com/llm-devops/llm-analytics-hub/internal/config"
	"github.com/llm-devops/llm-analytics-hub/internal/ingest"
	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/resilience"
)

const serviceName = "llm-analytics-hub"

func newTransport(cfg config.TransportConfig, logger *slog.Logger) (ingest.Transport, error) {
	if cfg.Kind != "nats" {
		return ingest.NewMemoryTransport(cfg.ChannelCapacity), nil
	}
	transport, err := ingest.NewNATSTransport(ingest.NATSConfig{
		URL:           cfg.URL,
		Stream:        cfg.Stream,
		SubjectPrefix: cfg.SubjectPrefix,
		Consumer:      cfg.Consumer,
		Partitions:    cfg.Partitions,
		MaxReconnects: cfg.MaxReconnects,
		ReconnectWait: cfg.ReconnectWait,
		Name:          serviceName,
	}, logger)
	if err != nil {
		return nil, err
	}
	return transport, nil
}

func ingesterConfig(cfg config.TransportConfig) ingest.IngesterConfig {
	out := ingest.DefaultIngesterConfig()
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	if cfg.FetchWait > 0 {
		out.FetchWait = cfg.FetchWait
	}
	if cfg.ChannelCapacity > 0 {
		out.ChannelCapacity = cfg.ChannelCapacity
	}
	if cfg.ErrorBackoff > 0 {
		out.ErrorBackoff = cfg.ErrorBackoff
	}
	return out
}

// newExecutor builds a breaker named name from cfg and publishes its state.
func newExecutor(name string, cfg config.ResilienceConfig, logger *slog.Logger) *resilience.Executor {
	breakerCfg := resilience.DefaultBreakerConfig(name)
	if cfg.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Timeout > 0 {
		breakerCfg.Timeout = cfg.Timeout
	}
	breaker := resilience.NewCircuitBreaker(breakerCfg, logger,
		resilience.WithStateObserver(func(name string, state resilience.State) {
			metrics.SetCircuitState(name, float64(state))
		}))
	metrics.SetCircuitState(name, float64(breaker.State()))

	policy := resilience.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}
	if cfg.InitialDelay > 0 {
		policy.InitialDelay = cfg.InitialDelay
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}
	return resilience.NewExecutor(breaker, policy, logger)
}

// newCache returns Redis when an address is configured and reachable, an
// in-process cache when enabled without one, and a no-op cache otherwise.
func newCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewRedisProvider(ctx, cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("redis cache unavailable, caching in process", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}

// setupTracing installs a global TracerProvider when tracing is enabled. The
// returned shutdown flushes buffered spans.
func setupTracing(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) (trace.TracerProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return otel.GetTracerProvider(), func(context.Context) error { return nil }, nil
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	}
	if cfg.Endpoint != "" {
		var clientOpts []otlptracegrpc.Option
		if strings.Contains(cfg.Endpoint, "://") {
			clientOpts = append(clientOpts, otlptracegrpc.WithEndpointURL(cfg.Endpoint))
		} else {
			clientOpts = append(clientOpts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled",
		slog.Float64("sample_ratio", cfg.SampleRatio),
		slog.String("endpoint", cfg.Endpoint),
	)
	return tp, tp.Shutdown, nil
}
