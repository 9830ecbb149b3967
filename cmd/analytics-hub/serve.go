package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/llm-devops/llm-analytics-hub/internal/api"
	"github.com/llm-devops/llm-analytics-hub/internal/config"
	"github.com/llm-devops/llm-analytics-hub/internal/engine"
	"github.com/llm-devops/llm-analytics-hub/internal/ingest"
	"github.com/llm-devops/llm-analytics-hub/internal/metrics"
	"github.com/llm-devops/llm-analytics-hub/internal/patterns"
	"github.com/llm-devops/llm-analytics-hub/internal/repo"
	"github.com/llm-devops/llm-analytics-hub/internal/services"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

var seedEvents int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion pipeline and the gRPC query service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&seedEvents, "seed", 0, "Publish this many synthetic events at startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting llm-analytics-hub",
		slog.String("address", cfg.Server.Address),
		slog.String("transport", cfg.Transport.Kind),
		slog.String("store", cfg.Store.Driver),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, shutdownTracing, err := setupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		return err
	}

	transport, err := newTransport(cfg.Transport, logger)
	if err != nil {
		logger.Error("failed to connect transport", slog.Any("error", err))
		return err
	}
	codec, err := ingest.NewCodec(cfg.Transport.Compression)
	if err != nil {
		transport.Close()
		return err
	}

	store, err := repo.NewStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open rollup store", slog.Any("error", err))
		transport.Close()
		return err
	}

	rules, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		transport.Close()
		return err
	}

	publisher := ingest.NewPublisher(transport, codec, newExecutor("transport", cfg.Resilience, logger), logger)
	aggOpts := []engine.AggregatorOption{
		engine.WithRules(rules),
		engine.WithPublisher(publisher),
		engine.WithTracerProvider(tracerProvider),
	}
	if store != nil {
		aggOpts = append(aggOpts, engine.WithStore(store))
	}
	aggregator := engine.NewAggregator(engine.FromAnalytics(cfg.Analytics), logger, aggOpts...)
	ingester := ingest.NewIngester(transport, codec, ingesterConfig(cfg.Transport), logger)

	cacheProvider := newCache(ctx, cfg.Cache, logger)
	defer cacheProvider.Close()

	costops := repo.NewCostOpsClient(cfg.Adapters.CostOps, newExecutor("costops", cfg.Resilience, logger), logger)
	miner := patterns.NewMiner(logger, patterns.NewCacheStore(cacheProvider, cfg.Cache.StatsTTL))

	svcOpts := []services.Option{
		services.WithCache(cacheProvider, cfg.Cache.StatsTTL),
		services.WithMiner(miner),
		services.WithRules(rules),
	}
	if store != nil {
		svcOpts = append(svcOpts, services.WithStatsStore(store))
	}
	if cfg.Adapters.CostOps.Endpoint != "" {
		svcOpts = append(svcOpts, services.WithAdapters(costops))
	}
	svc := services.NewAnalyticsService(logger, aggregator, svcOpts...)

	server, err := api.NewServer(cfg.Server, api.NewHandlers(svc), logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		transport.Close()
		return err
	}

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(name+" exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	run("ingester", func() error { return ingester.Run(ctx) })
	run("aggregator", func() error { return aggregator.Run(ctx, ingester.Events()) })
	run("maintenance", func() error {
		aggregator.RunMaintenance(ctx, cfg.Analytics.MaintenanceInterval)
		return nil
	})
	if store != nil {
		run("rollup flusher", func() error {
			flushLoop(ctx, store, cfg.Store.FlushInterval, logger)
			return nil
		})
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	if seedEvents > 0 {
		events := syntheticEvents(syntheticOptions{Count: seedEvents, SpikeEvery: 97, Start: time.Now().UTC().Add(-time.Duration(seedEvents) * time.Second)})
		if err := publisher.PublishBatch(ctx, events); err != nil {
			logger.Warn("seeding synthetic events failed", slog.Any("error", err))
		} else {
			logger.Info("synthetic events published", slog.Int("count", len(events)))
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	wg.Wait()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("rollup store close", slog.Any("error", err))
		}
	}
	if err := transport.Close(); err != nil {
		logger.Warn("transport close", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", slog.Any("error", err))
	}

	stats := aggregator.Stats()
	logger.Info("llm-analytics-hub stopped",
		slog.Uint64("events_processed", stats.EventsProcessed),
		slog.Uint64("alerts_emitted", stats.AlertsEmitted),
		slog.Uint64("alerts_dropped", stats.AlertsDropped),
	)
	return nil
}

// flushLoop persists buffered rollups every interval until ctx is done.
func flushLoop(ctx context.Context, store repo.RollupStore, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Flush(ctx); err != nil {
				metrics.ObserveStoreError("flush")
				logger.Warn("rollup flush failed", slog.Any("error", fmt.Errorf("periodic flush: %w", err)))
			}
		}
	}
}
