package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/llm-devops/llm-analytics-hub/internal/config"
	"github.com/llm-devops/llm-analytics-hub/internal/ingest"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

var (
	publishCount      int
	publishSpikeEvery int
	publishGroupSize  int
	publishInterval   time.Duration
	publishSeed       uint64
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish synthetic ecosystem events to the NATS stream",
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().IntVar(&publishCount, "count", 1000, "Number of events to publish")
	publishCmd.Flags().IntVar(&publishSpikeEvery, "spike-every", 200, "Make every Nth latency sample a spike (0 disables)")
	publishCmd.Flags().IntVar(&publishGroupSize, "group-size", 10, "Events sharing one correlation id")
	publishCmd.Flags().DurationVar(&publishInterval, "interval", time.Second, "Event timestamp spacing")
	publishCmd.Flags().Uint64Var(&publishSeed, "seed", 1, "Random seed for generated values")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Transport.Kind != "nats" {
		return fmt.Errorf("publish needs transport.kind nats, got %q", cfg.Transport.Kind)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

	transport, err := newTransport(cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer transport.Close()
	codec, err := ingest.NewCodec(cfg.Transport.Compression)
	if err != nil {
		return err
	}
	publisher := ingest.NewPublisher(transport, codec, newExecutor("publish", cfg.Resilience, logger), logger)

	events := syntheticEvents(syntheticOptions{
		Count:      publishCount,
		SpikeEvery: publishSpikeEvery,
		GroupSize:  publishGroupSize,
		Start:      time.Now().UTC().Add(-time.Duration(publishCount) * publishInterval),
		Interval:   publishInterval,
		Seed:       publishSeed,
	})
	started := time.Now()
	if err := publisher.PublishBatch(cmd.Context(), events); err != nil {
		return err
	}
	logger.Info("events published",
		slog.Int("count", len(events)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}
