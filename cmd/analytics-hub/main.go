package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "analytics-hub",
	Short: "Real-time analytics for the LLM ecosystem",
	Long: `analytics-hub consumes events from every LLM ecosystem module, detects
anomalies, forecasts metrics, correlates related events and serves the
results over gRPC.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.AddCommand(serveCmd, publishCmd, queryCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("analytics-hub version %s\n", version))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
