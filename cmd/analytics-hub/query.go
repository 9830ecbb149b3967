package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/llm-devops/llm-analytics-hub/internal/api"
	"github.com/llm-devops/llm-analytics-hub/internal/config"
)

var (
	queryAddress string
	queryParams  []string
	queryTimeout time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query METHOD",
	Short: "Call a query method on a running hub and print the JSON result",
	Long: `Call one method of the llmanalytics.v1.AnalyticsHub service.

Methods: GetMetricStats, RecentAnomalies, GetCorrelationGraph,
GetModuleCorrelation, Predict, TopModulePatterns, AdapterHealth, GetStats.

Parameters are passed as --param key=value; numeric and boolean values are
sent as numbers and booleans.`,
	Example: `  analytics-hub query Predict --param metric=latency --param steps=5
  analytics-hub query GetMetricStats --param metric=latency --param window=5m \
    --param start=2025-06-01T00:00:00Z --param end=2025-06-02T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryAddress, "address", "", "Server address (defaults to server.address from config)")
	queryCmd.Flags().StringArrayVar(&queryParams, "param", nil, "Request parameter as key=value (repeatable)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 10*time.Second, "Request timeout")
}

func runQuery(cmd *cobra.Command, args []string) error {
	address := queryAddress
	if address == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		address = dialAddress(cfg.Server.Address)
	}
	req, err := parseParams(queryParams)
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
	defer cancel()
	resp, err := api.Invoke(ctx, conn, args[0], req)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp.AsMap(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// parseParams builds a request from key=value pairs.
func parseParams(params []string) (*structpb.Struct, error) {
	fields := make(map[string]any, len(params))
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", p)
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			fields[key] = n
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			fields[key] = b
			continue
		}
		fields[key] = value
	}
	return structpb.NewStruct(fields)
}

// dialAddress turns a listen address such as ":50051" into a dialable one.
func dialAddress(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return listen
}
