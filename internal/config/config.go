package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the analytics hub.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Adapters   AdaptersConfig   `yaml:"adapters"`
	Rules      RulesConfig      `yaml:"rules"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// TransportConfig selects and tunes the event stream.
type TransportConfig struct {
	Kind            string        `yaml:"kind"`
	URL             string        `yaml:"url"`
	Stream          string        `yaml:"stream"`
	SubjectPrefix   string        `yaml:"subjectPrefix"`
	Consumer        string        `yaml:"consumer"`
	Partitions      int           `yaml:"partitions"`
	BatchSize       int           `yaml:"batchSize"`
	FetchWait       time.Duration `yaml:"fetchWait"`
	ChannelCapacity int           `yaml:"channelCapacity"`
	Compression     string        `yaml:"compression"`
	MaxReconnects   int           `yaml:"maxReconnects"`
	ReconnectWait   time.Duration `yaml:"reconnectWait"`
	ErrorBackoff    time.Duration `yaml:"errorBackoff"`
}

// StoreConfig selects the rollup store backend.
type StoreConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// CacheConfig controls Redis-backed caching of rollup queries.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	StatsTTL     time.Duration `yaml:"statsTTL"`
}

// AnalyticsConfig tunes the detector, predictor and correlator.
type AnalyticsConfig struct {
	Sensitivity               float64       `yaml:"sensitivity"`
	BaselineSize              int           `yaml:"baselineSize"`
	HistorySize               int           `yaml:"historySize"`
	PredictionTTL             time.Duration `yaml:"predictionTTL"`
	CorrelationWindow         time.Duration `yaml:"correlationWindow"`
	CorrelationRetentionHours int           `yaml:"correlationRetentionHours"`
	PredictionRetention       time.Duration `yaml:"predictionRetention"`
	AnomalyRetention          time.Duration `yaml:"anomalyRetention"`
	PatternMaxIdle            time.Duration `yaml:"patternMaxIdle"`
	MaintenanceInterval       time.Duration `yaml:"maintenanceInterval"`
	Workers                   int           `yaml:"workers"`
	AlertQueueSize            int           `yaml:"alertQueueSize"`
}

// ResilienceConfig configures the circuit breaker and retry policy.
type ResilienceConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	InitialDelay     time.Duration `yaml:"initialDelay"`
	Multiplier       float64       `yaml:"multiplier"`
	MaxDelay         time.Duration `yaml:"maxDelay"`
}

// AdaptersConfig groups collaborator endpoints.
type AdaptersConfig struct {
	CostOps CostOpsConfig `yaml:"costops"`
}

// CostOpsConfig configures the CostOps read-only adapter.
type CostOpsConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RulesConfig controls rule-pack loading for alert generation.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TracingConfig controls the OpenTelemetry tracer provider. Spans are
// exported over OTLP/gRPC to Endpoint; with no endpoint they are only sampled.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sampleRatio"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
}

// Load initialises Config from an optional .env file, a YAML file and
// environment overrides, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("LLM_ANALYTICS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engines cannot run with.
func (c *Config) Validate() error {
	if c.Analytics.Sensitivity < 0 || c.Analytics.Sensitivity > 1 {
		return fmt.Errorf("analytics.sensitivity must be within [0,1], got %v", c.Analytics.Sensitivity)
	}
	switch c.Transport.Kind {
	case "memory", "nats":
	default:
		return fmt.Errorf("transport.kind must be memory or nats, got %q", c.Transport.Kind)
	}
	switch c.Store.Driver {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be none, sqlite or postgres, got %q", c.Store.Driver)
	}
	switch c.Transport.Compression {
	case "", "none", "snappy":
	default:
		return fmt.Errorf("transport.compression must be none or snappy, got %q", c.Transport.Compression)
	}
	if c.Transport.Partitions <= 0 {
		return fmt.Errorf("transport.partitions must be positive")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Transport: TransportConfig{
			Kind:            "memory",
			URL:             "nats://127.0.0.1:4222",
			Stream:          "LLM_ANALYTICS_EVENTS",
			SubjectPrefix:   "llm-analytics-events",
			Consumer:        "llm-analytics-hub",
			Partitions:      16,
			BatchSize:       1000,
			FetchWait:       500 * time.Millisecond,
			ChannelCapacity: 10000,
			Compression:     "none",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			ErrorBackoff:    time.Second,
		},
		Store: StoreConfig{
			Driver:        "none",
			FlushInterval: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			StatsTTL:     30 * time.Second,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Analytics: AnalyticsConfig{
			Sensitivity:               0.5,
			BaselineSize:              100,
			HistorySize:               1000,
			PredictionTTL:             5 * time.Minute,
			CorrelationWindow:         5 * time.Minute,
			CorrelationRetentionHours: 24,
			PredictionRetention:       24 * time.Hour,
			AnomalyRetention:          7 * 24 * time.Hour,
			PatternMaxIdle:            24 * time.Hour,
			MaintenanceInterval:       time.Minute,
			Workers:                   1,
			AlertQueueSize:            1024,
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
			MaxRetries:       3,
			InitialDelay:     100 * time.Millisecond,
			Multiplier:       2.0,
			MaxDelay:         30 * time.Second,
		},
		Adapters: AdaptersConfig{
			CostOps: CostOpsConfig{Timeout: 30 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/alerts.yaml"},
		Tracing: TracingConfig{Enabled: false, SampleRatio: 0.1, Insecure: true},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Address, "LLM_ANALYTICS_SERVER_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "LLM_ANALYTICS_METRICS_ADDRESS")

	setString(&cfg.Transport.Kind, "LLM_ANALYTICS_TRANSPORT")
	setString(&cfg.Transport.URL, "LLM_ANALYTICS_NATS_URL")
	setString(&cfg.Transport.Stream, "LLM_ANALYTICS_NATS_STREAM")
	setString(&cfg.Transport.Consumer, "LLM_ANALYTICS_NATS_CONSUMER")
	setString(&cfg.Transport.Compression, "LLM_ANALYTICS_COMPRESSION")
	setInt(&cfg.Transport.Partitions, "LLM_ANALYTICS_PARTITIONS")
	setInt(&cfg.Transport.BatchSize, "LLM_ANALYTICS_BATCH_SIZE")
	setInt(&cfg.Transport.ChannelCapacity, "LLM_ANALYTICS_CHANNEL_CAPACITY")

	setString(&cfg.Store.Driver, "LLM_ANALYTICS_STORE_DRIVER")
	setString(&cfg.Store.DSN, "LLM_ANALYTICS_STORE_DSN")
	setDuration(&cfg.Store.FlushInterval, "LLM_ANALYTICS_STORE_FLUSH_INTERVAL")

	setBool(&cfg.Cache.Enabled, "LLM_ANALYTICS_CACHE_ENABLED")
	setString(&cfg.Cache.Addr, "LLM_ANALYTICS_CACHE_ADDR")
	setString(&cfg.Cache.Username, "LLM_ANALYTICS_CACHE_USERNAME")
	setString(&cfg.Cache.Password, "LLM_ANALYTICS_CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "LLM_ANALYTICS_CACHE_DB")
	setBool(&cfg.Cache.TLS, "LLM_ANALYTICS_CACHE_TLS")
	setDuration(&cfg.Cache.StatsTTL, "LLM_ANALYTICS_CACHE_STATS_TTL")

	if v := os.Getenv("LLM_ANALYTICS_SENSITIVITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analytics.Sensitivity = f
		}
	}
	setInt(&cfg.Analytics.Workers, "LLM_ANALYTICS_WORKERS")
	setInt(&cfg.Analytics.AlertQueueSize, "LLM_ANALYTICS_ALERT_QUEUE_SIZE")
	setDuration(&cfg.Analytics.PredictionTTL, "LLM_ANALYTICS_PREDICTION_TTL")
	setDuration(&cfg.Analytics.CorrelationWindow, "LLM_ANALYTICS_CORRELATION_WINDOW")

	setInt(&cfg.Resilience.FailureThreshold, "LLM_ANALYTICS_CB_FAILURE_THRESHOLD")
	setDuration(&cfg.Resilience.Timeout, "LLM_ANALYTICS_CB_TIMEOUT")
	setInt(&cfg.Resilience.MaxRetries, "LLM_ANALYTICS_RETRY_MAX")

	setString(&cfg.Adapters.CostOps.Endpoint, "COSTOPS_ENDPOINT")
	setString(&cfg.Adapters.CostOps.APIKey, "COSTOPS_API_KEY")
	if v := os.Getenv("COSTOPS_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Adapters.CostOps.Timeout = time.Duration(secs) * time.Second
		}
	}

	setString(&cfg.Rules.Path, "LLM_ANALYTICS_RULES_PATH")
	setString(&cfg.Logging.Level, "LLM_ANALYTICS_LOG_LEVEL")
	if v := os.Getenv("LLM_ANALYTICS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	setBool(&cfg.Tracing.Enabled, "LLM_ANALYTICS_TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
