package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// RuleEngine turns anomalies into alert recommendations using a YAML rule pack.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single alert rule.
type Rule struct {
	ID             string    `yaml:"id"`
	Match          RuleMatch `yaml:"match"`
	Recommendation string    `yaml:"recommendation"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match
// everything.
type RuleMatch struct {
	MetricPrefix string `yaml:"metric_prefix"`
	AnomalyType  string `yaml:"anomaly_type"`
	MinSeverity  string `yaml:"min_severity"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from path. An empty path or a missing file yields
// an engine with no rules.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &RuleEngine{logger: logger}
	if path == "" {
		return engine, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("alert rule pack not found, continuing without rules", slog.String("path", path))
			return engine, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	for _, rule := range cfg.Rules {
		if rule.Match.MinSeverity != "" && models.AnomalySeverity(strings.ToLower(rule.Match.MinSeverity)).Rank() < 0 {
			return nil, fmt.Errorf("rule %s: unknown min_severity %q", rule.ID, rule.Match.MinSeverity)
		}
	}
	engine.rules = cfg.Rules
	logger.Debug("alert rules loaded", slog.Int("rules", len(cfg.Rules)))
	return engine, nil
}

// Rules returns the loaded rules in file order.
func (e *RuleEngine) Rules() []Rule {
	if e == nil {
		return nil
	}
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns every rule matching the anomaly, in file order and
// deduplicated by id.
func (e *RuleEngine) Evaluate(anomaly models.Anomaly) []Rule {
	if e == nil {
		return nil
	}

	var matched []Rule
	seen := make(map[string]struct{})
	for _, rule := range e.rules {
		if !ruleMatches(rule.Match, anomaly) {
			continue
		}
		if _, ok := seen[rule.ID]; ok {
			continue
		}
		seen[rule.ID] = struct{}{}
		matched = append(matched, rule)
	}
	return matched
}

func ruleMatches(match RuleMatch, anomaly models.Anomaly) bool {
	if match.MetricPrefix != "" && !strings.HasPrefix(strings.ToLower(anomaly.MetricName), strings.ToLower(match.MetricPrefix)) {
		return false
	}
	if match.AnomalyType != "" && !strings.EqualFold(match.AnomalyType, string(anomaly.Type)) {
		return false
	}
	if match.MinSeverity != "" {
		floor := models.AnomalySeverity(strings.ToLower(match.MinSeverity))
		if anomaly.Severity.Rank() < floor.Rank() {
			return false
		}
	}
	return true
}
