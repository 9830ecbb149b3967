package extractors

import (
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// SecurityExtractor counts sentinel threats and failed authentications and
// reports vulnerability scores.
type SecurityExtractor struct{}

// NewSecurityExtractor creates a security extractor.
func NewSecurityExtractor() *SecurityExtractor {
	return &SecurityExtractor{}
}

// Extract implements Extractor.
func (e *SecurityExtractor) Extract(event models.Event) []Sample {
	s := event.Payload.Security
	if s == nil {
		return nil
	}
	ts := event.Timestamp

	switch s.Kind {
	case models.SecurityThreat:
		if s.Threat != nil {
			return []Sample{{Metric: "security.threats", Value: 1, Timestamp: ts}}
		}
	case models.SecurityAuth:
		if s.Auth != nil && !s.Auth.Success {
			return []Sample{{Metric: "security.auth.failures", Value: 1, Timestamp: ts}}
		}
	case models.SecurityVulnerability:
		if s.Vulnerability != nil {
			return []Sample{{Metric: "security.cvss", Value: s.Vulnerability.SeverityScore, Timestamp: ts}}
		}
	}
	return nil
}
