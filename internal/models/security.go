package models

import (
	"encoding/json"
	"fmt"
)

// SecurityKind is the nested security_type tag.
type SecurityKind string

const (
	SecurityThreat              SecurityKind = "threat"
	SecurityVulnerability       SecurityKind = "vulnerability"
	SecurityComplianceViolation SecurityKind = "compliance_violation"
	SecurityAuth                SecurityKind = "auth"
	SecurityPrivacy             SecurityKind = "privacy"
)

// SecurityPayload holds exactly one security variant selected by Kind.
type SecurityPayload struct {
	Kind                SecurityKind
	Threat              *ThreatEvent
	Vulnerability       *VulnerabilityEvent
	ComplianceViolation *ComplianceViolationEvent
	Auth                *AuthEvent
	Privacy             *PrivacyEvent
}

// ThreatEvent describes a detected attack against a model or resource.
type ThreatEvent struct {
	ThreatID               string   `json:"threat_id"`
	ThreatType             string   `json:"threat_type"`
	ThreatLevel            string   `json:"threat_level"`
	SourceIP               *string  `json:"source_ip"`
	TargetResource         string   `json:"target_resource"`
	AttackVector           string   `json:"attack_vector"`
	MitigationStatus       string   `json:"mitigation_status"`
	IndicatorsOfCompromise []string `json:"indicators_of_compromise"`
}

// VulnerabilityEvent describes a known weakness in a component.
type VulnerabilityEvent struct {
	VulnerabilityID   string  `json:"vulnerability_id"`
	CVEID             *string `json:"cve_id"`
	SeverityScore     float64 `json:"severity_score"`
	AffectedComponent string  `json:"affected_component"`
	Description       string  `json:"description"`
	RemediationStatus string  `json:"remediation_status"`
}

// ComplianceViolationEvent describes a breach of a regulatory requirement.
type ComplianceViolationEvent struct {
	ViolationID          string   `json:"violation_id"`
	Regulation           string   `json:"regulation"`
	Requirement          string   `json:"requirement"`
	ViolationDescription string   `json:"violation_description"`
	AffectedDataTypes    []string `json:"affected_data_types"`
	RemediationRequired  bool     `json:"remediation_required"`
}

// AuthEvent records an authentication or authorisation action.
type AuthEvent struct {
	UserID        string  `json:"user_id"`
	Action        string  `json:"action"`
	Resource      string  `json:"resource"`
	Success       bool    `json:"success"`
	FailureReason *string `json:"failure_reason"`
}

// PrivacyEvent records an operation on personal data.
type PrivacyEvent struct {
	DataType     string   `json:"data_type"`
	Operation    string   `json:"operation"`
	UserConsent  bool     `json:"user_consent"`
	DataSubjects []string `json:"data_subjects"`
	Purpose      string   `json:"purpose"`
}

// MarshalJSON writes the variant with an inline security_type field.
func (s SecurityPayload) MarshalJSON() ([]byte, error) {
	var v any
	switch s.Kind {
	case SecurityThreat:
		v = s.Threat
	case SecurityVulnerability:
		v = s.Vulnerability
	case SecurityComplianceViolation:
		v = s.ComplianceViolation
	case SecurityAuth:
		v = s.Auth
	case SecurityPrivacy:
		v = s.Privacy
	default:
		return nil, fmt.Errorf("%w: security_type %q", ErrUnknownVariant, s.Kind)
	}
	return marshalTagged("security_type", string(s.Kind), v)
}

// UnmarshalJSON reads the security_type tag and decodes the matching variant.
func (s *SecurityPayload) UnmarshalJSON(data []byte) error {
	tag, err := readTag(data, "security_type")
	if err != nil {
		return err
	}
	out := SecurityPayload{Kind: SecurityKind(tag)}
	var target any
	switch out.Kind {
	case SecurityThreat:
		out.Threat = &ThreatEvent{}
		target = out.Threat
	case SecurityVulnerability:
		out.Vulnerability = &VulnerabilityEvent{}
		target = out.Vulnerability
	case SecurityComplianceViolation:
		out.ComplianceViolation = &ComplianceViolationEvent{}
		target = out.ComplianceViolation
	case SecurityAuth:
		out.Auth = &AuthEvent{}
		target = out.Auth
	case SecurityPrivacy:
		out.Privacy = &PrivacyEvent{}
		target = out.Privacy
	default:
		return fmt.Errorf("%w: security_type %q", ErrUnknownVariant, tag)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	*s = out
	return nil
}
