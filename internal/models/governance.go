package models

import (
	"encoding/json"
	"fmt"
)

// GovernanceKind is the nested governance_type tag.
type GovernanceKind string

const (
	GovernancePolicyViolation GovernanceKind = "policy_violation"
	GovernanceAuditTrail      GovernanceKind = "audit_trail"
	GovernanceComplianceCheck GovernanceKind = "compliance_check"
	GovernanceDataLineage     GovernanceKind = "data_lineage"
)

// GovernancePayload holds exactly one governance variant selected by Kind.
type GovernancePayload struct {
	Kind            GovernanceKind
	PolicyViolation *PolicyViolationEvent
	AuditTrail      *AuditTrailEvent
	ComplianceCheck *ComplianceCheckEvent
	DataLineage     *DataLineageEvent
}

// PolicyViolationEvent reports a breached governance policy.
type PolicyViolationEvent struct {
	PolicyID             string   `json:"policy_id"`
	PolicyName           string   `json:"policy_name"`
	ViolationDescription string   `json:"violation_description"`
	ViolatedRules        []string `json:"violated_rules"`
	ResourceID           string   `json:"resource_id"`
	UserID               *string  `json:"user_id"`
	Severity             string   `json:"severity"`
	AutoRemediated       bool     `json:"auto_remediated"`
}

// AuditTrailEvent records a change made by an actor.
type AuditTrailEvent struct {
	Action       string                     `json:"action"`
	Actor        string                     `json:"actor"`
	ResourceType string                     `json:"resource_type"`
	ResourceID   string                     `json:"resource_id"`
	Changes      map[string]json.RawMessage `json:"changes"`
	IPAddress    *string                    `json:"ip_address"`
	UserAgent    *string                    `json:"user_agent"`
}

// ComplianceCheckEvent reports the result of a framework check.
type ComplianceCheckEvent struct {
	CheckID         string              `json:"check_id"`
	Framework       string              `json:"framework"`
	ControlsChecked []string            `json:"controls_checked"`
	Passed          bool                `json:"passed"`
	Findings        []ComplianceFinding `json:"findings"`
	Score           float64             `json:"score"`
}

// ComplianceFinding is one control result inside a compliance check.
type ComplianceFinding struct {
	ControlID   string  `json:"control_id"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
	Evidence    *string `json:"evidence"`
}

// DataLineageEvent traces an operation on a data asset.
type DataLineageEvent struct {
	DataAssetID    string   `json:"data_asset_id"`
	Operation      string   `json:"operation"`
	Source         *string  `json:"source"`
	Destination    *string  `json:"destination"`
	Transformation *string  `json:"transformation"`
	LineagePath    []string `json:"lineage_path"`
}

// MarshalJSON writes the variant with an inline governance_type field.
func (g GovernancePayload) MarshalJSON() ([]byte, error) {
	var v any
	switch g.Kind {
	case GovernancePolicyViolation:
		v = g.PolicyViolation
	case GovernanceAuditTrail:
		v = g.AuditTrail
	case GovernanceComplianceCheck:
		v = g.ComplianceCheck
	case GovernanceDataLineage:
		v = g.DataLineage
	default:
		return nil, fmt.Errorf("%w: governance_type %q", ErrUnknownVariant, g.Kind)
	}
	return marshalTagged("governance_type", string(g.Kind), v)
}

// UnmarshalJSON reads the governance_type tag and decodes the matching variant.
func (g *GovernancePayload) UnmarshalJSON(data []byte) error {
	tag, err := readTag(data, "governance_type")
	if err != nil {
		return err
	}
	out := GovernancePayload{Kind: GovernanceKind(tag)}
	var target any
	switch out.Kind {
	case GovernancePolicyViolation:
		out.PolicyViolation = &PolicyViolationEvent{}
		target = out.PolicyViolation
	case GovernanceAuditTrail:
		out.AuditTrail = &AuditTrailEvent{}
		target = out.AuditTrail
	case GovernanceComplianceCheck:
		out.ComplianceCheck = &ComplianceCheckEvent{}
		target = out.ComplianceCheck
	case GovernanceDataLineage:
		out.DataLineage = &DataLineageEvent{}
		target = out.DataLineage
	default:
		return fmt.Errorf("%w: governance_type %q", ErrUnknownVariant, tag)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	*g = out
	return nil
}
