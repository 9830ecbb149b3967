package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadType discriminates the top-level payload family on the wire.
type PayloadType string

const (
	PayloadTelemetry  PayloadType = "telemetry"
	PayloadSecurity   PayloadType = "security"
	PayloadCost       PayloadType = "cost"
	PayloadGovernance PayloadType = "governance"
	PayloadCustom     PayloadType = "custom"
)

// ErrUnknownVariant is returned when a payload tag is not recognised.
var ErrUnknownVariant = errors.New("unknown payload variant")

// Payload is a tagged union; exactly one of the family pointers matches Type.
type Payload struct {
	Type       PayloadType
	Telemetry  *TelemetryPayload
	Security   *SecurityPayload
	Cost       *CostPayload
	Governance *GovernancePayload
	Custom     *CustomPayload
}

// CustomPayload carries arbitrary module-defined data.
type CustomPayload struct {
	CustomType string          `json:"custom_type"`
	Data       json.RawMessage `json:"data"`
}

// TelemetryData wraps a telemetry variant into a Payload.
func TelemetryData(t TelemetryPayload) Payload {
	return Payload{Type: PayloadTelemetry, Telemetry: &t}
}

// SecurityData wraps a security variant into a Payload.
func SecurityData(s SecurityPayload) Payload {
	return Payload{Type: PayloadSecurity, Security: &s}
}

// CostData wraps a cost variant into a Payload.
func CostData(c CostPayload) Payload {
	return Payload{Type: PayloadCost, Cost: &c}
}

// GovernanceData wraps a governance variant into a Payload.
func GovernanceData(g GovernancePayload) Payload {
	return Payload{Type: PayloadGovernance, Governance: &g}
}

// CustomData builds a custom payload from any JSON-encodable value.
func CustomData(customType string, data any) (Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Payload{}, fmt.Errorf("encode custom payload: %w", err)
	}
	return Payload{Type: PayloadCustom, Custom: &CustomPayload{CustomType: customType, Data: raw}}, nil
}

type payloadWire struct {
	Type PayloadType     `json:"payload_type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON renders {"payload_type": ..., "data": ...}.
func (p Payload) MarshalJSON() ([]byte, error) {
	var (
		data any
		ok   bool
	)
	switch p.Type {
	case PayloadTelemetry:
		data, ok = p.Telemetry, p.Telemetry != nil
	case PayloadSecurity:
		data, ok = p.Security, p.Security != nil
	case PayloadCost:
		data, ok = p.Cost, p.Cost != nil
	case PayloadGovernance:
		data, ok = p.Governance, p.Governance != nil
	case PayloadCustom:
		data, ok = p.Custom, p.Custom != nil
	default:
		return nil, fmt.Errorf("%w: payload_type %q", ErrUnknownVariant, p.Type)
	}
	if !ok {
		return nil, fmt.Errorf("payload %s has no data", p.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadWire{Type: p.Type, Data: raw})
}

// UnmarshalJSON decodes the payload_type/data pair.
func (p *Payload) UnmarshalJSON(b []byte) error {
	var w payloadWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if len(w.Data) == 0 {
		return fmt.Errorf("payload %s: missing data", w.Type)
	}
	out := Payload{Type: w.Type}
	var target any
	switch w.Type {
	case PayloadTelemetry:
		out.Telemetry = &TelemetryPayload{}
		target = out.Telemetry
	case PayloadSecurity:
		out.Security = &SecurityPayload{}
		target = out.Security
	case PayloadCost:
		out.Cost = &CostPayload{}
		target = out.Cost
	case PayloadGovernance:
		out.Governance = &GovernancePayload{}
		target = out.Governance
	case PayloadCustom:
		out.Custom = &CustomPayload{}
		target = out.Custom
	default:
		return fmt.Errorf("%w: payload_type %q", ErrUnknownVariant, w.Type)
	}
	if err := json.Unmarshal(w.Data, target); err != nil {
		return fmt.Errorf("payload %s: %w", w.Type, err)
	}
	*p = out
	return nil
}

// marshalTagged encodes v as a JSON object with an extra discriminator field.
func marshalTagged(tagKey, tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	encodedTag, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	fields[tagKey] = encodedTag
	return json.Marshal(fields)
}

// readTag extracts the discriminator value from an internally tagged object.
func readTag(data []byte, tagKey string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", err
	}
	raw, ok := fields[tagKey]
	if !ok {
		return "", fmt.Errorf("missing %s", tagKey)
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", fmt.Errorf("%s: %w", tagKey, err)
	}
	return tag, nil
}
