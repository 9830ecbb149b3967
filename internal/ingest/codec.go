package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

// ErrDeserialization marks a message that could not be decoded into an event.
var ErrDeserialization = errors.New("deserialization failure")

// Compression names a wire framing.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
)

// Codec converts events to and from their wire form.
type Codec struct {
	compression Compression
}

// NewCodec returns a codec for the named compression; "" means none.
func NewCodec(compression string) (*Codec, error) {
	switch Compression(compression) {
	case "", CompressionNone:
		return &Codec{compression: CompressionNone}, nil
	case CompressionSnappy:
		return &Codec{compression: CompressionSnappy}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

// Encode serialises event as JSON, snappy-compressed when configured.
func (c *Codec) Encode(event models.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.EventID, err)
	}
	if c.compression == CompressionSnappy {
		return snappy.Encode(nil, data), nil
	}
	return data, nil
}

// Decode accepts plain JSON or a snappy block regardless of the configured
// compression, so producers can switch framing independently.
func (c *Codec) Decode(data []byte) (models.Event, error) {
	var event models.Event
	if len(data) == 0 {
		return event, fmt.Errorf("%w: empty message", ErrDeserialization)
	}
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) == 0 || trimmed[0] != '{' {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return event, fmt.Errorf("%w: %v", ErrDeserialization, err)
		}
		data = decoded
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return event, nil
}
