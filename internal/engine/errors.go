package engine

import "errors"

var (
	// ErrUnknownMetric is returned when no history exists for a metric.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrInsufficientData is returned when a model needs more points than are held.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidArgument flags a malformed query parameter.
	ErrInvalidArgument = errors.New("invalid argument")
)
