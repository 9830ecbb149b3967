package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t.UTC(), nil
}

// BucketStart aligns ts down to the start of its width-sized bucket in UTC.
func BucketStart(ts time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return ts.UTC()
	}
	return ts.UTC().Truncate(width)
}

// AbsDeltaSeconds returns |b-a| in whole seconds.
func AbsDeltaSeconds(a, b time.Time) int64 {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return int64(d / time.Second)
}
