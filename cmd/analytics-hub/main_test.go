package main

import (
	"context"
	"testing"
	"time"

	"github.com/llm-devops/llm-analytics-hub/internal/cache"
	"github.com/llm-devops/llm-analytics-hub/internal/config"
	"github.com/llm-devops/llm-analytics-hub/internal/models"
)

func TestParseParams(t *testing.T) {
	req, err := parseParams([]string{"metric=latency", "steps=5", "alpha=0.5", "tls=true", "start=2025-06-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := req.GetFields()
	if fields["metric"].GetStringValue() != "latency" {
		t.Fatalf("unexpected metric %v", fields["metric"])
	}
	if fields["steps"].GetNumberValue() != 5 || fields["alpha"].GetNumberValue() != 0.5 {
		t.Fatalf("expected numeric values, got %v and %v", fields["steps"], fields["alpha"])
	}
	if !fields["tls"].GetBoolValue() {
		t.Fatalf("expected a boolean")
	}
	if fields["start"].GetStringValue() != "2025-06-01T00:00:00Z" {
		t.Fatalf("expected the timestamp to stay a string")
	}

	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatalf("expected an error for a parameter without =")
	}
}

func TestDialAddress(t *testing.T) {
	if got := dialAddress(":50051"); got != "127.0.0.1:50051" {
		t.Fatalf("unexpected address %q", got)
	}
	if got := dialAddress("hub:50051"); got != "hub:50051" {
		t.Fatalf("unexpected address %q", got)
	}
}

func TestSyntheticEvents(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	events := syntheticEvents(syntheticOptions{Count: 50, SpikeEvery: 20, GroupSize: 10, Start: start, Interval: time.Second, Seed: 7})
	if len(events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(events))
	}

	var latency, cost, security int
	for i, ev := range events {
		if !ev.Timestamp.Equal(start.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d has timestamp %s", i, ev.Timestamp)
		}
		if ev.CorrelationID == nil || *ev.CorrelationID != *events[i-i%10].CorrelationID {
			t.Fatalf("event %d is not in its group's correlation", i)
		}
		if i%10 == 0 && ev.ParentEventID != nil {
			t.Fatalf("group root %d has a parent", i)
		}
		if i%10 != 0 && (ev.ParentEventID == nil || *ev.ParentEventID != events[i-i%10].EventID) {
			t.Fatalf("event %d does not link to its group root", i)
		}
		switch ev.EventType {
		case models.EventTypeTelemetry:
			latency++
			if i == 20 && ev.Payload.Telemetry.Latency.TotalLatencyMS < 1200 {
				t.Fatalf("expected a spike at 20, got %v", ev.Payload.Telemetry.Latency.TotalLatencyMS)
			}
		case models.EventTypeCost:
			cost++
		case models.EventTypeSecurity:
			security++
		}
	}
	if cost != 4 || security != 2 || latency != 44 {
		t.Fatalf("unexpected mix: latency=%d cost=%d security=%d", latency, cost, security)
	}
}

func TestIngesterConfigOverrides(t *testing.T) {
	got := ingesterConfig(config.TransportConfig{BatchSize: 50, FetchWait: 20 * time.Millisecond})
	if got.BatchSize != 50 || got.FetchWait != 20*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.ChannelCapacity != 10000 {
		t.Fatalf("expected default channel capacity, got %d", got.ChannelCapacity)
	}
}

func TestNewCacheSelection(t *testing.T) {
	ctx := context.Background()
	if _, ok := newCache(ctx, config.CacheConfig{}, nil).(cache.NoopProvider); !ok {
		t.Fatalf("disabled cache should be a no-op")
	}
	p := newCache(ctx, config.CacheConfig{Enabled: true}, nil)
	defer p.Close()
	if _, ok := p.(*cache.MemoryProvider); !ok {
		t.Fatalf("enabled cache without an address should stay in process, got %T", p)
	}
}
