// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// stubCollector returns canned events.
type stubCollector struct {
	name     string
	events   []schema.Event
	startErr error
	healthy  bool
	stops    int
}

func (s *stubCollector) Name() string { return s.name }

func (s *stubCollector) Start(context.Context, Target) error { return s.startErr }

func (s *stubCollector) Stop() []schema.Event {
	s.stops++
	return s.events
}

func (s *stubCollector) Healthy() bool { return s.healthy }

func stubEvent(collector string, sequence int, offset time.Duration) schema.Event {
	return schema.Event{Collector: collector, Sequence: sequence, Timestamp: epoch.Add(offset)}
}

func TestGroupMergesByTimestamp(t *testing.T) {
	t.Parallel()

	network := &stubCollector{name: "network", healthy: true, events: []schema.Event{
		stubEvent("network", 1, 0),
		stubEvent("network", 2, 2*time.Second),
	}}
	filesystem := &stubCollector{name: "filesystem", healthy: true, events: []schema.Event{
		stubEvent("filesystem", 1, time.Second),
		stubEvent("filesystem", 2, 2*time.Second),
	}}
	group := NewGroup(nil, network, filesystem)
	group.Start(context.Background(), Target{})

	events := group.Stop()
	var got []string
	for _, event := range events {
		got = append(got, event.Ref().String())
	}
	want := []string{"network#1", "filesystem#1", "network#2", "filesystem#2"}
	if len(got) != len(want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged = %v, want %v", got, want)
		}
	}

	group.Stop()
	if network.stops != 1 || filesystem.stops != 1 {
		t.Errorf("collectors stopped %d and %d times, want once", network.stops, filesystem.stops)
	}
	if degraded := group.Degraded(); len(degraded) != 0 {
		t.Errorf("unexpected degradation: %v", degraded)
	}
}

func TestGroupRecordsDegradation(t *testing.T) {
	t.Parallel()

	failing := &stubCollector{name: "filesystem", startErr: errors.New("inotify unavailable")}
	flaky := &stubCollector{name: "process", healthy: false}
	fine := &stubCollector{name: "network", healthy: true, events: []schema.Event{stubEvent("network", 1, 0)}}
	group := NewGroup(nil, failing, flaky, fine)
	group.Start(context.Background(), Target{})

	events := group.Stop()
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
	if failing.stops != 0 {
		t.Error("collector that failed to start was stopped")
	}

	degraded := group.Degraded()
	if len(degraded) != 2 {
		t.Fatalf("degraded = %v, want 2 entries", degraded)
	}
	if degraded[0].Collector != "filesystem" || degraded[1].Collector != "process" {
		t.Errorf("degraded order = %s, %s", degraded[0].Collector, degraded[1].Collector)
	}
}
