// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Group runs a set of collectors against one target.
type Group struct {
	collectors []Collector
	logger     *slog.Logger

	mu       sync.Mutex
	started  []Collector
	failures []*CollectorError

	stopOnce sync.Once
	events   []schema.Event
}

// NewGroup returns a group of collectors. A nil logger uses
// slog.Default.
func NewGroup(logger *slog.Logger, collectors ...Collector) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{collectors: collectors, logger: logger}
}

// DefaultCollectors returns the network, filesystem and process
// collectors reading from the host.
func DefaultCollectors(logger *slog.Logger) []Collector {
	return []Collector{
		NewNetworkCollector(logger),
		NewFilesystemCollector(logger),
		NewProcessCollector(logger),
	}
}

// Start starts every collector. A collector that fails to start is
// recorded as degraded; the rest keep running.
func (g *Group) Start(ctx context.Context, target Target) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, collector := range g.collectors {
		if err := collector.Start(ctx, target); err != nil {
			g.logger.Warn("collector failed to start", "collector", collector.Name(), "error", err)
			g.failures = append(g.failures, asCollectorError(collector.Name(), err))
			continue
		}
		g.started = append(g.started, collector)
	}
}

// Stop stops every started collector exactly once and returns their
// events merged by timestamp. Ties keep collector order, then sequence.
// Later calls return the same slice.
func (g *Group) Stop() []schema.Event {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		var merged []schema.Event
		for _, collector := range g.started {
			merged = append(merged, collector.Stop()...)
			if collector.Healthy() {
				continue
			}
			var failure error
			if reporter, ok := collector.(interface{ Failure() error }); ok {
				failure = reporter.Failure()
			}
			if failure == nil {
				failure = errors.New("stopped observing")
			}
			g.failures = append(g.failures, asCollectorError(collector.Name(), failure))
		}

		order := make(map[string]int, len(g.collectors))
		for i, collector := range g.collectors {
			order[collector.Name()] = i
		}
		sort.SliceStable(merged, func(i, j int) bool {
			a, b := merged[i], merged[j]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			if a.Collector != b.Collector {
				return order[a.Collector] < order[b.Collector]
			}
			return a.Sequence < b.Sequence
		})
		g.events = merged
	})
	return g.events
}

// Degraded returns the collectors that failed to start or stopped
// observing, in the order they were detected. Complete only after Stop.
func (g *Group) Degraded() []*CollectorError {
	g.mu.Lock()
	defer g.mu.Unlock()
	degraded := make([]*CollectorError, len(g.failures))
	copy(degraded, g.failures)
	return degraded
}

func asCollectorError(name string, err error) *CollectorError {
	var collectorErr *CollectorError
	if errors.As(err, &collectorErr) {
		return collectorErr
	}
	return &CollectorError{Collector: name, Err: err}
}
