// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vvatta/mcp-automatic-review/decoy"
	"github.com/vvatta/mcp-automatic-review/lib/clock"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// DefaultPollInterval is the sampling period for polling collectors.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultMaxFailures is the number of consecutive source failures after
// which a collector marks itself degraded.
const DefaultMaxFailures = 5

// Target describes what a collector observes.
type Target struct {
	// RootPID is the host PID of the sandbox launcher. Every process
	// below it belongs to the server under test.
	RootPID int32

	// HostHome is the fake home directory on the host, and SandboxHome
	// is where it is mounted inside the sandbox.
	HostHome    string
	SandboxHome string

	// Decoys maps planted artifacts by path. May be nil.
	Decoys *decoy.Registry

	// Clock stamps events. Sessions pass their monotonic session
	// clock here.
	Clock clock.Clock
}

// Collector observes one aspect of a running sandbox.
type Collector interface {
	// Name identifies the collector in events and degradation notes.
	Name() string

	// Start begins observation. A returned error means the collector
	// produced nothing and Stop will return an empty journal.
	Start(ctx context.Context, target Target) error

	// Stop ends observation, waits for the collector's goroutine, and
	// returns the journal. Subsequent calls return the same events.
	Stop() []schema.Event

	// Healthy reports whether the collector has been observing
	// continuously since Start.
	Healthy() bool
}

// CollectorError reports a collector that failed to start or degraded
// while running.
type CollectorError struct {
	Collector string
	Err       error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collector %s: %v", e.Collector, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// runner holds the lifecycle shared by every collector: one background
// goroutine writing one journal, a consecutive-failure counter, and an
// idempotent Stop.
type runner struct {
	name   string
	logger *slog.Logger

	maxFailures int

	journal *Journal
	cancel  context.CancelFunc
	done    chan struct{}

	healthy  atomic.Bool
	failures int

	failureMu sync.Mutex
	failure   error

	stopOnce sync.Once
	events   []schema.Event
}

func (r *runner) init(name string, kind schema.EventKind, target Target, logger *slog.Logger, maxFailures int) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	r.name = name
	r.logger = logger.With("collector", name)
	r.maxFailures = maxFailures
	r.journal = NewJournal(name, kind, targetClock(target))
	r.healthy.Store(true)
}

// run launches loop on a background goroutine. loop must return when
// ctx is cancelled.
func (r *runner) run(ctx context.Context, loop func(ctx context.Context)) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		loop(ctx)
	}()
}

// succeeded resets the consecutive-failure count.
func (r *runner) succeeded() {
	r.failures = 0
}

// failed counts a source failure and degrades the collector once the
// limit is reached. Only the loop goroutine calls it.
func (r *runner) failed(err error) {
	r.failures++
	if r.failures < r.maxFailures || !r.healthy.Load() {
		r.logger.Debug("collector poll failed", "error", err, "consecutive", r.failures)
		return
	}
	r.degrade(err)
}

// degrade marks the collector unhealthy and records why.
func (r *runner) degrade(err error) {
	r.failureMu.Lock()
	if r.failure == nil {
		r.failure = err
	}
	r.failureMu.Unlock()
	if r.healthy.Swap(false) {
		r.logger.Warn("collector degraded", "error", err)
	}
}

func (r *runner) stop() []schema.Event {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		<-r.done
		r.events = r.journal.Events()
	})
	return r.events
}

// Healthy reports whether the collector is observing.
func (r *runner) Healthy() bool { return r.healthy.Load() }

// Failure returns the error that degraded the collector, or nil.
func (r *runner) Failure() error {
	r.failureMu.Lock()
	defer r.failureMu.Unlock()
	if r.failure == nil {
		return nil
	}
	return &CollectorError{Collector: r.name, Err: r.failure}
}

// pollLoop calls poll once immediately and then on every tick until ctx
// is cancelled.
func pollLoop(ctx context.Context, ticker *clock.Ticker, poll func(ctx context.Context)) {
	defer ticker.Stop()
	poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			poll(ctx)
		}
	}
}

func targetClock(target Target) clock.Clock {
	if target.Clock == nil {
		return clock.Real()
	}
	return target.Clock
}
