// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"time"

	"github.com/vvatta/mcp-automatic-review/lib/clock"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Journal is the append-only event log of one collector. It has a single
// writer and is read only after that writer has finished.
//
// Timestamps within a journal never decrease: an event stamped earlier
// than its predecessor is clamped to the predecessor's timestamp.
// Sequence numbers start at 1 and increase by one per event.
type Journal struct {
	collector string
	kind      schema.EventKind
	clock     clock.Clock

	events []schema.Event
	last   time.Time
}

// NewJournal returns an empty journal for the named collector.
func NewJournal(collector string, kind schema.EventKind, clk clock.Clock) *Journal {
	if clk == nil {
		clk = clock.Real()
	}
	return &Journal{collector: collector, kind: kind, clock: clk}
}

// Append records event, filling in Kind, Collector, Sequence and, when
// zero, Timestamp. Returns the stored event.
func (j *Journal) Append(event schema.Event) schema.Event {
	event.Kind = j.kind
	event.Collector = j.collector
	event.Sequence = len(j.events) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = j.clock.Now()
	}
	if event.Timestamp.Before(j.last) {
		event.Timestamp = j.last
	}
	if event.Severity == "" {
		event.Severity = schema.SeverityInfo
	}
	j.last = event.Timestamp
	j.events = append(j.events, event)
	return event
}

// Len returns the number of recorded events.
func (j *Journal) Len() int { return len(j.events) }

// Events returns a copy of the recorded events in append order.
func (j *Journal) Events() []schema.Event {
	if len(j.events) == 0 {
		return nil
	}
	events := make([]schema.Event, len(j.events))
	copy(events, j.events)
	return events
}
