// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source shared by every component of
// an analysis session.
//
// Invocation timestamps and telemetry event timestamps are compared
// against each other by the correlator, so they must come from the
// same clock. Components accept a [Clock] instead of calling time.Now,
// time.After, time.NewTicker or time.Sleep directly. A session wraps its
// clock in a [SessionClock], which never returns a time earlier than one
// it already returned, regardless of which goroutine asks.
//
// In production, [Real] provides the standard library behavior. In
// tests, [Fake] provides a clock that moves only when Advance or Set is
// called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	collector := &telemetry.ProcessCollector{Source: source, Interval: pollInterval}
//	collector.Start(ctx, telemetry.Target{RootPID: pid, Clock: fake})
//	fake.WaitForTimers(1)          // poll ticker registered
//	fake.Advance(pollInterval)     // run exactly one poll
package clock
