// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs one analysis of a capability server from
// sandbox launch to risk report.
//
// A [Coordinator] moves through fixed phases: launch the sandbox,
// start the telemetry collectors, connect and discover capabilities,
// generate and execute payloads, drain the collectors, correlate, and
// score. The sandbox is released on every exit path, after the
// collectors have stopped. Every outcome, including a failed launch or
// an expired session deadline, produces a [schema.RiskReport]; the
// caller never has to handle a bare error from [Coordinator.Run].
//
// Failures map to report state:
//
//   - a *sandbox.LaunchError ends the session FAILED, unless the
//     session deadline expired during launch, which ends it TIMED_OUT
//   - a collector that fails to start or degrades is listed in
//     DegradedSignals and the session continues
//   - an *interrogate.ProtocolError during connect or discovery skips
//     fuzzing; the report notes zero tests
//   - an expired session deadline cancels in-flight calls (recorded as
//     timeouts) and ends the session TIMED_OUT with partial findings
//
// A stdio server launched by [SandboxLauncher] is healthy once it
// answers initialize; the coordinator reuses that handshake instead of
// repeating it. The server's stderr is read before teardown and scanned
// by the correlator.
//
// Sinks ([EvidenceSink], [MetricsSink], [PublishSink]) run after the
// sandbox is released. A sink failure is logged and noted; it never
// changes the score.
package session
