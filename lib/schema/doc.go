// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the data model shared by every stage of an
// analysis session: the capabilities a target exposes ([Capability]),
// the adversarial arguments sent to them ([Payload]), the record of
// each call ([Invocation]), the telemetry observed while the target
// runs ([Event]), the classified outcomes ([Finding]), and the final
// [RiskReport].
//
// Types here are plain values with JSON tags. They carry no behavior
// beyond small predicates and orderings so that the sandbox, telemetry,
// interrogate, correlate, risk and session packages can exchange them
// without importing each other.
//
// This package depends on no other packages in this module.
package schema
