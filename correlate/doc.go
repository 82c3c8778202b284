// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlate joins capability invocations with host telemetry to
// classify what the server did.
//
// Each invocation owns a window from its request time to its response
// time plus a grace period. An event is attributed to the invocation
// whose window contains it and whose request most recently preceded
// it; ties go to the lowest sequence number. Events outside every
// window are session-level.
//
// Rules run in priority order:
//
//  1. A touched decoy yields one CRITICAL honeypot-access finding.
//  2. A suspicious child process yields a CRITICAL command-execution
//     finding per attributed invocation, or a WARNING
//     suspicious-process finding at session level.
//  3. A response containing decoy content yields a CRITICAL data-leak
//     finding for that invocation.
//  4. A successful traversal or injection response that differs from
//     the capability's control response yields a WARNING finding.
//  5. Network activity outside the allow-list yields a WARNING
//     suspicious-network finding per scope and destination.
//  6. Filesystem activity left over by rule 1 yields an INFO
//     filesystem-access finding per scope and path.
//  7. A response carrying host file content or command output, once
//     echoed arguments and decoy content are removed, yields a WARNING
//     sensitive-output or command-output finding.
//  8. Error lines in the server's stderr yield one INFO server-error
//     finding for the session.
//
// Events consumed by rules 1 to 3 are not reused. Output is ordered by
// rule, then time, then sequence, and finding IDs are derived from the
// session ID and output position, so identical inputs produce
// identical findings.
package correlate
