// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for session evidence.
//
// The analyzer uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the MCP wire protocol, the risk
//     report, CLI output, NATS publications.
//   - CBOR for the evidence archive, which records every invocation
//     and telemetry event of a session for later replay.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// The same session data always produces identical bytes, so the
// archive digest recorded in the report is reproducible. Timestamps
// are encoded as RFC 3339 strings with nanoseconds.
//
// Types in lib/schema carry only `json` tags. fxamacker/cbor reads
// `json` tags when `cbor` tags are absent, so field names match the
// JSON report.
package codec
