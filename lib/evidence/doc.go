// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package evidence writes and reads session evidence archives.
//
// An archive holds everything the correlator saw: the session record,
// the discovered capabilities, every invocation with its raw response,
// every telemetry event, the findings and the final report. Analysts
// use it to re-examine a verdict without re-running an untrusted
// target.
//
// Layout of the plaintext form:
//
//	magic    "MCPEVID1" (8 bytes)
//	tag      compression tag (1 byte: 0 none, 1 lz4, 2 zstd)
//	size     uncompressed body length (8 bytes, big-endian)
//	body     compressed CBOR encoding of [Bundle]
//
// When recipients are configured the whole plaintext form is
// encrypted with age to those X25519 public keys.
//
// The archive [Digest] is a BLAKE3 keyed hash of the uncompressed CBOR
// body. The body is deterministic (lib/codec), so the digest depends
// only on the session data and not on compression or encryption. The
// digest is recorded in the report as evidence_digest; the report
// stored inside the archive carries an empty digest.
package evidence
