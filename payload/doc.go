// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload builds the argument objects used to exercise a
// capability.
//
// [Deterministic] is a pure mapping from (capability, attack type) to
// payloads: every canonical string in the attack type's template table
// is substituted into every string-like argument, and the remaining
// arguments get benign defaults. It always returns at least one payload
// per attack type. [External] asks a language model for additional
// payloads. [Merged] appends the output of additional generators to a
// primary one and absorbs their failures, so an unavailable model never
// shrinks the deterministic set.
//
// The attack type set is closed. Adding an attack type means adding a
// constant in lib/schema and a row in the template table here.
package payload
