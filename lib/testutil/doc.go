// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests that wait on collectors, drivers or sandboxed
// processes never hang. [RequireEventually] polls a condition for
// tests that observe real kernel activity (inotify, process tables),
// where no channel is available. These helpers are the only place in
// the test suite that uses wall-clock timeouts.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation.
//
// All helpers call t.Fatalf on failure rather than returning errors.
//
// This package depends on no other packages in this module.
package testutil
