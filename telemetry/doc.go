// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry observes a sandboxed capability server from the host
// while it is being exercised.
//
// Three collectors run for the lifetime of a session:
//
//   - [NetworkCollector] samples the sockets owned by the server's
//     process tree and reports DNS queries and new outbound connections.
//   - [FilesystemCollector] watches the fake home directory with inotify
//     and reports accesses outside an allow-list, tagging decoy reads.
//   - [ProcessCollector] samples the process tree and reports children
//     spawned after the server became healthy.
//
// Each collector appends to its own [Journal]. Journals are written by
// exactly one goroutine and read only after [Collector.Stop] has waited
// for that goroutine to exit, so no locking is involved on the hot
// path. A [Group] starts and stops a set of collectors together, records
// which ones degraded, and merges their journals into a single
// timestamp-ordered event list.
//
// Collectors never fail a session. A collector that cannot start, or
// whose source keeps failing, reports itself unhealthy and the session
// continues with whatever the remaining collectors saw.
package telemetry
