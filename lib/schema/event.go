// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"
)

// EventKind identifies which collector produced an event.
type EventKind string

const (
	EventNetwork    EventKind = "network"
	EventFilesystem EventKind = "filesystem"
	EventProcess    EventKind = "process"
)

// Severity grades events and findings.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities: INFO < WARNING < CRITICAL.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Network event kinds.
const (
	NetworkDNS     = "dns"
	NetworkConnect = "connect"
)

// NetworkDetail describes a DNS query or a new outbound connection.
type NetworkDetail struct {
	Kind     string `json:"kind"`
	Address  string `json:"address"`
	Port     uint32 `json:"port"`
	Protocol string `json:"protocol"`

	// Query is the resolved name for DNS events when the source can
	// see it. Empty otherwise.
	Query string `json:"query,omitempty"`
}

// FileDetail describes an access to a path outside the allow-list.
type FileDetail struct {
	// Path is the path as seen inside the sandbox.
	Path string `json:"path"`

	// HostPath is the path the collector observed on the host.
	HostPath string `json:"host_path,omitempty"`

	// Op is one of "open", "access", "modify", "create", "delete".
	Op string `json:"op"`

	// Decoy is set when Path is a planted decoy artifact.
	Decoy bool `json:"decoy,omitempty"`
}

// ProcessDetail describes a child process spawned inside the sandbox.
type ProcessDetail struct {
	PID  int32    `json:"pid"`
	PPID int32    `json:"ppid"`
	Exe  string   `json:"exe,omitempty"`
	Argv []string `json:"argv"`

	// Suspicious is set at emission time when the binary matches the
	// denylist. Match holds the denylisted name that matched.
	Suspicious bool   `json:"suspicious,omitempty"`
	Match      string `json:"match,omitempty"`
}

// Event is a single telemetry observation. Exactly one of Network,
// File and Process is set, matching Kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	Collector string    `json:"collector"`

	// Sequence is unique per collector, starting at 1.
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`

	Network *NetworkDetail `json:"network,omitempty"`
	File    *FileDetail    `json:"file,omitempty"`
	Process *ProcessDetail `json:"process,omitempty"`
}

// EventRef identifies an event within a session.
type EventRef struct {
	Collector string `json:"collector"`
	Sequence  int    `json:"sequence"`
}

func (r EventRef) String() string {
	return fmt.Sprintf("%s#%d", r.Collector, r.Sequence)
}

// Ref returns the event's identity.
func (e Event) Ref() EventRef {
	return EventRef{Collector: e.Collector, Sequence: e.Sequence}
}
