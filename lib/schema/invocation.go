// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"time"
)

// Outcome is how a capability call ended from the protocol's point of
// view. It says nothing about whether the call was malicious.
type Outcome string

const (
	// OutcomeOK is a result with isError unset.
	OutcomeOK Outcome = "ok"

	// OutcomeToolError is a result the tool itself flagged as an error.
	OutcomeToolError Outcome = "tool-error"

	// OutcomeProtocolError is a JSON-RPC error, transport failure, or
	// undecodable response.
	OutcomeProtocolError Outcome = "protocol-error"

	// OutcomeTimeout is a call that did not complete before its
	// per-call deadline or the session deadline.
	OutcomeTimeout Outcome = "timeout"
)

// Classification is set by the correlator.
type Classification string

const (
	ClassificationPending Classification = "pending"
	ClassificationClean   Classification = "clean"
	ClassificationFlagged Classification = "flagged"
)

// Invocation records one capability call. RequestAt and ResponseAt
// come from the session clock so invocations can be correlated with
// telemetry regardless of completion order.
type Invocation struct {
	// Sequence is unique within a session, assigned in submission
	// order starting at 1.
	Sequence   int       `json:"sequence"`
	Capability string    `json:"capability"`
	Payload    Payload   `json:"payload"`
	RequestAt  time.Time `json:"request_at"`
	ResponseAt time.Time `json:"response_at"`

	// Response is the raw JSON-RPC result. Nil for timeouts and
	// transport failures.
	Response json.RawMessage `json:"response,omitempty"`

	// Text is the concatenated text content of the result.
	Text string `json:"text,omitempty"`

	Outcome        Outcome        `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	Classification Classification `json:"classification"`
}

// Succeeded reports whether the call returned a non-error result.
func (i Invocation) Succeeded() bool {
	return i.Outcome == OutcomeOK
}

// Contains reports whether t falls inside [RequestAt, ResponseAt+grace].
func (i Invocation) Contains(t time.Time, grace time.Duration) bool {
	return !t.Before(i.RequestAt) && !t.After(i.ResponseAt.Add(grace))
}
