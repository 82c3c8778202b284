// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

// AttackType tags a payload with the class of attack it attempts. The
// set is closed: adding an attack type means adding a constant here
// and a template table entry in the payload package.
type AttackType string

const (
	AttackCommandInjection AttackType = "command-injection"
	AttackPathTraversal    AttackType = "path-traversal"
	AttackSQLInjection     AttackType = "sql-injection"
	AttackXSS              AttackType = "xss"
	AttackSSRF             AttackType = "ssrf"
	AttackXXE              AttackType = "xxe"

	// AttackControl marks the benign baseline payload that adversarial
	// responses are compared against.
	AttackControl AttackType = "control"
)

// AttackTypes returns every adversarial attack type in a fixed order.
// AttackControl is not included.
func AttackTypes() []AttackType {
	return []AttackType{
		AttackCommandInjection,
		AttackPathTraversal,
		AttackSQLInjection,
		AttackXSS,
		AttackSSRF,
		AttackXXE,
	}
}

// ParseAttackType converts a string to an AttackType, rejecting
// values outside the closed set.
func ParseAttackType(value string) (AttackType, error) {
	attack := AttackType(value)
	if attack == AttackControl {
		return attack, nil
	}
	for _, known := range AttackTypes() {
		if attack == known {
			return attack, nil
		}
	}
	return "", fmt.Errorf("unknown attack type %q", value)
}

// Provenance records which generator produced a payload.
type Provenance string

const (
	ProvenanceDeterministic Provenance = "deterministic"
	ProvenanceExternal      Provenance = "external"
)

// Payload is one concrete set of arguments for a capability call.
type Payload struct {
	Capability string         `json:"capability"`
	AttackType AttackType     `json:"attack_type"`
	Arguments  map[string]any `json:"arguments"`

	// Field is the argument that carries the adversarial value. Empty
	// for control payloads and for external payloads that mutate
	// several fields at once.
	Field string `json:"field,omitempty"`

	// Value is the canonical adversarial string substituted into
	// Field.
	Value string `json:"value,omitempty"`

	Provenance  Provenance `json:"provenance"`
	Description string     `json:"description,omitempty"`
}
