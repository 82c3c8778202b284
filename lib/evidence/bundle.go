// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"encoding/json"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Bundle is the archived record of one session.
type Bundle struct {
	Session      schema.Session      `json:"session"`
	Capabilities []CapabilityRecord  `json:"capabilities"`
	Invocations  []schema.Invocation `json:"invocations"`
	Events       []schema.Event      `json:"events"`
	Findings     []schema.Finding    `json:"findings"`
	Report       schema.RiskReport   `json:"report"`
}

// CapabilityRecord is the serializable part of a schema.Capability.
type CapabilityRecord struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Capabilities converts discovered capabilities to records.
func Capabilities(capabilities []schema.Capability) []CapabilityRecord {
	records := make([]CapabilityRecord, 0, len(capabilities))
	for _, capability := range capabilities {
		records = append(records, CapabilityRecord{
			Name:        capability.Name,
			Description: capability.Description,
			InputSchema: capability.InputSchema,
		})
	}
	return records
}
