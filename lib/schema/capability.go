// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "encoding/json"

// Property is one top-level field of a capability's input schema.
type Property struct {
	// Name is the argument name as it appears in the call.
	Name string `json:"name"`

	// Type is the declared JSON Schema type ("string", "number",
	// "integer", "boolean", "array", "object"). Empty when the schema
	// does not declare one.
	Type string `json:"type,omitempty"`
}

// StringLike reports whether adversarial strings can be substituted
// into this property. Untyped properties accept strings.
func (p Property) StringLike() bool {
	return p.Type == "string" || p.Type == ""
}

// Capability is a named, schema-described operation exposed by the
// target. Capabilities are discovered once per session and never
// modified afterwards.
type Capability struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`

	// Properties lists the schema's top-level properties sorted by
	// name, so payload generation is deterministic.
	Properties []Property `json:"properties,omitempty"`

	// Required lists property names the schema marks as required.
	Required []string `json:"required,omitempty"`

	// Validate checks an argument object against the compiled input
	// schema. Nil when the schema could not be compiled.
	Validate func(arguments map[string]any) error `json:"-"`
}

// StringProperties returns the properties that accept strings.
func (c Capability) StringProperties() []Property {
	var result []Property
	for _, property := range c.Properties {
		if property.StringLike() {
			result = append(result, property)
		}
	}
	return result
}
