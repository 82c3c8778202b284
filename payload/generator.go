// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vvatta/mcp-automatic-review/lib/llm"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Generator produces payloads for one capability and attack type.
type Generator interface {
	Generate(ctx context.Context, capability schema.Capability, attack schema.AttackType) ([]schema.Payload, error)
}

// syntheticField carries adversarial strings for capabilities that
// declare no string-like argument.
const syntheticField = "input"

// BenignValue returns the default argument for a declared JSON Schema
// type.
func BenignValue(declaredType string) any {
	switch declaredType {
	case "number", "integer":
		return 42
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "test"
	}
}

// BenignArguments returns an argument object with a benign value for
// every declared property.
func BenignArguments(capability schema.Capability) map[string]any {
	arguments := make(map[string]any, len(capability.Properties))
	for _, property := range capability.Properties {
		arguments[property.Name] = BenignValue(property.Type)
	}
	return arguments
}

// Control returns the benign baseline payload for a capability. When
// the capability has a validator and the baseline does not satisfy it,
// the payload is still returned along with the validation error.
func Control(capability schema.Capability) (schema.Payload, error) {
	payload := schema.Payload{
		Capability:  capability.Name,
		AttackType:  schema.AttackControl,
		Arguments:   BenignArguments(capability),
		Provenance:  schema.ProvenanceDeterministic,
		Description: "benign baseline",
	}
	if capability.Validate != nil {
		if err := capability.Validate(payload.Arguments); err != nil {
			return payload, fmt.Errorf("control payload for %s does not satisfy its input schema: %w", capability.Name, err)
		}
	}
	return payload, nil
}

// Deterministic substitutes template strings into string-like
// arguments.
type Deterministic struct {
	// Limit bounds the payloads returned per attack type. Zero means
	// no bound.
	Limit int
}

// Generate implements [Generator]. Payloads are ordered template-major
// (every field gets the first template before any field gets the
// second), so a Limit keeps coverage across fields.
func (d *Deterministic) Generate(ctx context.Context, capability schema.Capability, attack schema.AttackType) ([]schema.Payload, error) {
	if attack == schema.AttackControl {
		control, _ := Control(capability)
		return []schema.Payload{control}, nil
	}
	table := Templates(attack)
	if len(table) == 0 {
		return nil, fmt.Errorf("no templates for attack type %q", attack)
	}

	fields := make([]string, 0, len(capability.Properties))
	for _, property := range capability.StringProperties() {
		fields = append(fields, property.Name)
	}
	if len(fields) == 0 {
		fields = []string{syntheticField}
	}

	var payloads []schema.Payload
	for _, template := range table {
		for _, field := range fields {
			if d.Limit > 0 && len(payloads) >= d.Limit {
				return payloads, nil
			}
			arguments := BenignArguments(capability)
			arguments[field] = template.Value
			payloads = append(payloads, schema.Payload{
				Capability:  capability.Name,
				AttackType:  attack,
				Arguments:   arguments,
				Field:       field,
				Value:       template.Value,
				Provenance:  schema.ProvenanceDeterministic,
				Description: fmt.Sprintf("%s via %s: %s", attack, field, template.Description),
			})
		}
	}
	return payloads, nil
}

// Merged runs a primary generator and appends the output of additional
// generators. Errors from additional generators are logged and
// absorbed; payloads whose arguments duplicate an earlier payload are
// dropped.
type Merged struct {
	Primary    Generator
	Additional []Generator
	Logger     *slog.Logger
}

// Generate implements [Generator].
func (m *Merged) Generate(ctx context.Context, capability schema.Capability, attack schema.AttackType) ([]schema.Payload, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	payloads, err := m.Primary.Generate(ctx, capability, attack)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(payloads))
	for _, payload := range payloads {
		seen[argumentsKey(payload.Arguments)] = true
	}

	for _, generator := range m.Additional {
		extra, err := generator.Generate(ctx, capability, attack)
		if err != nil {
			logger.Warn("additional payload generator failed",
				"capability", capability.Name,
				"attack", attack,
				"error", err,
			)
			continue
		}
		for _, payload := range extra {
			key := argumentsKey(payload.Arguments)
			if seen[key] {
				continue
			}
			seen[key] = true
			payloads = append(payloads, payload)
		}
	}
	return payloads, nil
}

// argumentsKey is a canonical encoding of an argument object.
// encoding/json sorts map keys, so equal objects encode equally.
func argumentsKey(arguments map[string]any) string {
	data, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Sprintf("%v", arguments)
	}
	return string(data)
}

// Options configures [NewGenerator].
type Options struct {
	// MaxMalicious bounds payloads per attack type from each
	// generator. MaxValid bounds external benign payloads.
	MaxMalicious int
	MaxValid     int

	// Provider enables external generation when non-nil.
	Provider llm.Provider
	Model    string
	Timeout  time.Duration

	Logger *slog.Logger
}

// NewGenerator returns the deterministic generator, merged with an
// external one when a provider is configured.
func NewGenerator(options Options) Generator {
	merged := &Merged{
		Primary: &Deterministic{Limit: options.MaxMalicious},
		Logger:  options.Logger,
	}
	if options.Provider != nil {
		merged.Additional = append(merged.Additional, &External{
			Provider:     options.Provider,
			Model:        options.Model,
			Timeout:      options.Timeout,
			MaxMalicious: options.MaxMalicious,
			MaxValid:     options.MaxValid,
		})
	}
	return merged
}
