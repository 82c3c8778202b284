// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vvatta/mcp-automatic-review/lib/llm"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Defaults for [External].
const (
	DefaultExternalTimeout = 30 * time.Second
	DefaultExternalModel   = "claude-sonnet-4-5"
	externalMaxTokens      = 4096
)

const externalSystemPrompt = `You generate test inputs for a security review of a tool server running in an isolated sandbox.
Reply with a JSON array of argument objects for the tool and nothing else.
Every object must only use argument names from the tool's input schema.`

// External asks a language model for payloads.
type External struct {
	Provider llm.Provider
	Model    string

	// Timeout bounds each model call. Zero means
	// DefaultExternalTimeout.
	Timeout time.Duration

	// MaxMalicious bounds payloads per adversarial attack type and
	// MaxValid bounds benign payloads requested for the control type.
	MaxMalicious int
	MaxValid     int
}

// Generate implements [Generator].
func (e *External) Generate(ctx context.Context, capability schema.Capability, attack schema.AttackType) ([]schema.Payload, error) {
	if e.Provider == nil {
		return nil, errors.New("no model provider configured")
	}
	count := e.MaxMalicious
	if attack == schema.AttackControl {
		count = e.MaxValid
	}
	if count <= 0 {
		return nil, nil
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExternalTimeout
	}
	model := e.Model
	if model == "" {
		model = DefaultExternalModel
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := e.Provider.Complete(ctx, llm.Request{
		Model:     model,
		System:    externalSystemPrompt,
		Messages:  []llm.Message{llm.UserMessage(buildPrompt(capability, attack, count))},
		MaxTokens: externalMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting %s payloads for %s: %w", attack, capability.Name, err)
	}

	argumentSets, err := ParseArgumentArray(response.Text)
	if err != nil {
		return nil, fmt.Errorf("parsing model output for %s: %w", capability.Name, err)
	}
	if len(argumentSets) > count {
		argumentSets = argumentSets[:count]
	}

	payloads := make([]schema.Payload, 0, len(argumentSets))
	for index, arguments := range argumentSets {
		payloads = append(payloads, schema.Payload{
			Capability:  capability.Name,
			AttackType:  attack,
			Arguments:   arguments,
			Provenance:  schema.ProvenanceExternal,
			Description: fmt.Sprintf("model-generated %s payload %d", attack, index+1),
		})
	}
	return payloads, nil
}

func buildPrompt(capability schema.Capability, attack schema.AttackType, count int) string {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Tool name: %s\n", capability.Name)
	if capability.Description != "" {
		fmt.Fprintf(&prompt, "Tool description: %s\n", capability.Description)
	}
	if len(capability.InputSchema) > 0 {
		fmt.Fprintf(&prompt, "Input schema: %s\n", capability.InputSchema)
	}
	if attack == schema.AttackControl {
		fmt.Fprintf(&prompt, "\nProduce up to %d realistic, benign argument objects a legitimate user would send.\n", count)
	} else {
		fmt.Fprintf(&prompt, "\nProduce up to %d argument objects that test the tool for %s weaknesses.\n", count, attack)
		fmt.Fprintf(&prompt, "Examples of the kind of value to place in string arguments: ")
		var examples []string
		for _, template := range Templates(attack) {
			examples = append(examples, fmt.Sprintf("%q", template.Value))
		}
		prompt.WriteString(strings.Join(examples, ", "))
		prompt.WriteString("\n")
	}
	return prompt.String()
}

// ParseArgumentArray extracts a JSON array of objects from model
// output. Text around the outermost brackets, such as a code fence, is
// ignored. Array elements that are not objects are skipped.
func ParseArgumentArray(text string) ([]map[string]any, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, errors.New("no JSON array in output")
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &elements); err != nil {
		return nil, err
	}
	var result []map[string]any
	for _, element := range elements {
		if !bytes.HasPrefix(bytes.TrimSpace(element), []byte("{")) {
			continue
		}
		var arguments map[string]any
		if err := json.Unmarshal(element, &arguments); err != nil {
			continue
		}
		result = append(result, arguments)
	}
	return result, nil
}
