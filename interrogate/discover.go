// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interrogate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// defaultInputSchema stands in for tools that declare no input schema.
var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// Discoverer lists a server's tools.
type Discoverer struct {
	Logger *slog.Logger
}

// Discover sends exactly one tools/list request and converts the result
// into capabilities. A transport failure, JSON-RPC error, missing result
// or malformed result is returned as *ProtocolError.
//
// Tools with an empty name are dropped, as are later tools repeating an
// earlier name. A tool whose input schema does not compile is kept
// with a nil validator.
func (d *Discoverer) Discover(ctx context.Context, client Client) ([]schema.Capability, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := client.Call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, &ProtocolError{Method: "tools/list", Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, &ProtocolError{Method: "tools/list", Err: errors.New("response has no result")}
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Method: "tools/list", Err: fmt.Errorf("malformed result: %w", err)}
	}
	if result.Tools == nil {
		return nil, &ProtocolError{Method: "tools/list", Err: errors.New("result has no tools array")}
	}
	if result.NextCursor != "" {
		logger.Warn("tools/list is paginated; only the first page is analyzed", "next_cursor", result.NextCursor)
	}

	capabilities := make([]schema.Capability, 0, len(*result.Tools))
	seen := make(map[string]bool)
	for _, tool := range *result.Tools {
		if tool.Name == "" {
			logger.Warn("dropping tool with empty name")
			continue
		}
		if seen[tool.Name] {
			logger.Warn("dropping duplicate tool", "tool", tool.Name)
			continue
		}
		seen[tool.Name] = true
		capabilities = append(capabilities, buildCapability(tool, logger))
	}
	logger.Info("discovered capabilities", "count", len(capabilities))
	return capabilities, nil
}

func buildCapability(tool toolDescription, logger *slog.Logger) schema.Capability {
	inputSchema := tool.InputSchema
	if len(bytes.TrimSpace(inputSchema)) == 0 || string(bytes.TrimSpace(inputSchema)) == "null" {
		inputSchema = defaultInputSchema
	}
	capability := schema.Capability{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: inputSchema,
	}

	properties, required, err := parseProperties(inputSchema)
	if err != nil {
		logger.Warn("cannot read tool input schema", "tool", tool.Name, "error", err)
	}
	capability.Properties = properties
	capability.Required = required

	validator, err := compileSchema(tool.Name, inputSchema)
	if err != nil {
		logger.Warn("tool input schema does not compile; arguments will not be validated", "tool", tool.Name, "error", err)
	} else {
		capability.Validate = validator
	}
	return capability
}

// parseProperties reads the top-level properties and required list of
// an object schema. Properties are sorted by name.
func parseProperties(raw json.RawMessage) ([]schema.Property, []string, error) {
	var object struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, nil, err
	}

	properties := make([]schema.Property, 0, len(object.Properties))
	for name, definition := range object.Properties {
		properties = append(properties, schema.Property{Name: name, Type: declaredType(definition)})
	}
	sort.Slice(properties, func(i, j int) bool { return properties[i].Name < properties[j].Name })
	return properties, object.Required, nil
}

// declaredType returns a property's JSON Schema type. For a type array
// such as ["string", "null"], the first non-null entry wins.
func declaredType(definition json.RawMessage) string {
	var property struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(definition, &property); err != nil || len(property.Type) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(property.Type, &single); err == nil {
		return single
	}
	var several []string
	if err := json.Unmarshal(property.Type, &several); err == nil {
		for _, candidate := range several {
			if candidate != "null" {
				return candidate
			}
		}
	}
	return ""
}

// compileSchema compiles a tool's input schema. Remote references are
// refused: the schema comes from the server under test.
func compileSchema(toolName string, raw json.RawMessage) (func(map[string]any) error, error) {
	resource := "mem://tools/" + url.PathEscape(toolName) + ".json"

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.LoadURL = func(location string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("refusing to load external schema %s", location)
	}
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, err
	}

	return func(arguments map[string]any) error {
		// Round-trip through JSON so Go numeric types become the
		// json.Number values the validator expects.
		data, err := json.Marshal(arguments)
		if err != nil {
			return fmt.Errorf("encoding arguments: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		var document any
		if err := decoder.Decode(&document); err != nil {
			return fmt.Errorf("decoding arguments: %w", err)
		}
		return compiled.Validate(document)
	}, nil
}
