// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interrogate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vvatta/mcp-automatic-review/internal/mcptest"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	server := &mcptest.Server{Tools: []mcptest.Tool{
		{
			Name:        "read_file",
			Description: "Read a file",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"limit": {"type": "integer"},
					"encoding": {"type": ["null", "string"]},
					"extra": {}
				},
				"required": ["path"]
			}`),
		},
		{Name: "", Description: "nameless"},
		{Name: "no_schema"},
		{Name: "broken", InputSchema: json.RawMessage(`{"type": 12}`)},
		{Name: "read_file", Description: "duplicate"},
	}}
	client := newStdioPair(t, server)

	discoverer := &Discoverer{}
	capabilities, err := discoverer.Discover(context.Background(), client)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(capabilities) != 3 {
		t.Fatalf("got %d capabilities, want 3: %+v", len(capabilities), capabilities)
	}

	readFile := capabilities[0]
	if readFile.Name != "read_file" || readFile.Description != "Read a file" {
		t.Errorf("first capability = %s %q", readFile.Name, readFile.Description)
	}
	wantProperties := []struct{ name, typ string }{
		{"encoding", "string"},
		{"extra", ""},
		{"limit", "integer"},
		{"path", "string"},
	}
	if len(readFile.Properties) != len(wantProperties) {
		t.Fatalf("properties = %+v", readFile.Properties)
	}
	for i, want := range wantProperties {
		got := readFile.Properties[i]
		if got.Name != want.name || got.Type != want.typ {
			t.Errorf("property %d = %+v, want %s:%s", i, got, want.name, want.typ)
		}
	}
	if len(readFile.Required) != 1 || readFile.Required[0] != "path" {
		t.Errorf("required = %v", readFile.Required)
	}
	if readFile.Validate == nil {
		t.Fatal("read_file has no validator")
	}
	if err := readFile.Validate(map[string]any{"path": "/etc/hosts", "limit": 42}); err != nil {
		t.Errorf("valid arguments rejected: %v", err)
	}
	if err := readFile.Validate(map[string]any{"limit": 42}); err == nil {
		t.Error("missing required property accepted")
	}
	if err := readFile.Validate(map[string]any{"path": "/etc/hosts", "limit": 4.5}); err == nil {
		t.Error("fractional limit accepted for an integer property")
	}

	if capabilities[1].Name != "no_schema" || capabilities[1].Validate == nil {
		t.Errorf("no_schema capability = %+v", capabilities[1])
	}
	if capabilities[2].Name != "broken" || capabilities[2].Validate != nil {
		t.Errorf("broken schema should have nil validator: %+v", capabilities[2])
	}
}

func TestDiscoverProtocolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		server *mcptest.Server
	}{
		{"rpc error", &mcptest.Server{ToolsListError: &mcptest.RPCError{Code: mcptest.CodeInternalError, Message: "boom"}}},
		{"null result", &mcptest.Server{ToolsListResult: json.RawMessage(`null`)}},
		{"tools not an array", &mcptest.Server{ToolsListResult: json.RawMessage(`{"tools": "many"}`)}},
		{"tools missing", &mcptest.Server{ToolsListResult: json.RawMessage(`{"items": []}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newStdioPair(t, tt.server)
			_, err := (&Discoverer{}).Discover(context.Background(), client)
			var protocolErr *ProtocolError
			if !errors.As(err, &protocolErr) {
				t.Fatalf("error = %v, want *ProtocolError", err)
			}
			if protocolErr.Method != "tools/list" {
				t.Errorf("method = %q", protocolErr.Method)
			}
		})
	}
}

func TestDiscoverEmptyToolList(t *testing.T) {
	t.Parallel()

	client := newStdioPair(t, &mcptest.Server{})
	capabilities, err := (&Discoverer{}).Discover(context.Background(), client)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(capabilities) != 0 {
		t.Errorf("got %d capabilities", len(capabilities))
	}
}
