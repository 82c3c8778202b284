// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatorAccumulation(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	v.pass("a", "ok")
	v.warn("b", "careful")
	v.fail("c", "broken")

	if !v.HasErrors() {
		t.Error("HasErrors() = false after fail")
	}
	results := v.Results()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[1].Passed || !results[1].Warning {
		t.Errorf("warning result = %+v", results[1])
	}
	if results[2].Passed {
		t.Errorf("failure recorded as passed")
	}
}

func TestValidateCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		caps       *Capabilities
		wantLimits bool
		wantErrors bool
		wantWarn   bool
	}{
		{
			name:       "all present",
			caps:       &Capabilities{BwrapAvailable: true, UserNamespacesEnabled: true, SystemdRunAvailable: true, SystemdUserScopesWork: true},
			wantLimits: true,
		},
		{
			name:       "no bwrap",
			caps:       &Capabilities{UserNamespacesEnabled: true},
			wantErrors: true,
		},
		{
			name:       "limits without systemd",
			caps:       &Capabilities{BwrapAvailable: true, UserNamespacesEnabled: true},
			wantLimits: true,
			wantWarn:   true,
		},
		{
			name: "no limits needs no systemd",
			caps: &Capabilities{BwrapAvailable: true, UserNamespacesEnabled: true},
		},
		{
			name:       "not detected",
			wantErrors: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewValidator()
			v.ValidateCapabilities(tt.caps, tt.wantLimits)
			if v.HasErrors() != tt.wantErrors {
				t.Errorf("HasErrors() = %v, want %v: %+v", v.HasErrors(), tt.wantErrors, v.Results())
			}
			warned := false
			for _, result := range v.Results() {
				if result.Warning {
					warned = true
				}
			}
			if warned != tt.wantWarn {
				t.Errorf("warned = %v, want %v", warned, tt.wantWarn)
			}
		})
	}
}

func TestValidateTelemetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		caps     *Capabilities
		warnings int
	}{
		{"both available", &Capabilities{InotifyAvailable: true, ProcNetReadable: true}, 0},
		{"no inotify", &Capabilities{ProcNetReadable: true}, 1},
		{"neither", &Capabilities{}, 2},
		{"not detected", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewValidator()
			v.ValidateTelemetry(tt.caps)
			if v.HasErrors() {
				t.Errorf("telemetry checks must not fail validation: %+v", v.Results())
			}
			warnings := 0
			for _, result := range v.Results() {
				if result.Warning {
					warnings++
				}
			}
			if warnings != tt.warnings {
				t.Errorf("warnings = %d, want %d: %+v", warnings, tt.warnings, v.Results())
			}
		})
	}
}

func TestValidateWorkspace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"exists", dir, false},
		{"empty", "", true},
		{"missing", filepath.Join(dir, "missing"), true},
		{"not a directory", file, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewValidator()
			v.ValidateWorkspace(tt.path)
			if v.HasErrors() != tt.wantErr {
				t.Errorf("HasErrors() = %v, want %v", v.HasErrors(), tt.wantErr)
			}
		})
	}
}

func TestValidateProfileSources(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	profile := &Profile{
		Name: "test",
		Filesystem: []Mount{
			{Source: "${WORKSPACE}", Dest: "/workspace"},
			{Source: "${FAKE_HOME}", Dest: SandboxHome},
			{Source: "/nonexistent/optional", Dest: "/opt/a", Optional: true},
			{Dest: "/tmp", Type: MountTypeTmpfs},
		},
	}

	v := NewValidator()
	v.ValidateProfileSources(profile, workspace)
	if v.HasErrors() {
		t.Fatalf("unexpected errors: %+v", v.Results())
	}

	profile.Filesystem = append(profile.Filesystem, Mount{Source: "/nonexistent/required", Dest: "/opt/b"})
	v = NewValidator()
	v.ValidateProfileSources(profile, workspace)
	if !v.HasErrors() {
		t.Fatal("missing required source not reported")
	}
}

func TestPrintResults(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	v.ValidateCommand([]string{"node", "server.js"})
	v.ValidateResources(ResourceConfig{})

	var buffer bytes.Buffer
	v.PrintResults(&buffer)
	output := buffer.String()
	if !strings.Contains(output, "✓ command: node server.js") {
		t.Errorf("missing command line in %q", output)
	}
	if !strings.Contains(output, "⚠ resources") {
		t.Errorf("missing resources warning in %q", output)
	}
	if !strings.Contains(output, "Ready to analyze") {
		t.Errorf("missing summary in %q", output)
	}

	v.ValidateCommand(nil)
	buffer.Reset()
	v.PrintResults(&buffer)
	if !strings.Contains(buffer.String(), "Validation failed with 1 error(s)") {
		t.Errorf("missing failure summary in %q", buffer.String())
	}
}
