// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vvatta/mcp-automatic-review/lib/config"
	"github.com/vvatta/mcp-automatic-review/lib/evidence"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
	"github.com/vvatta/mcp-automatic-review/sandbox"
)

func TestLoadStatic(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(directory, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name    string
		path    string
		want    schema.StaticSummary
		wantErr bool
	}{
		{"no file", "", schema.StaticSummary{}, false},
		{"valid", write("ok.json", `{"total":4,"critical":1,"high":2,"medium":1,"low":0}`), schema.StaticSummary{Total: 4, Critical: 1, High: 2, Medium: 1}, false},
		{"malformed", write("bad.json", `{"total":`), schema.StaticSummary{}, true},
		{"negative", write("negative.json", `{"critical":-1}`), schema.StaticSummary{}, true},
		{"missing", filepath.Join(directory, "missing.json"), schema.StaticSummary{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := loadStatic(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadStatic error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("loadStatic = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAttacks(t *testing.T) {
	t.Parallel()

	attacks, err := parseAttacks([]string{"sql-injection", "xxe"})
	if err != nil {
		t.Fatalf("parseAttacks failed: %v", err)
	}
	if len(attacks) != 2 || attacks[0] != schema.AttackSQLInjection || attacks[1] != schema.AttackXXE {
		t.Errorf("attacks = %v", attacks)
	}
	if attacks, err := parseAttacks(nil); err != nil || attacks != nil {
		t.Errorf("parseAttacks(nil) = %v, %v", attacks, err)
	}
	for _, bad := range []string{"control", "rowhammer"} {
		if _, err := parseAttacks([]string{bad}); err == nil {
			t.Errorf("parseAttacks(%q) accepted", bad)
		}
	}
}

func TestLaunchConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.ServerCommand = []string{"node", "index.js"}
	launch := launchConfig(cfg, "/srv/server", "capability-server")
	if launch.Transport != "" || launch.Workspace != "/srv/server" || launch.Command[0] != "node" {
		t.Errorf("stdio launch = %+v", launch)
	}
	if launch.Resources.MemoryMax != "512M" || launch.Resources.CPUQuota != "100%" {
		t.Errorf("resources = %+v", launch.Resources)
	}

	cfg.ServerURL = "http://127.0.0.1:8080/mcp"
	if launch := launchConfig(cfg, "/srv/server", "capability-server"); launch.Transport != sandbox.TransportHTTP {
		t.Errorf("transport = %q, want http", launch.Transport)
	}
}

func TestBuildCollectors(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if got := len(buildCollectors(cfg, nil)); got != 3 {
		t.Errorf("default collectors = %d, want 3", got)
	}
	cfg.EnableNetworkMonitoring = false
	cfg.EnableProcessMonitoring = false
	collectors := buildCollectors(cfg, nil)
	if len(collectors) != 1 || collectors[0].Name() != "filesystem" {
		t.Errorf("collectors = %v", collectors)
	}
	cfg.EnableFilesystemMonitoring = false
	if collectors := buildCollectors(cfg, nil); collectors == nil || len(collectors) != 0 {
		t.Errorf("disabled telemetry = %#v, want empty non-nil", collectors)
	}
}

func TestBuildSinks(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	sinks, cleanup, err := buildSinks(cfg, nil)
	if err != nil || len(sinks) != 0 {
		t.Fatalf("default sinks = %v, %v", sinks, err)
	}
	cleanup()

	cfg.Evidence.Path = filepath.Join(t.TempDir(), "session.evidence")
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "session.prom")
	sinks, _, err = buildSinks(cfg, nil)
	if err != nil {
		t.Fatalf("buildSinks failed: %v", err)
	}
	var names []string
	for _, sink := range sinks {
		names = append(names, sink.Name())
	}
	if strings.Join(names, ",") != "evidence,metrics" {
		t.Errorf("sinks = %v", names)
	}

	cfg.Evidence.Compression = "brotli"
	if _, _, err := buildSinks(cfg, nil); err == nil {
		t.Error("unknown compression accepted")
	}
}

func TestReadIdentities(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "key.txt")
	content := "# created: 2026-03-01\n# public key: age1example\nAGE-SECRET-KEY-1EXAMPLE\n\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	identities, err := readIdentities(path)
	if err != nil {
		t.Fatalf("readIdentities failed: %v", err)
	}
	if len(identities) != 1 || identities[0] != "AGE-SECRET-KEY-1EXAMPLE" {
		t.Errorf("identities = %v", identities)
	}
}

func TestPrintBundleSummary(t *testing.T) {
	t.Parallel()

	bundle := &evidence.Bundle{
		Session: schema.Session{ID: "s1"},
		Findings: []schema.Finding{
			{Severity: schema.SeverityCritical, Category: schema.CategoryHoneypotAccess, Title: "Planted credential accessed"},
		},
		Report: schema.RiskReport{
			Status:           schema.StatusCompleted,
			OverallRiskScore: 30,
			DegradedSignals:  []string{"network"},
		},
	}
	var buffer bytes.Buffer
	printBundleSummary(&buffer, bundle, evidence.Digest{})
	output := buffer.String()
	for _, want := range []string{"Session:      s1", "Risk score:   30/100", "[CRITICAL] honeypot-access", "Degraded:     network"} {
		if !strings.Contains(output, want) {
			t.Errorf("missing %q in:\n%s", want, output)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var jsonOutput bytes.Buffer
	newLogger(&jsonOutput, false).Info("launched", "pid", 42)
	if !strings.HasPrefix(jsonOutput.String(), "{") || !strings.Contains(jsonOutput.String(), `"pid":42`) {
		t.Errorf("non-terminal logger should emit JSON, got %q", jsonOutput.String())
	}

	var textOutput bytes.Buffer
	newLogger(&textOutput, true).Info("launched", "pid", 42)
	if !strings.Contains(textOutput.String(), "pid=42") {
		t.Errorf("terminal logger should emit text, got %q", textOutput.String())
	}
}
