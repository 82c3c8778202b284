// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/vvatta/mcp-automatic-review/decoy"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

const testSandboxHome = "/home/mcp"

func startFilesystemCollector(t *testing.T, home string, registry *decoy.Registry) *FilesystemCollector {
	t.Helper()
	collector := NewFilesystemCollector(nil)
	err := collector.Start(context.Background(), Target{
		HostHome:    home,
		SandboxHome: testSandboxHome,
		Decoys:      registry,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { collector.Stop() })
	return collector
}

func TestFilesystemCollectorReportsDecoyReads(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	registry, err := decoy.Plant(home, testSandboxHome, decoy.DefaultTemplates())
	if err != nil {
		t.Fatalf("Plant failed: %v", err)
	}
	collector := startFilesystemCollector(t, home, registry)

	key, ok := registry.BySandboxPath(testSandboxHome + "/.ssh/id_rsa")
	if !ok {
		t.Fatal("id_rsa decoy not planted")
	}
	if _, err := os.ReadFile(key.HostPath); err != nil {
		t.Fatal(err)
	}

	events := collector.Stop()
	if len(events) == 0 {
		t.Fatal("no events for decoy read")
	}
	sawOpen := false
	for _, event := range events {
		if event.File.Path != key.SandboxPath {
			t.Errorf("unexpected path %q", event.File.Path)
			continue
		}
		if !event.File.Decoy || event.Severity != schema.SeverityCritical {
			t.Errorf("decoy event not tagged: %+v severity %s", event.File, event.Severity)
		}
		if event.File.Op == FileOpen {
			sawOpen = true
		}
	}
	if !sawOpen {
		t.Errorf("no open event in %+v", events)
	}
	if !key.Touched() {
		t.Error("decoy not marked touched")
	}
	if touched := registry.Touched(); len(touched) != 1 {
		t.Errorf("%d decoys touched, want 1", len(touched))
	}
}

func TestFilesystemCollectorAllowlistAndTranslation(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	for _, directory := range []string{".cache", "projects"} {
		if err := os.MkdirAll(filepath.Join(home, directory), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	collector := startFilesystemCollector(t, home, nil)

	if err := os.WriteFile(filepath.Join(home, ".cache", "index"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "projects", "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(home, "projects", "notes.txt")); err != nil {
		t.Fatal(err)
	}

	events := collector.Stop()
	ops := make(map[string]bool)
	for _, event := range events {
		if event.File.Path != testSandboxHome+"/projects/notes.txt" {
			t.Errorf("unexpected event %+v", event.File)
			continue
		}
		if event.File.Decoy {
			t.Error("ordinary file tagged as decoy")
		}
		ops[event.File.Op] = true
	}
	for _, op := range []string{FileCreate, FileModify, FileDelete} {
		if !ops[op] {
			t.Errorf("missing %s event; got %v", op, ops)
		}
	}
}

func TestFilesystemCollectorMissingHome(t *testing.T) {
	t.Parallel()

	collector := NewFilesystemCollector(nil)
	err := collector.Start(context.Background(), Target{HostHome: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("Start succeeded on a missing home")
	}
	if collector.Healthy() {
		t.Error("collector healthy after failed start")
	}
}

func TestParseInotifyEvents(t *testing.T) {
	t.Parallel()

	encode := func(wd int32, mask uint32, name string) []byte {
		padded := 0
		if name != "" {
			padded = (len(name) + 1 + 15) &^ 15
		}
		record := make([]byte, unix.SizeofInotifyEvent+padded)
		binary.NativeEndian.PutUint32(record[0:4], uint32(wd))
		binary.NativeEndian.PutUint32(record[4:8], mask)
		binary.NativeEndian.PutUint32(record[12:16], uint32(padded))
		copy(record[unix.SizeofInotifyEvent:], name)
		return record
	}

	buffer := append(encode(1, unix.IN_OPEN, "id_rsa"), encode(2, unix.IN_CREATE|unix.IN_ISDIR, "new")...)
	buffer = append(buffer, encode(-1, unix.IN_Q_OVERFLOW, "")...)
	// A truncated trailing record is ignored.
	buffer = append(buffer, 0, 0, 0)

	records := parseInotifyEvents(buffer)
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].wd != 1 || records[0].name != "id_rsa" || records[0].mask != unix.IN_OPEN {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].name != "new" || records[1].mask&unix.IN_ISDIR == 0 {
		t.Errorf("record 1 = %+v", records[1])
	}
	if records[2].wd != -1 || records[2].name != "" {
		t.Errorf("record 2 = %+v", records[2])
	}
}

func TestOperation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mask uint32
		want string
	}{
		{unix.IN_OPEN, FileOpen},
		{unix.IN_ACCESS, FileAccess},
		{unix.IN_MODIFY, FileModify},
		{unix.IN_CREATE, FileCreate},
		{unix.IN_MOVED_TO, FileCreate},
		{unix.IN_DELETE, FileDelete},
		{unix.IN_MOVED_FROM, FileDelete},
		{unix.IN_CLOSE_NOWRITE, ""},
	}
	for _, tt := range tests {
		got, ok := operation(tt.mask)
		if ok != (tt.want != "") || got != tt.want {
			t.Errorf("operation(%#x) = %q, %v; want %q", tt.mask, got, ok, tt.want)
		}
	}
}
