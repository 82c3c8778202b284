// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit = "abc1234"
	GitDirty = "false"
	if strings.Contains(Info(), "-dirty") {
		t.Fatalf("Info() = %q, clean build marked dirty", Info())
	}
	GitDirty = "true"
	if !strings.Contains(Info(), "abc1234-dirty") {
		t.Fatalf("Info() = %q, want abc1234-dirty", Info())
	}
}

func TestFillFromSettings(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	savedDirty := GitDirty
	t.Cleanup(func() { GitDirty = savedDirty })
	GitDirty = ""

	got := fillFromSettings(build{}, settings)
	if got.commit != "0123456789ab" || got.time != "2026-03-01T10:00:00Z" || !got.dirty {
		t.Errorf("fillFromSettings = %+v", got)
	}

	injected := fillFromSettings(build{commit: "release"}, settings)
	if injected.commit != "release" {
		t.Errorf("injected commit overwritten: %+v", injected)
	}
}

func TestUserAgent(t *testing.T) {
	if got, want := UserAgent(), "mcp-sandbox/"+Version; got != want {
		t.Fatalf("UserAgent() = %q, want %q", got, want)
	}
}
