// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SystemdScope wraps command execution in a transient systemd scope so
// resource limits apply to the whole sandbox process tree.
type SystemdScope struct {
	// Name is the unit name (e.g., "mcp-sandbox-<session>").
	Name string

	// Resources defines the resource limits.
	Resources ResourceConfig

	// User runs the scope under the user manager (--user).
	User bool

	// lookPath is exec.LookPath, replaced in tests.
	lookPath func(string) (string, error)
}

// NewSystemdScope creates a new user-scope wrapper.
func NewSystemdScope(name string, resources ResourceConfig) *SystemdScope {
	return &SystemdScope{
		Name:      name,
		Resources: resources,
		User:      true,
		lookPath:  exec.LookPath,
	}
}

// Available checks if systemd-run is on PATH.
func (s *SystemdScope) Available() bool {
	_, err := s.lookPath("systemd-run")
	return err == nil
}

// WrapCommand wraps a command with systemd-run. The command is
// returned unchanged when systemd-run is missing or no limits are
// configured.
func (s *SystemdScope) WrapCommand(cmd []string) []string {
	if !s.Available() || !s.Resources.HasLimits() {
		return cmd
	}

	args := []string{"systemd-run"}
	if s.User {
		args = append(args, "--user")
	}
	args = append(args, "--scope", "--quiet", "--collect")
	if s.Name != "" {
		args = append(args, "--unit="+s.Name)
	}

	if s.Resources.TasksMax > 0 {
		args = append(args, fmt.Sprintf("--property=TasksMax=%d", s.Resources.TasksMax))
	}
	if s.Resources.MemoryMax != "" {
		args = append(args, "--property=MemoryMax="+s.Resources.MemoryMax)
	}
	if s.Resources.CPUQuota != "" {
		args = append(args, "--property=CPUQuota="+s.Resources.CPUQuota)
	}

	args = append(args, "--")
	return append(args, cmd...)
}

// ParseMemoryLimit parses a memory limit string (e.g., "2G", "512M").
// Returns the value in bytes, or 0 if unlimited/empty.
func ParseMemoryLimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "infinity" {
		return 0, nil
	}

	var multiplier uint64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
		numStr = s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
		numStr = s[:len(s)-1]
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
		numStr = s[:len(s)-1]
	case strings.HasSuffix(s, "T"):
		multiplier = 1 << 40
		numStr = s[:len(s)-1]
	}

	value, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	return value * multiplier, nil
}

// ParseCPUQuota parses a CPU quota string (e.g., "200%", "100%").
// Returns the percentage, or 0 if unlimited/empty.
func ParseCPUQuota(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "infinity" {
		return 0, nil
	}
	value, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
	if err != nil {
		return 0, fmt.Errorf("invalid CPU quota %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid CPU quota %q: negative", s)
	}
	return value, nil
}
