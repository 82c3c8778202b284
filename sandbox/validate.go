// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ValidationResult holds the result of a validation check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator performs pre-flight validation for a launch. The CLI runs
// it for --dry-run; Controller.Start does not, since a missing
// prerequisite surfaces as a LaunchError anyway.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message, Warning: true})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: false, Message: message})
	v.errors++
}

// ValidateAll runs every check for a launch. caps is the host survey
// from DetectCapabilities; profile is the resolved, unexpanded profile.
func (v *Validator) ValidateAll(caps *Capabilities, profile *Profile, config LaunchConfig) {
	v.ValidateCapabilities(caps, config.Resources.HasLimits())
	v.ValidateTelemetry(caps)
	v.ValidateWorkspace(config.Workspace)
	v.ValidateCommand(config.Command)
	v.ValidateResources(config.Resources)
	v.ValidateProfile(profile)
	v.ValidateProfileSources(profile, config.Workspace)
}

// ValidateCapabilities reports on bwrap, user namespaces and systemd.
func (v *Validator) ValidateCapabilities(caps *Capabilities, wantLimits bool) {
	if caps == nil {
		v.fail("bwrap", "host capabilities not detected")
		return
	}
	if caps.BwrapAvailable {
		v.pass("bwrap", fmt.Sprintf("available: %s (%s)", caps.BwrapPath, caps.BwrapVersion))
	} else {
		v.fail("bwrap", "bubblewrap not found in standard locations")
	}

	if caps.UserNamespacesEnabled {
		v.pass("userns", "user namespaces enabled")
	} else {
		v.fail("userns", "unprivileged user namespaces are disabled (set kernel.unprivileged_userns_clone=1)")
	}

	switch {
	case caps.SystemdUserScopesWork:
		v.pass("systemd", "user scopes supported")
	case !wantLimits:
		v.pass("systemd", "no resource limits requested")
	case caps.SystemdRunAvailable:
		v.warn("systemd", "systemd-run available but cannot create user scopes (resource limits will not be enforced)")
	default:
		v.warn("systemd", "systemd-run not found (resource limits will not be enforced)")
	}
}

// ValidateTelemetry reports on the host facilities the collectors
// read. A missing facility degrades a signal rather than failing the
// session, so these are warnings.
func (v *Validator) ValidateTelemetry(caps *Capabilities) {
	if caps == nil {
		return
	}
	if caps.InotifyAvailable {
		v.pass("inotify", "filesystem collector available")
	} else {
		v.warn("inotify", "cannot open an inotify instance (filesystem signal will be degraded)")
	}
	if caps.ProcNetReadable {
		v.pass("procfs", "/proc/net readable")
	} else {
		v.warn("procfs", "/proc/net/tcp not readable (network signal will be degraded)")
	}
}

// ValidateWorkspace checks that the workspace directory exists.
func (v *Validator) ValidateWorkspace(workspace string) {
	if workspace == "" {
		v.fail("workspace", "workspace path is required")
		return
	}
	absPath, err := filepath.Abs(workspace)
	if err != nil {
		v.fail("workspace", fmt.Sprintf("cannot resolve path: %v", err))
		return
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			v.fail("workspace", fmt.Sprintf("does not exist: %s", absPath))
		} else {
			v.fail("workspace", fmt.Sprintf("cannot access: %v", err))
		}
		return
	}
	if !info.IsDir() {
		v.fail("workspace", fmt.Sprintf("not a directory: %s", absPath))
		return
	}
	v.pass("workspace", fmt.Sprintf("exists: %s", absPath))
}

// ValidateCommand checks that a server command was given.
func (v *Validator) ValidateCommand(command []string) {
	if len(command) == 0 || command[0] == "" {
		v.fail("command", "server command is required")
		return
	}
	v.pass("command", strings.Join(command, " "))
}

// ValidateResources checks that the limits parse.
func (v *Validator) ValidateResources(resources ResourceConfig) {
	if err := resources.Validate(); err != nil {
		v.fail("resources", err.Error())
		return
	}
	if !resources.HasLimits() {
		v.warn("resources", "no resource limits configured")
		return
	}
	v.pass("resources", fmt.Sprintf("memory=%q cpu=%q", resources.MemoryMax, resources.CPUQuota))
}

// ValidateProfile checks that the profile is valid.
func (v *Validator) ValidateProfile(profile *Profile) {
	if profile == nil {
		v.fail("profile", "profile is nil")
		return
	}
	if err := profile.Validate(); err != nil {
		v.fail("profile", err.Error())
		return
	}
	v.pass("profile", fmt.Sprintf("loaded: %s", profile.Name))
}

// ValidateProfileSources checks that all non-optional mount sources
// exist. ${FAKE_HOME} is created by Start and is not checked.
func (v *Validator) ValidateProfileSources(profile *Profile, workspace string) {
	if profile == nil {
		return
	}
	vars := Variables{"WORKSPACE": workspace}

	for _, mount := range profile.Filesystem {
		if mount.Type == MountTypeTmpfs || mount.Type == MountTypeProc || mount.Type == MountTypeDev {
			continue
		}
		if mount.Source == "${FAKE_HOME}" {
			continue
		}

		source := vars.Expand(mount.Source)
		if strings.Contains(source, "${") {
			if mount.Optional {
				continue
			}
			v.fail("mount", fmt.Sprintf("unresolved variable in source: %s", mount.Source))
			continue
		}
		if mount.Glob {
			continue
		}

		if _, err := os.Stat(source); err != nil {
			switch {
			case !os.IsNotExist(err):
				v.fail("mount", fmt.Sprintf("cannot access source %s: %v", source, err))
			case mount.Optional:
				v.warn("mount", fmt.Sprintf("optional source not found: %s -> %s", source, mount.Dest))
			default:
				v.fail("mount", fmt.Sprintf("source not found: %s -> %s", source, mount.Dest))
			}
		}
	}
}

// PrintResults writes validation results to a writer.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		prefix := "✗"
		if r.Passed {
			prefix = "✓"
			if r.Warning {
				prefix = "⚠"
			}
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to analyze")
	}
}
