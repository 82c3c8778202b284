// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Profile defines the sandbox configuration a capability server runs
// under.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Inherit     string            `yaml:"inherit,omitempty"`
	Filesystem  []Mount           `yaml:"filesystem,omitempty"`
	Namespaces  NamespaceConfig   `yaml:"namespaces,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Resources   ResourceConfig    `yaml:"resources,omitempty"`
	Security    SecurityConfig    `yaml:"security,omitempty"`
	CreateDirs  []string          `yaml:"create_dirs,omitempty"`
}

// Mount defines a filesystem mount in the sandbox.
type Mount struct {
	Source   string `yaml:"source,omitempty"`
	Dest     string `yaml:"dest"`
	Mode     string `yaml:"mode,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
	Glob     bool   `yaml:"glob,omitempty"`
}

// MountType constants for the Type field.
const (
	MountTypeBind    = ""         // Default: bind mount
	MountTypeTmpfs   = "tmpfs"    // tmpfs mount
	MountTypeProc    = "proc"     // /proc
	MountTypeDev     = "dev"      // /dev (minimal)
	MountTypeDevBind = "dev-bind" // Device node bind
)

// MountMode constants for the Mode field.
const (
	MountModeRO = "ro" // Read-only
	MountModeRW = "rw" // Read-write
)

// NamespaceConfig defines which namespaces to unshare.
type NamespaceConfig struct {
	PID    bool `yaml:"pid"`
	Net    bool `yaml:"net"`
	IPC    bool `yaml:"ipc"`
	UTS    bool `yaml:"uts"`
	Cgroup bool `yaml:"cgroup"`
	User   bool `yaml:"user"`
}

// ResourceConfig defines resource limits applied through a systemd
// scope.
type ResourceConfig struct {
	TasksMax  int    `yaml:"tasks_max,omitempty"`
	MemoryMax string `yaml:"memory_max,omitempty"`
	CPUQuota  string `yaml:"cpu_quota,omitempty"`
}

// HasLimits returns true if any resource limits are configured.
func (r ResourceConfig) HasLimits() bool {
	return r.TasksMax > 0 || r.MemoryMax != "" || r.CPUQuota != ""
}

// Validate checks that MemoryMax and CPUQuota parse.
func (r ResourceConfig) Validate() error {
	if _, err := ParseMemoryLimit(r.MemoryMax); err != nil {
		return err
	}
	if _, err := ParseCPUQuota(r.CPUQuota); err != nil {
		return err
	}
	if r.TasksMax < 0 {
		return fmt.Errorf("tasks_max must be >= 0")
	}
	return nil
}

// SecurityConfig defines security settings for the sandbox.
type SecurityConfig struct {
	NewSession    bool `yaml:"new_session"`
	DieWithParent bool `yaml:"die_with_parent"`
	NoNewPrivs    bool `yaml:"no_new_privs"`
}

// Clone creates a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		Name:        p.Name,
		Description: p.Description,
		Inherit:     p.Inherit,
		Namespaces:  p.Namespaces,
		Resources:   p.Resources,
		Security:    p.Security,
	}
	if p.Filesystem != nil {
		clone.Filesystem = make([]Mount, len(p.Filesystem))
		copy(clone.Filesystem, p.Filesystem)
	}
	if p.CreateDirs != nil {
		clone.CreateDirs = make([]string, len(p.CreateDirs))
		copy(clone.CreateDirs, p.CreateDirs)
	}
	if p.Environment != nil {
		clone.Environment = make(map[string]string, len(p.Environment))
		for k, v := range p.Environment {
			clone.Environment[k] = v
		}
	}
	return clone
}

// MergeProfiles merges child profile settings into parent. Child
// settings override parent settings. Mount and directory order is
// preserved: a child mount replaces the parent mount with the same
// dest in place, new mounts are appended.
func MergeProfiles(parent, child *Profile) *Profile {
	result := parent.Clone()
	result.Name = child.Name
	result.Inherit = ""

	if child.Description != "" {
		result.Description = child.Description
	}

	for _, mount := range child.Filesystem {
		replaced := false
		for i := range result.Filesystem {
			if result.Filesystem[i].Dest == mount.Dest {
				result.Filesystem[i] = mount
				replaced = true
				break
			}
		}
		if !replaced {
			result.Filesystem = append(result.Filesystem, mount)
		}
	}

	if child.Namespaces != (NamespaceConfig{}) {
		result.Namespaces = child.Namespaces
	}

	if len(child.Environment) > 0 {
		if result.Environment == nil {
			result.Environment = make(map[string]string)
		}
		for k, v := range child.Environment {
			result.Environment[k] = v
		}
	}

	if child.Resources.TasksMax != 0 {
		result.Resources.TasksMax = child.Resources.TasksMax
	}
	if child.Resources.MemoryMax != "" {
		result.Resources.MemoryMax = child.Resources.MemoryMax
	}
	if child.Resources.CPUQuota != "" {
		result.Resources.CPUQuota = child.Resources.CPUQuota
	}

	if child.Security != (SecurityConfig{}) {
		result.Security = child.Security
	}

	seen := make(map[string]bool, len(result.CreateDirs))
	for _, dir := range result.CreateDirs {
		seen[dir] = true
	}
	for _, dir := range child.CreateDirs {
		if !seen[dir] {
			seen[dir] = true
			result.CreateDirs = append(result.CreateDirs, dir)
		}
	}

	return result
}

// Variables holds the variable values for expansion in profiles.
type Variables map[string]string

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand expands ${VAR} references. Names missing from the map fall
// back to the environment; unknown names are left as written.
func (v Variables) Expand(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := v[name]; ok {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match
	})
}

// ExpandProfile expands all variables in a profile.
func (v Variables) ExpandProfile(p *Profile) *Profile {
	result := p.Clone()
	for i := range result.Filesystem {
		result.Filesystem[i].Source = v.Expand(result.Filesystem[i].Source)
		result.Filesystem[i].Dest = v.Expand(result.Filesystem[i].Dest)
	}
	for key, value := range result.Environment {
		result.Environment[key] = v.Expand(value)
	}
	for i := range result.CreateDirs {
		result.CreateDirs[i] = v.Expand(result.CreateDirs[i])
	}
	return result
}

// Validate checks that a profile is valid.
func (p *Profile) Validate() error {
	var problems []string

	for i, m := range p.Filesystem {
		if m.Dest == "" {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: dest is required", i))
		}
		if m.Type == MountTypeBind && m.Source == "" {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: source is required for bind mounts", i))
		}
		if m.Mode != "" && m.Mode != MountModeRO && m.Mode != MountModeRW {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: invalid mode %q (must be ro or rw)", i, m.Mode))
		}
		switch m.Type {
		case MountTypeBind, MountTypeTmpfs, MountTypeProc, MountTypeDev, MountTypeDevBind:
		default:
			problems = append(problems, fmt.Sprintf("filesystem[%d]: unknown mount type %q", i, m.Type))
		}
	}

	if err := p.Resources.Validate(); err != nil {
		problems = append(problems, "resources: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("profile %q validation failed:\n  %s", p.Name, strings.Join(problems, "\n  "))
	}
	return nil
}
