// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultProfile is the profile capability servers run under unless
// the launch config names another.
const DefaultProfile = "capability-server"

// SandboxHome is where the fake home directory is mounted inside the
// sandbox. Decoy artifacts appear under it.
const SandboxHome = "/home/mcp"

// ProfilesConfig is the top level of a profiles YAML document.
type ProfilesConfig struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// ParseProfilesConfig parses a profiles YAML document. Each profile's
// Name is set from its key.
func ParseProfilesConfig(data []byte) (*ProfilesConfig, error) {
	var config ProfilesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	for name, profile := range config.Profiles {
		if profile == nil {
			return nil, fmt.Errorf("profile %q is empty", name)
		}
		profile.Name = name
	}
	return &config, nil
}

// LoadProfilesConfig reads and parses a profiles file.
func LoadProfilesConfig(path string) (*ProfilesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}
	config, err := ParseProfilesConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// ProfileLoader loads and resolves sandbox profiles.
type ProfileLoader struct {
	configs  []*ProfilesConfig
	resolved map[string]*Profile
	logger   *slog.Logger
}

// NewProfileLoader creates a new profile loader.
func NewProfileLoader() *ProfileLoader {
	return &ProfileLoader{
		resolved: make(map[string]*Profile),
		logger:   slog.Default(),
	}
}

// SetLogger replaces the loader's logger.
func (l *ProfileLoader) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// LoadDefaults loads the built-in profiles.
func (l *ProfileLoader) LoadDefaults() error {
	config, err := ParseProfilesConfig([]byte(defaultProfilesYAML))
	if err != nil {
		return fmt.Errorf("failed to parse default profiles: %w", err)
	}
	l.configs = append(l.configs, config)
	l.logger.Debug("loaded default profiles", "count", len(config.Profiles))
	return nil
}

// LoadFile loads profiles from a YAML file. Profiles in later files
// override earlier ones with the same name.
func (l *ProfileLoader) LoadFile(path string) error {
	config, err := LoadProfilesConfig(path)
	if err != nil {
		return err
	}
	l.configs = append(l.configs, config)
	l.resolved = make(map[string]*Profile)
	l.logger.Debug("loaded profiles from file", "path", path, "count", len(config.Profiles))
	return nil
}

// Resolve resolves a profile by name, applying inheritance. The result
// is cached and must not be modified; callers expand it through
// [Variables.ExpandProfile], which clones.
func (l *ProfileLoader) Resolve(name string) (*Profile, error) {
	return l.resolve(name, make(map[string]bool))
}

func (l *ProfileLoader) resolve(name string, visiting map[string]bool) (*Profile, error) {
	if profile, ok := l.resolved[name]; ok {
		return profile, nil
	}
	if visiting[name] {
		return nil, fmt.Errorf("profile inheritance cycle at %q", name)
	}
	visiting[name] = true

	var base *Profile
	for _, config := range l.configs {
		if profile, ok := config.Profiles[name]; ok {
			base = profile
		}
	}
	if base == nil {
		return nil, fmt.Errorf("profile not found: %s", name)
	}

	var profile *Profile
	if base.Inherit != "" {
		parent, err := l.resolve(base.Inherit, visiting)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parent profile %q: %w", base.Inherit, err)
		}
		profile = MergeProfiles(parent, base)
	} else {
		profile = base.Clone()
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}

	l.resolved[name] = profile
	l.logger.Debug("profile resolved",
		"name", name,
		"mounts", len(profile.Filesystem),
		"env_vars", len(profile.Environment),
	)
	return profile, nil
}

// List returns all available profile names.
func (l *ProfileLoader) List() []string {
	names := make(map[string]bool)
	for _, config := range l.configs {
		for name := range config.Profiles {
			names[name] = true
		}
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// LoadProfiles returns a loader holding the built-in profiles plus
// path, when path is non-empty.
func LoadProfiles(path string, logger *slog.Logger) (*ProfileLoader, error) {
	loader := NewProfileLoader()
	loader.SetLogger(logger)
	if err := loader.LoadDefaults(); err != nil {
		return nil, err
	}
	if path != "" {
		if err := loader.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

// defaultProfilesYAML contains the built-in profile definitions.
// ${WORKSPACE} is the prepared server checkout and ${FAKE_HOME} the
// per-session home directory holding the decoys.
const defaultProfilesYAML = `
profiles:
  capability-server:
    description: "Untrusted capability server with a fake home"

    filesystem:
      - source: ${WORKSPACE}
        dest: /workspace
        mode: rw
      - source: ${FAKE_HOME}
        dest: /home/mcp
        mode: rw
      - type: tmpfs
        dest: /tmp
      - source: /usr
        dest: /usr
        mode: ro
      - source: /bin
        dest: /bin
        mode: ro
      - source: /sbin
        dest: /sbin
        mode: ro
        optional: true
      - source: /lib
        dest: /lib
        mode: ro
      - source: /lib64
        dest: /lib64
        mode: ro
        optional: true
      - source: /etc/resolv.conf
        dest: /etc/resolv.conf
        mode: ro
        optional: true
      - source: /etc/hosts
        dest: /etc/hosts
        mode: ro
        optional: true
      - source: /etc/ssl
        dest: /etc/ssl
        mode: ro
        optional: true
      - source: /etc/ca-certificates
        dest: /etc/ca-certificates
        mode: ro
        optional: true
      - source: /etc/passwd
        dest: /etc/passwd
        mode: ro
      - source: /etc/group
        dest: /etc/group
        mode: ro
      - source: /etc/alternatives
        dest: /etc/alternatives
        mode: ro
        optional: true
      - source: /nix
        dest: /nix
        mode: ro
        optional: true

    namespaces:
      pid: true
      net: false
      ipc: true
      uts: true
      cgroup: false

    environment:
      PATH: "/workspace/node_modules/.bin:/workspace/.venv/bin:/usr/local/bin:/usr/bin:/bin"
      HOME: "/home/mcp"
      USER: "mcp"
      LANG: "C.UTF-8"
      MCP_SANDBOX: "1"

    resources:
      tasks_max: 256

    security:
      new_session: true
      die_with_parent: true
      no_new_privs: true

    create_dirs:
      - /tmp
      - /var/tmp

  capability-server-readonly:
    description: "Capability server with a read-only workspace"
    inherit: capability-server

    filesystem:
      - source: ${WORKSPACE}
        dest: /workspace
        mode: ro
`
