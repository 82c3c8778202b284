// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// BwrapOptions holds options for building a bwrap command.
type BwrapOptions struct {
	// Profile is the resolved and expanded profile to use.
	Profile *Profile

	// UnshareNet forces an empty network namespace regardless of the
	// profile.
	UnshareNet bool

	// Command is the command to run inside the sandbox.
	Command []string

	// ExtraEnv overrides profile environment variables.
	ExtraEnv map[string]string

	// WorkDir is the working directory inside the sandbox. Empty
	// leaves bwrap's default.
	WorkDir string
}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string
	env  map[string]string
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{env: make(map[string]string)}
}

// Build constructs the bwrap arguments from options.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.Profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	b.args = []string{}
	b.env = make(map[string]string)

	namespaces := opts.Profile.Namespaces
	if opts.UnshareNet {
		namespaces.Net = true
	}
	b.addNamespaces(namespaces)
	b.addSecurity(opts.Profile.Security)
	b.addBaseMounts()

	if err := b.addProfileMounts(opts.Profile); err != nil {
		return nil, err
	}

	for _, dir := range opts.Profile.CreateDirs {
		b.args = append(b.args, "--dir", dir)
	}

	if opts.WorkDir != "" {
		b.args = append(b.args, "--chdir", opts.WorkDir)
	}

	// The sandbox never inherits the analyzer's environment.
	b.args = append(b.args, "--clearenv")

	for key, value := range opts.Profile.Environment {
		b.env[key] = value
	}
	for key, value := range opts.ExtraEnv {
		b.env[key] = value
	}

	envKeys := make([]string, 0, len(b.env))
	for key := range b.env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		b.args = append(b.args, "--setenv", key, b.env[key])
	}

	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)

	return b.args, nil
}

func (b *BwrapBuilder) addNamespaces(ns NamespaceConfig) {
	if ns.PID {
		b.args = append(b.args, "--unshare-pid")
	}
	if ns.Net {
		b.args = append(b.args, "--unshare-net")
	}
	if ns.IPC {
		b.args = append(b.args, "--unshare-ipc")
	}
	if ns.UTS {
		b.args = append(b.args, "--unshare-uts")
	}
	if ns.Cgroup {
		b.args = append(b.args, "--unshare-cgroup")
	}
	if ns.User {
		b.args = append(b.args, "--unshare-user")
	}
}

func (b *BwrapBuilder) addSecurity(sec SecurityConfig) {
	if sec.NewSession {
		b.args = append(b.args, "--new-session")
	}
	if sec.DieWithParent {
		b.args = append(b.args, "--die-with-parent")
	}
	// --cap-drop ALL and PR_SET_NO_NEW_PRIVS are always set by bwrap.
}

func (b *BwrapBuilder) addBaseMounts() {
	b.args = append(b.args, "--proc", "/proc")
	b.args = append(b.args, "--dev", "/dev")
}

func (b *BwrapBuilder) addProfileMounts(profile *Profile) error {
	for _, mount := range profile.Filesystem {
		source := mount.Source

		switch mount.Type {
		case MountTypeTmpfs:
			b.args = append(b.args, "--tmpfs", mount.Dest)

		case MountTypeProc:
			b.args = append(b.args, "--proc", mount.Dest)

		case MountTypeDev:
			b.args = append(b.args, "--dev", mount.Dest)

		case MountTypeDevBind:
			if mount.Optional && !exists(source) {
				continue
			}
			b.args = append(b.args, "--dev-bind", source, mount.Dest)

		default:
			if mount.Glob {
				matches, err := filepath.Glob(source)
				if err != nil {
					return fmt.Errorf("invalid glob pattern %q: %w", source, err)
				}
				for _, match := range matches {
					b.addBind(match, filepath.Join(mount.Dest, filepath.Base(match)), mount.Mode)
				}
				continue
			}
			if mount.Optional && !exists(source) {
				continue
			}
			b.addBind(source, mount.Dest, mount.Mode)
		}
	}
	return nil
}

func (b *BwrapBuilder) addBind(source, dest, mode string) {
	if mode == MountModeRO {
		b.args = append(b.args, "--ro-bind", source, dest)
	} else {
		b.args = append(b.args, "--bind", source, dest)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// BwrapPath returns the path to the bwrap executable.
func BwrapPath() (string, error) {
	for _, path := range []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	} {
		if exists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}
