// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Capabilities is a one-time survey of the host: what the sandbox needs
// to launch a server, and what the collectors need to observe it.
type Capabilities struct {
	BwrapAvailable bool
	BwrapPath      string
	BwrapVersion   string

	// UserNamespacesEnabled is true when bwrap could create an
	// unprivileged user namespace.
	UserNamespacesEnabled bool

	SystemdRunAvailable   bool
	SystemdUserScopesWork bool

	// InotifyAvailable is true when an inotify instance could be
	// opened. The filesystem collector depends on it.
	InotifyAvailable bool

	// ProcNetReadable is true when /proc/net/tcp can be read. The
	// network collector degrades without it.
	ProcNetReadable bool
}

// DetectCapabilities inspects the host. It executes bwrap and
// systemd-run, so callers should detect once per process.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{
		InotifyAvailable: inotifyWorks(),
		ProcNetReadable:  readable("/proc/net/tcp"),
	}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
		caps.UserNamespacesEnabled = userNamespacesWork(path)
	}

	if _, err := exec.LookPath("systemd-run"); err == nil {
		caps.SystemdRunAvailable = true
		caps.SystemdUserScopesWork = exec.Command("systemd-run", "--user", "--scope", "--quiet", "--", "true").Run() == nil
	}
	return caps
}

// CanRunSandbox reports whether a server can be launched at all.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// SkipReason returns why a server cannot be launched, or "" if it can.
func (c *Capabilities) SkipReason() string {
	switch {
	case !c.BwrapAvailable:
		return "bubblewrap not installed"
	case !c.UserNamespacesEnabled:
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	default:
		return ""
	}
}

// userNamespacesWork honors the Debian sysctl when present and
// otherwise tries an unshare.
func userNamespacesWork(bwrapPath string) bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	return exec.Command(bwrapPath, "--unshare-user", "--ro-bind", "/", "/", "--", "true").Run() == nil
}

func inotifyWorks() bool {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}

func readable(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
