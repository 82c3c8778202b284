// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vvatta/mcp-automatic-review/lib/testutil"
)

// directLauncher runs the planned command on the host without bwrap.
func directLauncher(plan *Plan) ([]string, error) {
	return plan.Command, nil
}

func newTestController(t *testing.T, config Config) *Controller {
	t.Helper()
	if config.RuntimeRoot == "" {
		config.RuntimeRoot = t.TempDir()
	}
	if config.Launcher == nil {
		config.Launcher = directLauncher
	}
	if config.HealthInterval == 0 {
		config.HealthInterval = 10 * time.Millisecond
	}
	if config.StopGrace == 0 {
		config.StopGrace = time.Second
	}
	controller, err := New(config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return controller
}

func runtimeEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("reading runtime root: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestControllerStartStop(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	controller := newTestController(t, Config{RuntimeRoot: root})

	handle, err := controller.Start(context.Background(), LaunchConfig{
		SessionID: "s1",
		Workspace: t.TempDir(),
		Command:   []string{"/bin/cat"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stdin, stdout, err := handle.Stdio()
	if err != nil {
		t.Fatalf("Stdio failed: %v", err)
	}
	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(stdout).ReadString('\n')
		lines <- line
	}()
	if _, err := stdin.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := testutil.RequireReceive(t, lines, 5*time.Second, "echo from server"); got != "ping\n" {
		t.Errorf("echo = %q", got)
	}

	registry, err := handle.Decoys()
	if err != nil {
		t.Fatalf("Decoys failed: %v", err)
	}
	fakeHome, _ := handle.FakeHome()
	if len(registry.Artifacts()) != 3 {
		t.Fatalf("planted %d decoys, want 3", len(registry.Artifacts()))
	}
	for _, artifact := range registry.Artifacts() {
		if !strings.HasPrefix(artifact.HostPath, fakeHome) {
			t.Errorf("decoy %s outside fake home %s", artifact.HostPath, fakeHome)
		}
		if !strings.HasPrefix(artifact.SandboxPath, SandboxHome+"/") {
			t.Errorf("decoy sandbox path %s outside %s", artifact.SandboxPath, SandboxHome)
		}
		if _, err := os.Stat(artifact.HostPath); err != nil {
			t.Errorf("decoy not planted: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(fakeHome), "logs", "stderr.log")); err != nil {
		t.Errorf("stderr log missing: %v", err)
	}

	if err := controller.Stop(handle); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if entries := runtimeEntries(t, root); len(entries) != 0 {
		t.Errorf("runtime root not empty after Stop: %v", entries)
	}

	if _, err := handle.PID(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("PID after Stop: %v, want ErrHandleClosed", err)
	}
	if _, _, err := handle.Stdio(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Stdio after Stop: %v, want ErrHandleClosed", err)
	}
	if _, err := handle.Alive(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Alive after Stop: %v, want ErrHandleClosed", err)
	}
	if err := controller.Stop(handle); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestControllerStopNilHandle(t *testing.T) {
	t.Parallel()

	controller := newTestController(t, Config{})
	if err := controller.Stop(nil); err != nil {
		t.Fatalf("Stop(nil) = %v", err)
	}
}

func TestControllerHealthCheckExhausted(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	controller := newTestController(t, Config{RuntimeRoot: root, HealthAttempts: 3})

	attempts := 0
	handle, err := controller.Start(context.Background(), LaunchConfig{
		SessionID: "s2",
		Workspace: t.TempDir(),
		Command:   []string{"/bin/cat"},
		HealthCheck: func(context.Context, *Handle) error {
			attempts++
			return errors.New("not listening")
		},
	})
	if handle != nil {
		t.Fatal("Start returned a handle on failure")
	}
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("error = %v, want *LaunchError", err)
	}
	if launchErr.Stage != "health" {
		t.Errorf("stage = %q, want health", launchErr.Stage)
	}
	if attempts != 3 {
		t.Errorf("health check ran %d times, want 3", attempts)
	}
	if entries := runtimeEntries(t, root); len(entries) != 0 {
		t.Errorf("runtime directory leaked after failed launch: %v", entries)
	}
	if err := controller.Stop(handle); err != nil {
		t.Errorf("Stop after failed start: %v", err)
	}
}

func TestControllerServerExitsDuringHealthCheck(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	controller := newTestController(t, Config{RuntimeRoot: root, HealthInterval: 50 * time.Millisecond})

	_, err := controller.Start(context.Background(), LaunchConfig{
		SessionID: "s3",
		Workspace: t.TempDir(),
		Command:   []string{"/bin/sh", "-c", "echo cannot bind >&2; exit 3"},
		HealthCheck: func(context.Context, *Handle) error {
			return errors.New("not yet")
		},
	})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("error = %v, want *LaunchError", err)
	}
	if !strings.Contains(launchErr.Stderr, "cannot bind") {
		t.Errorf("stderr tail = %q, want server stderr", launchErr.Stderr)
	}
	if entries := runtimeEntries(t, root); len(entries) != 0 {
		t.Errorf("runtime directory leaked: %v", entries)
	}
}

func TestHandleServerLog(t *testing.T) {
	t.Parallel()

	controller := newTestController(t, Config{})
	handle, err := controller.Start(context.Background(), LaunchConfig{
		SessionID: "s-log",
		Workspace: t.TempDir(),
		Command:   []string{"/bin/sh", "-c", "echo 'fatal: config missing' >&2; exec cat"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		log, err := handle.ServerLog()
		return err == nil && strings.Contains(log, "fatal: config missing")
	}, "stderr line in server log")

	if err := controller.Stop(handle); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := handle.ServerLog(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("ServerLog after Stop: %v, want ErrHandleClosed", err)
	}
}

func TestControllerStopKillsUnresponsiveServer(t *testing.T) {
	t.Parallel()

	controller := newTestController(t, Config{StopGrace: 200 * time.Millisecond})
	handle, err := controller.Start(context.Background(), LaunchConfig{
		SessionID: "s4",
		Workspace: t.TempDir(),
		Command:   []string{"/bin/sh", "-c", `trap "" TERM; while :; do sleep 0.1; done`},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pid, err := handle.PID()
	if err != nil {
		t.Fatalf("PID failed: %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- controller.Stop(handle) }()
	if err := testutil.RequireReceive(t, stopped, 10*time.Second, "Stop did not return"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := unix.Kill(-int(pid), 0); !errors.Is(err, unix.ESRCH) {
		t.Errorf("process group %d still exists after Stop (kill 0: %v)", pid, err)
	}
}

func TestControllerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	controller := newTestController(t, Config{})
	tests := []struct {
		name   string
		config LaunchConfig
	}{
		{"no workspace", LaunchConfig{Command: []string{"/bin/cat"}}},
		{"no command", LaunchConfig{Workspace: "/tmp"}},
		{"bad transport", LaunchConfig{Workspace: "/tmp", Command: []string{"x"}, Transport: "carrier-pigeon"}},
		{"bad memory", LaunchConfig{Workspace: "/tmp", Command: []string{"x"}, Resources: ResourceConfig{MemoryMax: "big"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := controller.Start(context.Background(), tt.config)
			var launchErr *LaunchError
			if !errors.As(err, &launchErr) || launchErr.Stage != "config" {
				t.Errorf("error = %v, want config LaunchError", err)
			}
		})
	}
}

func TestControllerPlan(t *testing.T) {
	t.Parallel()

	var captured *Plan
	controller := newTestController(t, Config{
		RuntimeRoot: "/run/test",
		Launcher: func(plan *Plan) ([]string, error) {
			captured = plan
			return []string{"launch"}, nil
		},
	})

	tests := []struct {
		name           string
		transport      Transport
		allowOutbound  bool
		wantUnshareNet bool
	}{
		{"stdio isolated", TransportStdio, false, true},
		{"stdio with outbound", TransportStdio, true, false},
		{"http", TransportHTTP, false, false},
		{"default transport", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argv, err := controller.DryRun(LaunchConfig{
				SessionID:            "abc/def",
				Workspace:            "/srv/server",
				Command:              []string{"node", "index.js"},
				Transport:            tt.transport,
				AllowOutboundNetwork: tt.allowOutbound,
				Resources:            ResourceConfig{MemoryMax: "256M", CPUQuota: "50%"},
			})
			if err != nil {
				t.Fatalf("DryRun failed: %v", err)
			}
			if len(argv) != 1 || argv[0] != "launch" {
				t.Errorf("argv = %v", argv)
			}
			if captured.UnshareNet != tt.wantUnshareNet {
				t.Errorf("UnshareNet = %v, want %v", captured.UnshareNet, tt.wantUnshareNet)
			}
			if captured.ScopeName != "mcp-sandbox-abc-def" {
				t.Errorf("scope name = %q", captured.ScopeName)
			}
			if !strings.HasPrefix(captured.FakeHome, "/run/test/") {
				t.Errorf("fake home %q outside runtime root", captured.FakeHome)
			}
			if captured.Profile.Resources.MemoryMax != "256M" || captured.Profile.Resources.CPUQuota != "50%" {
				t.Errorf("resources = %+v", captured.Profile.Resources)
			}
			if captured.Profile.Resources.TasksMax == 0 {
				t.Error("profile tasks_max lost when launch overrides other limits")
			}
			if captured.Profile.Filesystem[0].Source != "/srv/server" {
				t.Errorf("workspace not expanded: %q", captured.Profile.Filesystem[0].Source)
			}
			if captured.Profile.Filesystem[1].Source != captured.FakeHome {
				t.Errorf("fake home not expanded: %q", captured.Profile.Filesystem[1].Source)
			}
		})
	}
}
