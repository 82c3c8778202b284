// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vvatta/mcp-automatic-review/decoy"
	"github.com/vvatta/mcp-automatic-review/lib/clock"
)

// Transport is how the analyzer reaches the capability server.
type Transport string

const (
	// TransportStdio speaks newline-delimited JSON-RPC over the
	// process's stdin and stdout.
	TransportStdio Transport = "stdio"

	// TransportHTTP posts JSON-RPC to a URL the server listens on.
	TransportHTTP Transport = "http"
)

// Default lifecycle budgets.
const (
	DefaultHealthAttempts = 20
	DefaultHealthInterval = 250 * time.Millisecond
	DefaultStopGrace      = 5 * time.Second
)

// MaxServerLog bounds how much of the stderr log ServerLog returns.
const MaxServerLog = 64 << 10

// ErrHandleClosed is returned by every Handle operation after Stop.
var ErrHandleClosed = errors.New("sandbox handle is closed")

// LaunchError reports a failed Start. When it is returned the sandbox
// has already been torn down: no process, no runtime directory.
type LaunchError struct {
	// Stage is where the launch failed: "config", "runtime", "profile",
	// "start" or "health".
	Stage string

	Err error

	// Stderr is the tail of the server's stderr, when it ran at all.
	Stderr string
}

func (e *LaunchError) Error() string {
	message := fmt.Sprintf("sandbox launch failed (%s): %v", e.Stage, e.Err)
	if e.Stderr != "" {
		message += "\nstderr: " + e.Stderr
	}
	return message
}

func (e *LaunchError) Unwrap() error { return e.Err }

// HealthCheck reports whether a started server is reachable. It is
// retried until it returns nil or the attempt budget runs out.
type HealthCheck func(ctx context.Context, handle *Handle) error

// ProcessRunning is a HealthCheck that only requires the process to be
// alive.
func ProcessRunning(_ context.Context, handle *Handle) error {
	alive, err := handle.Alive()
	if err != nil {
		return err
	}
	if !alive {
		return errors.New("process exited")
	}
	return nil
}

// LaunchConfig describes one capability server launch.
type LaunchConfig struct {
	// SessionID names the runtime directory and the systemd unit.
	SessionID string

	// Workspace is the prepared server checkout on the host, mounted
	// at /workspace.
	Workspace string

	// Command is the argv run inside the sandbox, from /workspace.
	Command []string

	// Profile names the sandbox profile. Default: DefaultProfile.
	Profile string

	// Transport selects stdio or HTTP. Default: stdio.
	Transport Transport

	// AllowOutboundNetwork keeps the host network namespace. A stdio
	// server without it gets an empty network namespace; an HTTP
	// server always shares the host's so the analyzer can reach it.
	AllowOutboundNetwork bool

	// Resources override the profile's limits field by field.
	Resources ResourceConfig

	// Decoys are planted in the fake home. Nil plants
	// decoy.DefaultTemplates().
	Decoys []decoy.Template

	// Env overrides profile environment variables.
	Env map[string]string

	// HealthCheck gates Start's success. Nil uses ProcessRunning.
	HealthCheck HealthCheck
}

func (c LaunchConfig) transport() Transport {
	if c.Transport == "" {
		return TransportStdio
	}
	return c.Transport
}

func (c LaunchConfig) unshareNet() bool {
	return !c.AllowOutboundNetwork && c.transport() == TransportStdio
}

func (c LaunchConfig) validate() error {
	if c.Workspace == "" {
		return errors.New("workspace is required")
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.New("command is required")
	}
	switch c.transport() {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return c.Resources.Validate()
}

// Plan is a resolved launch: host paths plus the expanded profile.
type Plan struct {
	RuntimeDir string
	FakeHome   string
	StderrLog  string
	ScopeName  string

	// Profile is expanded and carries the effective resource limits.
	Profile *Profile

	UnshareNet bool
	Command    []string
	Env        map[string]string
}

// Config holds configuration for creating a Controller.
type Config struct {
	// Profiles resolves profile names. Nil loads the built-in profiles.
	Profiles *ProfileLoader

	// RuntimeRoot holds per-session runtime directories. Default:
	// os.TempDir().
	RuntimeRoot string

	HealthAttempts int
	HealthInterval time.Duration
	StopGrace      time.Duration

	// Launcher turns a plan into the host argv. Nil runs bwrap inside
	// a systemd scope.
	Launcher func(plan *Plan) ([]string, error)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller starts and stops sandboxed capability servers.
type Controller struct {
	profiles       *ProfileLoader
	runtimeRoot    string
	healthAttempts int
	healthInterval time.Duration
	stopGrace      time.Duration
	launcher       func(plan *Plan) ([]string, error)
	clock          clock.Clock
	logger         *slog.Logger
}

// New creates a Controller.
func New(config Config) (*Controller, error) {
	controller := &Controller{
		profiles:       config.Profiles,
		runtimeRoot:    config.RuntimeRoot,
		healthAttempts: config.HealthAttempts,
		healthInterval: config.HealthInterval,
		stopGrace:      config.StopGrace,
		launcher:       config.Launcher,
		clock:          config.Clock,
		logger:         config.Logger,
	}
	if controller.logger == nil {
		controller.logger = slog.Default()
	}
	if controller.clock == nil {
		controller.clock = clock.Real()
	}
	if controller.profiles == nil {
		loader, err := LoadProfiles("", controller.logger)
		if err != nil {
			return nil, err
		}
		controller.profiles = loader
	}
	if controller.runtimeRoot == "" {
		controller.runtimeRoot = os.TempDir()
	}
	if controller.healthAttempts <= 0 {
		controller.healthAttempts = DefaultHealthAttempts
	}
	if controller.healthInterval <= 0 {
		controller.healthInterval = DefaultHealthInterval
	}
	if controller.stopGrace <= 0 {
		controller.stopGrace = DefaultStopGrace
	}
	if controller.launcher == nil {
		controller.launcher = controller.bwrapCommand
	}
	return controller, nil
}

// Handle is a running sandbox. It is 1:1 with a session and invalid
// after Stop.
type Handle struct {
	sessionID  string
	runtimeDir string
	fakeHome   string
	stderrLog  string
	transport  Transport
	decoys     *decoy.Registry

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	// exited is closed by the reaper after cmd.Wait returns; exitErr
	// is written before the close.
	exited  chan struct{}
	exitErr error

	mu     sync.Mutex
	closed bool
}

func (h *Handle) check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	return nil
}

// PID returns the host PID of the sandbox root process. Every process
// the server spawns descends from it.
func (h *Handle) PID() (int32, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	return int32(h.cmd.Process.Pid), nil
}

// Stdio returns the server's stdin writer and stdout reader.
func (h *Handle) Stdio() (io.WriteCloser, io.ReadCloser, error) {
	if err := h.check(); err != nil {
		return nil, nil, err
	}
	return h.stdin, h.stdout, nil
}

// FakeHome returns the host directory mounted at SandboxHome.
func (h *Handle) FakeHome() (string, error) {
	if err := h.check(); err != nil {
		return "", err
	}
	return h.fakeHome, nil
}

// Decoys returns the artifacts planted in the fake home.
func (h *Handle) Decoys() (*decoy.Registry, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return h.decoys, nil
}

// ServerLog returns up to the last MaxServerLog bytes of the server's
// stderr.
func (h *Handle) ServerLog() (string, error) {
	if err := h.check(); err != nil {
		return "", err
	}
	return stderrTail(h.stderrLog, MaxServerLog), nil
}

// Transport returns the launch transport.
func (h *Handle) Transport() (Transport, error) {
	if err := h.check(); err != nil {
		return "", err
	}
	return h.transport, nil
}

// Alive reports whether the root process is still running.
func (h *Handle) Alive() (bool, error) {
	if err := h.check(); err != nil {
		return false, err
	}
	select {
	case <-h.exited:
		return false, nil
	default:
		return true, nil
	}
}

// Start launches a capability server and waits until the health check
// passes. On any failure it tears everything down before returning a
// *LaunchError.
func (c *Controller) Start(ctx context.Context, config LaunchConfig) (*Handle, error) {
	if err := config.validate(); err != nil {
		return nil, &LaunchError{Stage: "config", Err: err}
	}

	runtimeDir, err := os.MkdirTemp(c.runtimeRoot, "mcp-sandbox-"+unitSuffix(config.SessionID)+"-")
	if err != nil {
		return nil, &LaunchError{Stage: "runtime", Err: err}
	}

	handle := &Handle{
		sessionID:  config.SessionID,
		runtimeDir: runtimeDir,
		transport:  config.transport(),
		exited:     make(chan struct{}),
	}
	fail := func(stage string, err error) (*Handle, error) {
		launchErr := &LaunchError{Stage: stage, Err: err, Stderr: stderrTail(handle.stderrLog, 2048)}
		if teardownErr := c.teardown(handle); teardownErr != nil {
			c.logger.Error("teardown after failed launch", "error", teardownErr)
		}
		return nil, launchErr
	}

	plan, err := c.plan(config, runtimeDir)
	if err != nil {
		return fail("profile", err)
	}
	handle.fakeHome = plan.FakeHome
	handle.stderrLog = plan.StderrLog

	if err := os.MkdirAll(plan.FakeHome, 0700); err != nil {
		return fail("runtime", err)
	}
	if err := os.MkdirAll(filepath.Dir(plan.StderrLog), 0700); err != nil {
		return fail("runtime", err)
	}

	templates := config.Decoys
	if templates == nil {
		templates = decoy.DefaultTemplates()
	}
	handle.decoys, err = decoy.Plant(plan.FakeHome, SandboxHome, templates)
	if err != nil {
		return fail("runtime", err)
	}

	argv, err := c.launcher(plan)
	if err != nil {
		return fail("profile", err)
	}

	if err := c.spawn(handle, argv); err != nil {
		return fail("start", err)
	}

	c.logger.Info("capability server started",
		"session", config.SessionID,
		"pid", handle.cmd.Process.Pid,
		"runtime_dir", runtimeDir,
		"unshare_net", plan.UnshareNet,
		"command", config.Command,
	)

	check := config.HealthCheck
	if check == nil {
		check = ProcessRunning
	}
	if err := c.awaitHealthy(ctx, handle, check); err != nil {
		return fail("health", err)
	}
	return handle, nil
}

// spawn starts argv in its own process group with stdin and stdout
// connected to pipes and stderr to the runtime log.
func (c *Controller) spawn(handle *Handle, argv []string) error {
	stderrFile, err := os.OpenFile(handle.stderrLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	handle.stderr = stderrFile

	stdinReader, stdinWriter, err := os.Pipe()
	if err != nil {
		return err
	}
	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		stdinReader.Close()
		stdinWriter.Close()
		return err
	}
	handle.stdin = stdinWriter
	handle.stdout = stdoutReader

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdinReader
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrFile

	// The bwrap process itself must not carry the analyzer's
	// environment: the target could read it from /proc. Everything
	// the target needs is passed with --setenv.
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	stdinReader.Close()
	stdoutWriter.Close()
	if err != nil {
		return err
	}
	handle.cmd = cmd

	go func() {
		handle.exitErr = cmd.Wait()
		close(handle.exited)
	}()
	return nil
}

func (c *Controller) awaitHealthy(ctx context.Context, handle *Handle, check HealthCheck) error {
	var lastErr error
	for attempt := 1; attempt <= c.healthAttempts; attempt++ {
		select {
		case <-handle.exited:
			return fmt.Errorf("server exited before becoming healthy: %v", handle.exitErr)
		default:
		}

		lastErr = check(ctx, handle)
		if lastErr == nil {
			return nil
		}
		c.logger.Debug("health check failed", "attempt", attempt, "error", lastErr)
		if attempt == c.healthAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-handle.exited:
			return fmt.Errorf("server exited before becoming healthy: %v", handle.exitErr)
		case <-c.clock.After(c.healthInterval):
		}
	}
	return fmt.Errorf("not healthy after %d attempts: %w", c.healthAttempts, lastErr)
}

// Stop terminates the server and releases the runtime directory. It
// is idempotent and accepts a nil handle.
func (c *Controller) Stop(handle *Handle) error {
	if handle == nil {
		return nil
	}
	handle.mu.Lock()
	if handle.closed {
		handle.mu.Unlock()
		return nil
	}
	handle.closed = true
	handle.mu.Unlock()

	err := c.teardown(handle)
	c.logger.Info("capability server stopped", "session", handle.sessionID, "error", err)
	return err
}

// teardown kills the process group, closes pipes and removes the
// runtime directory. Each step runs even when an earlier one fails.
func (c *Controller) teardown(handle *Handle) error {
	var errs []error
	if handle.cmd != nil {
		if err := c.terminate(handle); err != nil {
			errs = append(errs, err)
		}
	}
	for _, file := range []*os.File{handle.stdin, handle.stdout, handle.stderr} {
		if file != nil {
			file.Close()
		}
	}
	if handle.runtimeDir != "" {
		if err := os.RemoveAll(handle.runtimeDir); err != nil {
			errs = append(errs, fmt.Errorf("removing runtime directory: %w", err))
		}
	}
	return errors.Join(errs...)
}

// terminate sends SIGTERM to the process group, waits up to the grace
// period, then SIGKILLs whatever is left of the group. bwrap runs with
// --die-with-parent, so the sandboxed tree dies with the group leader
// even though --new-session moves it to its own session.
func (c *Controller) terminate(handle *Handle) error {
	pgid := handle.cmd.Process.Pid

	select {
	case <-handle.exited:
	default:
		if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			c.logger.Warn("SIGTERM failed", "pgid", pgid, "error", err)
		}
		select {
		case <-handle.exited:
		case <-c.clock.After(c.stopGrace):
			c.logger.Warn("capability server ignored SIGTERM, killing", "pgid", pgid, "grace", c.stopGrace)
		}
	}

	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing process group %d: %w", pgid, err)
	}
	select {
	case <-handle.exited:
		return nil
	case <-c.clock.After(c.stopGrace):
		return fmt.Errorf("process %d still running after SIGKILL", pgid)
	}
}

// DryRun returns the host argv Start would run, without creating
// anything. Runtime paths are placeholders under the runtime root.
func (c *Controller) DryRun(config LaunchConfig) ([]string, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	runtimeDir := filepath.Join(c.runtimeRoot, "mcp-sandbox-"+unitSuffix(config.SessionID)+"-XXXXXX")
	plan, err := c.plan(config, runtimeDir)
	if err != nil {
		return nil, err
	}
	return c.launcher(plan)
}

// Profile resolves the profile a launch would use, unexpanded.
func (c *Controller) Profile(config LaunchConfig) (*Profile, error) {
	name := config.Profile
	if name == "" {
		name = DefaultProfile
	}
	return c.profiles.Resolve(name)
}

func (c *Controller) plan(config LaunchConfig, runtimeDir string) (*Plan, error) {
	profile, err := c.Profile(config)
	if err != nil {
		return nil, err
	}

	workspace, err := filepath.Abs(config.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	fakeHome := filepath.Join(runtimeDir, "home")

	vars := Variables{
		"WORKSPACE": workspace,
		"FAKE_HOME": fakeHome,
	}
	expanded := vars.ExpandProfile(profile)

	if config.Resources.TasksMax > 0 {
		expanded.Resources.TasksMax = config.Resources.TasksMax
	}
	if config.Resources.MemoryMax != "" {
		expanded.Resources.MemoryMax = config.Resources.MemoryMax
	}
	if config.Resources.CPUQuota != "" {
		expanded.Resources.CPUQuota = config.Resources.CPUQuota
	}

	return &Plan{
		RuntimeDir: runtimeDir,
		FakeHome:   fakeHome,
		StderrLog:  filepath.Join(runtimeDir, "logs", "stderr.log"),
		ScopeName:  "mcp-sandbox-" + unitSuffix(config.SessionID),
		Profile:    expanded,
		UnshareNet: config.unshareNet(),
		Command:    config.Command,
		Env:        config.Env,
	}, nil
}

// bwrapCommand is the default launcher: bwrap, wrapped in a systemd
// scope when limits are configured and systemd-run is present.
func (c *Controller) bwrapCommand(plan *Plan) ([]string, error) {
	args, err := NewBwrapBuilder().Build(&BwrapOptions{
		Profile:    plan.Profile,
		UnshareNet: plan.UnshareNet,
		Command:    plan.Command,
		ExtraEnv:   plan.Env,
		WorkDir:    "/workspace",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build bwrap command: %w", err)
	}

	bwrapPath, err := BwrapPath()
	if err != nil {
		return nil, err
	}
	command := append([]string{bwrapPath}, args...)

	if plan.Profile.Resources.HasLimits() {
		scope := NewSystemdScope(plan.ScopeName, plan.Profile.Resources)
		if scope.Available() {
			command = scope.WrapCommand(command)
		} else {
			c.logger.Warn("systemd-run not available, resource limits will not be enforced")
		}
	}
	return command, nil
}

// unitSuffix makes a session ID safe for unit and directory names.
func unitSuffix(sessionID string) string {
	if sessionID == "" {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, sessionID)
}

// stderrTail returns up to max bytes from the end of path.
func stderrTail(path string, max int64) string {
	if path == "" {
		return ""
	}
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - max
	if offset < 0 {
		offset = 0
	}
	data := make([]byte, info.Size()-offset)
	if _, err := file.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return strings.TrimSpace(string(data))
}
