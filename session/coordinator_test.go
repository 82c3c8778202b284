// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vvatta/mcp-automatic-review/decoy"
	"github.com/vvatta/mcp-automatic-review/internal/mcptest"
	"github.com/vvatta/mcp-automatic-review/interrogate"
	"github.com/vvatta/mcp-automatic-review/lib/evidence"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
	"github.com/vvatta/mcp-automatic-review/risk"
	"github.com/vvatta/mcp-automatic-review/sandbox"
	"github.com/vvatta/mcp-automatic-review/telemetry"
)

// fakeEnvironment serves an mcptest.Server over in-memory pipes and
// plants real decoys in a temporary home.
type fakeEnvironment struct {
	server     *mcptest.Server
	home       string
	decoys     *decoy.Registry
	connectErr error
	serverLog  string
}

func newFakeEnvironment(t *testing.T, server *mcptest.Server) *fakeEnvironment {
	t.Helper()
	home := t.TempDir()
	registry, err := decoy.Plant(home, sandbox.SandboxHome, decoy.DefaultTemplates())
	if err != nil {
		t.Fatalf("Plant failed: %v", err)
	}
	return &fakeEnvironment{server: server, home: home, decoys: registry}
}

func (e *fakeEnvironment) PID() (int32, error)              { return int32(os.Getpid()), nil }
func (e *fakeEnvironment) FakeHome() (string, error)        { return e.home, nil }
func (e *fakeEnvironment) Decoys() (*decoy.Registry, error) { return e.decoys, nil }
func (e *fakeEnvironment) ServerLog() (string, error)       { return e.serverLog, nil }

func (e *fakeEnvironment) Connect(ctx context.Context) (interrogate.Client, error) {
	if e.connectErr != nil {
		return nil, e.connectErr
	}
	writer, reader := mcptest.Pipes(context.WithoutCancel(ctx), e.server)
	return interrogate.NewStdioClient(writer, reader, nil), nil
}

type fakeLauncher struct {
	environment *fakeEnvironment
	err         error

	// hang makes Launch wait for the session deadline, like a server
	// that never passes its health check.
	hang bool

	mu        sync.Mutex
	launched  []sandbox.LaunchConfig
	tornDown  int
}

func (l *fakeLauncher) Launch(ctx context.Context, config sandbox.LaunchConfig) (Environment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, config)
	if l.hang {
		<-ctx.Done()
		return nil, &sandbox.LaunchError{Stage: "health", Err: ctx.Err()}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.environment, nil
}

func (l *fakeLauncher) Teardown(environment Environment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tornDown++
	return nil
}

func (l *fakeLauncher) teardownCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tornDown
}

// scriptedCollector records events that tool handlers report, stamped
// by the session clock it receives at Start.
type scriptedCollector struct {
	name     string
	kind     schema.EventKind
	startErr error

	mu      sync.Mutex
	journal *telemetry.Journal
	stopped atomic.Int32
}

func (c *scriptedCollector) Name() string { return c.name }

func (c *scriptedCollector) Start(ctx context.Context, target telemetry.Target) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = telemetry.NewJournal(c.name, c.kind, target.Clock)
	return nil
}

func (c *scriptedCollector) record(event schema.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journal != nil {
		c.journal.Append(event)
	}
}

func (c *scriptedCollector) Stop() []schema.Event {
	c.stopped.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journal == nil {
		return nil
	}
	return c.journal.Events()
}

func (c *scriptedCollector) Healthy() bool { return c.startErr == nil }

const readFileSchema = `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`

// leakyServer serves read_file, which follows traversal sequences into
// the fake home: it reports the decoy access to the filesystem
// collector and returns the decoy's content.
func leakyServer(environment func() *fakeEnvironment, filesystem *scriptedCollector) *mcptest.Server {
	return &mcptest.Server{Tools: []mcptest.Tool{{
		Name:        "read_file",
		InputSchema: json.RawMessage(readFileSchema),
		Handler: func(ctx context.Context, arguments map[string]any) (string, error) {
			path, _ := arguments["path"].(string)
			if !strings.Contains(path, "..") {
				return "no such file: " + path, nil
			}
			artifact := environment().decoys.Artifacts()[0]
			artifact.MarkTouched()
			filesystem.record(schema.Event{
				Severity: schema.SeverityCritical,
				File: &schema.FileDetail{
					Path:     artifact.SandboxPath,
					HostPath: artifact.HostPath,
					Op:       telemetry.FileOpen,
					Decoy:    true,
				},
			})
			return artifact.Content, nil
		},
	}}}
}

type recordingSink struct {
	name    string
	err     error
	results []*Result
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Record(_ context.Context, result *Result) error {
	s.results = append(s.results, result)
	return s.err
}

func newTestCoordinator(t *testing.T, config Config) *Coordinator {
	t.Helper()
	if config.Launch.Workspace == "" {
		config.Launch = sandbox.LaunchConfig{Workspace: "/srv/server", Command: []string{"node", "index.js"}}
	}
	if config.AttackTypes == nil {
		config.AttackTypes = []schema.AttackType{schema.AttackPathTraversal}
	}
	coordinator, err := New(config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return coordinator
}

func TestRunCompleted(t *testing.T) {
	t.Parallel()

	filesystem := &scriptedCollector{name: "filesystem", kind: schema.EventFilesystem}
	var environment *fakeEnvironment
	server := leakyServer(func() *fakeEnvironment { return environment }, filesystem)
	environment = newFakeEnvironment(t, server)
	launcher := &fakeLauncher{environment: environment}
	sink := &recordingSink{name: "recording"}

	coordinator := newTestCoordinator(t, Config{
		Launcher:   launcher,
		SessionID:  "session-1",
		Collectors: []telemetry.Collector{filesystem},
		Static:     schema.StaticSummary{Total: 1, High: 1},
		Sinks:      []Sink{sink},
	})
	result := coordinator.Run(context.Background())
	report := result.Report

	if report.Status != schema.StatusCompleted || report.Session.Status != schema.StatusCompleted {
		t.Fatalf("status = %s, notes %v", report.Status, report.Notes)
	}
	if report.Session.ID != "session-1" {
		t.Errorf("session ID = %q", report.Session.ID)
	}
	if len(launcher.launched) != 1 || launcher.launched[0].SessionID != "session-1" {
		t.Errorf("launch configs = %+v", launcher.launched)
	}
	if launcher.teardownCount() != 1 {
		t.Errorf("teardown ran %d times, want 1", launcher.teardownCount())
	}
	if filesystem.stopped.Load() != 1 {
		t.Errorf("collector stopped %d times, want 1", filesystem.stopped.Load())
	}

	if len(result.Capabilities) != 1 || result.Capabilities[0].Name != "read_file" {
		t.Fatalf("capabilities = %+v", result.Capabilities)
	}
	if len(result.Invocations) < 2 {
		t.Fatalf("invocations = %d, want control plus traversal payloads", len(result.Invocations))
	}
	if result.Invocations[0].Payload.AttackType != schema.AttackControl {
		t.Errorf("first invocation is %s, want the control", result.Invocations[0].Payload.AttackType)
	}
	for _, invocation := range result.Invocations {
		if invocation.Classification == schema.ClassificationPending {
			t.Errorf("invocation %d left pending", invocation.Sequence)
		}
	}

	var categories []schema.Category
	for _, finding := range report.Findings {
		categories = append(categories, finding.Category)
	}
	touched := len(environment.decoys.Touched())
	honeypots := 0
	for _, category := range categories {
		if category == schema.CategoryHoneypotAccess {
			honeypots++
		}
	}
	if touched != 1 || honeypots != touched {
		t.Errorf("touched %d decoys, got %d honeypot findings (%v)", touched, honeypots, categories)
	}
	for _, want := range []schema.Category{schema.CategoryDataLeak, schema.CategoryPathTraversal} {
		if !slices.Contains(categories, want) {
			t.Errorf("missing %s finding in %v", want, categories)
		}
	}
	if !slices.Contains(report.Recommendations, risk.RecommendDoNotDeploy) {
		t.Errorf("recommendations = %v", report.Recommendations)
	}
	if report.FuzzingSummary.TotalTests != len(result.Invocations) || report.FuzzingSummary.LeakedData == 0 {
		t.Errorf("fuzzing summary = %+v", report.FuzzingSummary)
	}
	if report.BehaviorSummary.FilesystemEvents == 0 {
		t.Errorf("behavior summary = %+v", report.BehaviorSummary)
	}
	if report.ScanSummary.High != 1 {
		t.Errorf("scan summary not passed through: %+v", report.ScanSummary)
	}
	if len(sink.results) != 1 || sink.results[0] != result {
		t.Errorf("sink saw %d results", len(sink.results))
	}
}

func TestRunLaunchFailure(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{err: &sandbox.LaunchError{Stage: "health", Err: errors.New("not listening")}}
	sink := &recordingSink{name: "recording"}
	collector := &scriptedCollector{name: "network", kind: schema.EventNetwork}

	coordinator := newTestCoordinator(t, Config{
		Launcher:   launcher,
		Collectors: []telemetry.Collector{collector},
		Static:     schema.StaticSummary{Critical: 1},
		Sinks:      []Sink{sink},
	})
	report := coordinator.Run(context.Background()).Report

	if report.Status != schema.StatusFailed {
		t.Errorf("status = %s, want FAILED", report.Status)
	}
	if report.OverallRiskScore != risk.Score(nil, schema.StaticSummary{Critical: 1}).OverallRiskScore {
		t.Errorf("score = %d, want the static-only score", report.OverallRiskScore)
	}
	if len(report.Notes) == 0 || !strings.Contains(report.Notes[0], "sandbox launch failed at health") {
		t.Errorf("notes = %v", report.Notes)
	}
	if launcher.teardownCount() != 0 {
		t.Error("teardown ran for a sandbox that never launched")
	}
	if collector.stopped.Load() != 0 {
		t.Error("collectors ran without a sandbox")
	}
	if len(sink.results) != 1 {
		t.Error("sinks skipped for a failed session")
	}
	if report.Session.ID == "" {
		t.Error("no session ID generated")
	}
}

func TestRunDiscoveryFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		server *mcptest.Server
		setup  func(*fakeEnvironment)
	}{
		{
			name:   "tools/list error",
			server: &mcptest.Server{ToolsListError: &mcptest.RPCError{Code: mcptest.CodeInternalError, Message: "boom"}},
		},
		{
			name:   "malformed result",
			server: &mcptest.Server{ToolsListResult: json.RawMessage(`{"tools":"nope"}`)},
		},
		{
			name:   "connect error",
			server: &mcptest.Server{},
			setup:  func(e *fakeEnvironment) { e.connectErr = errors.New("pipe closed") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			environment := newFakeEnvironment(t, tt.server)
			if tt.setup != nil {
				tt.setup(environment)
			}
			launcher := &fakeLauncher{environment: environment}
			coordinator := newTestCoordinator(t, Config{
				Launcher:   launcher,
				Collectors: []telemetry.Collector{},
			})
			report := coordinator.Run(context.Background()).Report

			if report.Status != schema.StatusCompleted {
				t.Errorf("status = %s, want COMPLETED", report.Status)
			}
			if report.FuzzingSummary.TotalTests != 0 {
				t.Errorf("total tests = %d, want 0", report.FuzzingSummary.TotalTests)
			}
			if len(report.Notes) == 0 || !strings.HasPrefix(report.Notes[0], NoteDiscoveryFailed) {
				t.Errorf("notes = %v", report.Notes)
			}
			if launcher.teardownCount() != 1 {
				t.Errorf("teardown ran %d times, want 1", launcher.teardownCount())
			}
		})
	}
}

func TestRunSessionTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	var started atomic.Int32
	server := &mcptest.Server{Tools: []mcptest.Tool{{
		Name:        "hang",
		InputSchema: json.RawMessage(readFileSchema),
		Handler: func(ctx context.Context, arguments map[string]any) (string, error) {
			started.Add(1)
			<-release
			return "late", nil
		},
	}}}
	launcher := &fakeLauncher{environment: newFakeEnvironment(t, server)}
	collector := &scriptedCollector{name: "process", kind: schema.EventProcess}

	coordinator := newTestCoordinator(t, Config{
		Launcher:          launcher,
		Collectors:        []telemetry.Collector{collector},
		SessionTimeout:    500 * time.Millisecond,
		InvocationTimeout: time.Minute,
		MaxParallel:       3,
	})
	done := make(chan *Result, 1)
	go func() { done <- coordinator.Run(context.Background()) }()

	var result *Result
	select {
	case result = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after the session deadline")
	}
	report := result.Report
	if report.Status != schema.StatusTimedOut {
		t.Fatalf("status = %s, want TIMED_OUT (notes %v)", report.Status, report.Notes)
	}
	if !slices.Contains(report.Notes, NoteTimedOut) {
		t.Errorf("notes = %v", report.Notes)
	}
	if len(result.Invocations) <= 3 {
		t.Fatalf("recorded %d invocations, want more than the 3 in flight", len(result.Invocations))
	}
	if got := started.Load(); got != 3 {
		t.Errorf("%d calls reached the server, want 3 in flight at the deadline", got)
	}
	for _, invocation := range result.Invocations {
		if invocation.Outcome != schema.OutcomeTimeout {
			t.Errorf("invocation %d outcome = %s, want timeout", invocation.Sequence, invocation.Outcome)
		}
	}
	if launcher.teardownCount() != 1 {
		t.Errorf("teardown ran %d times, want 1", launcher.teardownCount())
	}
	if collector.stopped.Load() != 1 {
		t.Errorf("collector stopped %d times, want 1", collector.stopped.Load())
	}
}

func TestRunDegradedCollector(t *testing.T) {
	t.Parallel()

	filesystem := &scriptedCollector{name: "filesystem", kind: schema.EventFilesystem}
	var environment *fakeEnvironment
	server := leakyServer(func() *fakeEnvironment { return environment }, filesystem)
	environment = newFakeEnvironment(t, server)
	broken := &scriptedCollector{name: "network", kind: schema.EventNetwork, startErr: errors.New("netlink unavailable")}

	coordinator := newTestCoordinator(t, Config{
		Launcher:   &fakeLauncher{environment: environment},
		Collectors: []telemetry.Collector{filesystem, broken},
	})
	report := coordinator.Run(context.Background()).Report

	if report.Status != schema.StatusCompleted {
		t.Errorf("status = %s", report.Status)
	}
	if !slices.Equal(report.DegradedSignals, []string{"network"}) {
		t.Errorf("degraded signals = %v, want [network]", report.DegradedSignals)
	}
	var honeypots int
	for _, finding := range report.Findings {
		if finding.Category == schema.CategoryHoneypotAccess {
			honeypots++
			if finding.Scope != schema.ScopeInvocation || len(finding.Events) == 0 {
				t.Errorf("honeypot finding lost its filesystem evidence: %+v", finding)
			}
		}
	}
	if honeypots != 1 {
		t.Errorf("honeypot-access findings = %d, want 1 alongside the degraded network signal", honeypots)
	}
	if !slices.Contains(report.Recommendations, risk.RecommendDoNotDeploy) {
		t.Errorf("recommendations = %v", report.Recommendations)
	}
}

func TestRunLaunchTimeout(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{hang: true}
	coordinator := newTestCoordinator(t, Config{
		Launcher:       launcher,
		Collectors:     []telemetry.Collector{},
		SessionTimeout: 100 * time.Millisecond,
	})
	report := coordinator.Run(context.Background()).Report

	if report.Status != schema.StatusTimedOut {
		t.Errorf("status = %s, want TIMED_OUT", report.Status)
	}
	if len(report.Notes) == 0 || !strings.HasPrefix(report.Notes[0], NoteLaunchTimedOut) {
		t.Errorf("notes = %v", report.Notes)
	}
	if launcher.teardownCount() != 0 {
		t.Error("teardown ran for a sandbox that never launched")
	}
}

func TestRunServerLogFinding(t *testing.T) {
	t.Parallel()

	environment := newFakeEnvironment(t, &mcptest.Server{})
	environment.serverLog = "starting\nFATAL: database locked\n"
	coordinator := newTestCoordinator(t, Config{
		Launcher:   &fakeLauncher{environment: environment},
		Collectors: []telemetry.Collector{},
	})
	report := coordinator.Run(context.Background()).Report

	if len(report.Findings) != 1 || report.Findings[0].Category != schema.CategoryServerError {
		t.Fatalf("findings = %+v", report.Findings)
	}
	if report.Findings[0].Title != "Server logged errors: fatal" {
		t.Errorf("title = %q", report.Findings[0].Title)
	}
	if report.FindingCounts.Info != 1 || report.OverallRiskScore != 0 {
		t.Errorf("counts %+v score %d", report.FindingCounts, report.OverallRiskScore)
	}
}

func TestRunSinks(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	archive := filepath.Join(directory, "session.evidence")
	textfile := filepath.Join(directory, "session.prom")
	failing := &recordingSink{name: "failing", err: errors.New("disk full")}
	after := &recordingSink{name: "after"}

	coordinator := newTestCoordinator(t, Config{
		Launcher:   &fakeLauncher{environment: newFakeEnvironment(t, &mcptest.Server{})},
		Collectors: []telemetry.Collector{},
		Sinks: []Sink{
			&EvidenceSink{Path: archive, Options: evidence.Options{Compression: evidence.CompressionZstd}},
			failing,
			&MetricsSink{TextfilePath: textfile},
			after,
		},
	})
	result := coordinator.Run(context.Background())

	if result.Report.EvidenceDigest == "" {
		t.Error("evidence digest not recorded")
	}
	bundle, digest, err := evidence.ReadFile(archive, nil)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if digest.String() != result.Report.EvidenceDigest {
		t.Errorf("digest = %s, report says %s", digest, result.Report.EvidenceDigest)
	}
	if bundle.Session.ID != result.Report.Session.ID {
		t.Errorf("archived session = %q", bundle.Session.ID)
	}

	data, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatalf("reading metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), "mcp_sandbox_session_status") {
		t.Errorf("metrics textfile missing session status:\n%s", data)
	}

	if len(after.results) != 1 {
		t.Error("a failing sink stopped later sinks")
	}
	if !slices.Contains(result.Report.Notes, "failing sink failed: disk full") {
		t.Errorf("notes = %v", result.Report.Notes)
	}
	if result.Report.Status != schema.StatusCompleted {
		t.Errorf("sink failure changed status to %s", result.Report.Status)
	}
}

func TestNewRequiresLauncher(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted a config without a launcher")
	}
}
