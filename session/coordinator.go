// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vvatta/mcp-automatic-review/correlate"
	"github.com/vvatta/mcp-automatic-review/decoy"
	"github.com/vvatta/mcp-automatic-review/interrogate"
	"github.com/vvatta/mcp-automatic-review/lib/clock"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
	"github.com/vvatta/mcp-automatic-review/payload"
	"github.com/vvatta/mcp-automatic-review/risk"
	"github.com/vvatta/mcp-automatic-review/sandbox"
	"github.com/vvatta/mcp-automatic-review/telemetry"
)

// DefaultSessionTimeout bounds a whole session.
const DefaultSessionTimeout = 300 * time.Second

// Report notes.
const (
	NoteDiscoveryFailed = "fuzzing skipped: capability discovery failed"
	NoteNoCapabilities  = "fuzzing skipped: server exposes no capabilities"
	NoteTimedOut        = "session deadline expired: remaining invocations recorded as timeouts"
	NoteLaunchTimedOut  = "session deadline expired before the sandbox became healthy"
)

// errSessionTimeout is the cancellation cause of an expired session.
var errSessionTimeout = errors.New("session timeout")

// Config holds configuration for a Coordinator.
type Config struct {
	Launcher Launcher

	// Launch describes the server. SessionID is filled in by the
	// coordinator.
	Launch sandbox.LaunchConfig

	// SessionID overrides the generated session ID.
	SessionID string

	// Collectors run for the session. Nil uses
	// telemetry.DefaultCollectors. Collectors are single-use, so a
	// Config with explicit collectors serves one Run.
	Collectors []telemetry.Collector

	// Generator produces payloads. Nil uses the deterministic
	// generator.
	Generator payload.Generator

	// AttackTypes to exercise. Nil uses schema.AttackTypes().
	AttackTypes []schema.AttackType

	// Static is the static scanner's summary, passed to the scorer.
	Static schema.StaticSummary

	SessionTimeout    time.Duration
	InvocationTimeout time.Duration
	MaxParallel       int

	// Grace and NetworkAllowlist configure the correlator.
	Grace            time.Duration
	NetworkAllowlist []string

	// Sinks receive the finished session in order.
	Sinks []Sink

	Clock  clock.Clock
	Logger *slog.Logger
}

// Result is a finished session: the report plus the material it was
// built from.
type Result struct {
	Report       schema.RiskReport
	Capabilities []schema.Capability
	Invocations  []schema.Invocation
	Events       []schema.Event
}

// Coordinator runs analysis sessions.
type Coordinator struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Launcher == nil {
		return nil, errors.New("session: launcher is required")
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = DefaultSessionTimeout
	}
	if config.AttackTypes == nil {
		config.AttackTypes = schema.AttackTypes()
	}
	coordinator := &Coordinator{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
	}
	if coordinator.clock == nil {
		coordinator.clock = clock.Real()
	}
	if coordinator.logger == nil {
		coordinator.logger = slog.Default()
	}
	if coordinator.config.Generator == nil {
		coordinator.config.Generator = payload.NewGenerator(payload.Options{Logger: coordinator.logger})
	}
	return coordinator, nil
}

// state accumulates one session's outcome across phases.
type state struct {
	sessionID    string
	clock        *clock.SessionClock
	startedAt    time.Time
	status       schema.Status
	notes        []string
	degraded     []string
	decoys       *decoy.Registry
	capabilities []schema.Capability
	invocations  []schema.Invocation
	events       []schema.Event
	serverLog    string
}

func (s *state) note(format string, args ...any) {
	s.notes = append(s.notes, fmt.Sprintf(format, args...))
}

// Run executes one session and returns its result. It never returns
// without a report: failures are expressed in the report's status and
// notes.
func (c *Coordinator) Run(ctx context.Context) *Result {
	sessionID := c.config.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sessionClock := clock.NewSession(c.clock)
	s := &state{
		sessionID: sessionID,
		clock:     sessionClock,
		startedAt: sessionClock.Now(),
		status:    schema.StatusCompleted,
	}
	logger := c.logger.With("session", sessionID)
	logger.Info("session starting")

	ctx, cancel := context.WithTimeoutCause(ctx, c.config.SessionTimeout, errSessionTimeout)
	defer cancel()

	c.execute(ctx, s, logger)
	result := c.finish(s, logger)

	for _, sink := range c.config.Sinks {
		if err := sink.Record(context.WithoutCancel(ctx), result); err != nil {
			logger.Warn("session sink failed", "sink", sink.Name(), "error", err)
			result.Report.Notes = append(result.Report.Notes, fmt.Sprintf("%s sink failed: %v", sink.Name(), err))
		}
	}
	logger.Info("session finished",
		"status", result.Report.Status,
		"score", result.Report.OverallRiskScore,
		"findings", len(result.Report.Findings),
	)
	return result
}

// execute runs the sandboxed phases. The environment is released
// before it returns, after the collectors have been drained.
func (c *Coordinator) execute(ctx context.Context, s *state, logger *slog.Logger) {
	launch := c.config.Launch
	launch.SessionID = s.sessionID

	logger.Debug("launching sandbox")
	environment, err := c.config.Launcher.Launch(ctx, launch)
	if err != nil {
		if errors.Is(context.Cause(ctx), errSessionTimeout) {
			s.status = schema.StatusTimedOut
			s.note("%s: %v", NoteLaunchTimedOut, err)
			logger.Warn("session deadline expired during launch", "timeout", c.config.SessionTimeout, "error", err)
			return
		}
		s.status = schema.StatusFailed
		var launchErr *sandbox.LaunchError
		if errors.As(err, &launchErr) {
			s.note("sandbox launch failed at %s: %v", launchErr.Stage, launchErr.Err)
		} else {
			s.note("sandbox launch failed: %v", err)
		}
		logger.Error("sandbox launch failed", "error", err)
		return
	}
	defer func() {
		if err := c.config.Launcher.Teardown(environment); err != nil {
			logger.Warn("sandbox teardown failed", "error", err)
			s.note("sandbox teardown failed: %v", err)
		}
	}()

	group := c.startTelemetry(ctx, s, environment, logger)
	defer group.Stop()

	c.interrogate(ctx, s, environment, logger)

	if errors.Is(context.Cause(ctx), errSessionTimeout) {
		s.status = schema.StatusTimedOut
		s.note(NoteTimedOut)
		logger.Warn("session deadline expired", "timeout", c.config.SessionTimeout)
	}

	s.events = group.Stop()
	for _, failure := range group.Degraded() {
		s.degraded = append(s.degraded, failure.Collector)
		s.note("telemetry degraded: %v", failure)
	}

	if logs, ok := environment.(ServerLogReader); ok {
		if s.serverLog, err = logs.ServerLog(); err != nil {
			logger.Warn("server log unavailable", "error", err)
		}
	}
}

func (c *Coordinator) startTelemetry(ctx context.Context, s *state, environment Environment, logger *slog.Logger) *telemetry.Group {
	target := telemetry.Target{SandboxHome: sandbox.SandboxHome, Clock: s.clock}
	var err error
	if target.RootPID, err = environment.PID(); err != nil {
		logger.Warn("sandbox PID unavailable", "error", err)
	}
	if target.HostHome, err = environment.FakeHome(); err != nil {
		logger.Warn("fake home unavailable", "error", err)
	}
	if s.decoys, err = environment.Decoys(); err != nil {
		logger.Warn("decoy registry unavailable", "error", err)
	}
	target.Decoys = s.decoys

	collectors := c.config.Collectors
	if collectors == nil {
		collectors = telemetry.DefaultCollectors(logger)
	}
	group := telemetry.NewGroup(logger, collectors...)
	group.Start(ctx, target)
	return group
}

// interrogate connects, discovers capabilities, and runs every
// payload.
func (c *Coordinator) interrogate(ctx context.Context, s *state, environment Environment, logger *slog.Logger) {
	client, err := environment.Connect(ctx)
	if err != nil {
		s.note("%s: %v", NoteDiscoveryFailed, err)
		logger.Warn("connecting to server failed", "error", err)
		return
	}
	defer client.Close()

	var info *interrogate.ServerInfo
	if handshaker, ok := environment.(Handshaker); ok {
		info = handshaker.ServerInfo()
	}
	if info == nil {
		if info, err = interrogate.Initialize(ctx, client); err != nil {
			s.note("%s: %v", NoteDiscoveryFailed, err)
			logger.Warn("initialize failed", "error", err)
			return
		}
	}
	logger.Info("connected to server", "name", info.Name, "version", info.Version, "protocol", info.ProtocolVersion)

	discoverer := &interrogate.Discoverer{Logger: logger}
	capabilities, err := discoverer.Discover(ctx, client)
	if err != nil {
		var protocolErr *interrogate.ProtocolError
		if !errors.As(err, &protocolErr) {
			logger.Error("unexpected discovery error", "error", err)
		}
		s.note(NoteDiscoveryFailed)
		logger.Warn("capability discovery failed", "error", err)
		return
	}
	s.capabilities = capabilities
	if len(capabilities) == 0 {
		s.note(NoteNoCapabilities)
		return
	}

	jobs := c.plan(ctx, capabilities, logger)
	logger.Info("executing payloads", "capabilities", len(capabilities), "payloads", len(jobs))

	driver := &interrogate.Driver{
		Client:      client,
		Clock:       s.clock,
		Timeout:     c.config.InvocationTimeout,
		MaxParallel: c.config.MaxParallel,
		Logger:      logger,
	}
	s.invocations = driver.Run(ctx, jobs)
}

// plan builds the job list: per capability, the control payloads
// first, then each attack type in order.
func (c *Coordinator) plan(ctx context.Context, capabilities []schema.Capability, logger *slog.Logger) []interrogate.Job {
	attacks := append([]schema.AttackType{schema.AttackControl}, c.config.AttackTypes...)
	var jobs []interrogate.Job
	for _, capability := range capabilities {
		for _, attack := range attacks {
			payloads, err := c.config.Generator.Generate(ctx, capability, attack)
			if err != nil {
				logger.Warn("payload generation failed",
					"capability", capability.Name,
					"attack", attack,
					"error", err,
				)
				continue
			}
			for _, generated := range payloads {
				jobs = append(jobs, interrogate.Job{Capability: capability, Payload: generated})
			}
		}
	}
	return jobs
}

// finish correlates and scores.
func (c *Coordinator) finish(s *state, logger *slog.Logger) *Result {
	correlator := &correlate.Correlator{
		SessionID:        s.sessionID,
		Grace:            c.config.Grace,
		NetworkAllowlist: c.config.NetworkAllowlist,
		ServerLog:        s.serverLog,
		Logger:           logger,
	}
	findings := correlator.Correlate(s.invocations, s.events, s.decoys)
	invocations := correlate.Classify(s.invocations, findings)

	report := risk.Score(findings, c.config.Static)
	endedAt := s.clock.Now()
	report.Session = schema.Session{
		ID:        s.sessionID,
		StartedAt: s.startedAt,
		EndedAt:   endedAt,
		Status:    s.status,
	}
	report.Status = s.status
	report.FuzzingSummary = correlate.Summarize(invocations, findings)
	report.BehaviorSummary = correlate.Behavior(s.events)
	report.DegradedSignals = s.degraded
	report.Notes = s.notes
	report.ExecutionSeconds = endedAt.Sub(s.startedAt).Seconds()

	return &Result{
		Report:       report,
		Capabilities: s.capabilities,
		Invocations:  invocations,
		Events:       s.events,
	}
}
