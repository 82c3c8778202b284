// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/vvatta/mcp-automatic-review/lib/clock"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// SuspiciousBinaries are process names that a capability server has no
// ordinary reason to spawn: shells, network relays, and file transfer
// clients.
var SuspiciousBinaries = map[string]bool{
	"sh":      true,
	"bash":    true,
	"dash":    true,
	"zsh":     true,
	"ksh":     true,
	"csh":     true,
	"tcsh":    true,
	"fish":    true,
	"busybox": true,
	"nc":      true,
	"ncat":    true,
	"netcat":  true,
	"socat":   true,
	"curl":    true,
	"wget":    true,
	"telnet":  true,
	"ssh":     true,
	"scp":     true,
	"ftp":     true,
	"tftp":    true,
}

// MatchSuspicious returns the denylisted name matching a process's
// executable or argv[0], if any.
func MatchSuspicious(exe string, argv []string) (string, bool) {
	candidates := []string{exe}
	if len(argv) > 0 {
		candidates = append(candidates, argv[0])
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		name := filepath.Base(candidate)
		if SuspiciousBinaries[name] {
			return name, true
		}
	}
	return "", false
}

// ProcessCollector reports processes spawned inside the sandbox after
// Start. The tree present at Start (the launcher and the server itself)
// is the baseline and is never reported.
//
// With an [ExecSource] every exec below the root is reported as the
// kernel announces it, including processes that exit immediately. The
// tree is also sampled on every tick, which catches forks that never
// exec. Without an exec source, or when it fails, the collector is
// degraded to sampling and misses processes that start and exit
// between two polls.
type ProcessCollector struct {
	Source ProcessSource

	// Exec delivers kernel process notifications. Nil samples only.
	Exec ExecSource

	Interval    time.Duration
	MaxFailures int
	Logger      *slog.Logger

	runner
	target Target
	known  map[processKey]bool

	// Exec tracking, keyed by thread group ID. Touched only by the
	// loop goroutine.
	members map[int32]bool
	parents map[int32]int32
	comms   map[int32]string
}

// NewProcessCollector returns a collector reading from the host and
// the kernel proc connector.
func NewProcessCollector(logger *slog.Logger) *ProcessCollector {
	return &ProcessCollector{
		Source: HostSource{},
		Exec:   &ProcConnector{Logger: logger},
		Logger: logger,
	}
}

// Name implements [Collector].
func (c *ProcessCollector) Name() string { return string(schema.EventProcess) }

// Start implements [Collector]. The exec subscription is opened before
// the baseline snapshot so that nothing spawned in between is lost;
// both happen before Start returns.
func (c *ProcessCollector) Start(ctx context.Context, target Target) error {
	c.runner.init(c.Name(), schema.EventProcess, target, c.Logger, c.MaxFailures)
	if c.Source == nil {
		err := fmt.Errorf("no process source configured")
		c.degrade(err)
		return &CollectorError{Collector: c.Name(), Err: err}
	}
	c.target = target
	c.target.Clock = targetClock(target)

	subscriptionCtx, cancelSubscription := context.WithCancel(ctx)
	var execEvents <-chan ProcEvent
	if c.Exec != nil {
		subscribed, err := c.Exec.Subscribe(subscriptionCtx)
		if err != nil {
			c.degrade(fmt.Errorf("exec events unavailable, sampling only: %w", err))
		} else {
			execEvents = subscribed
		}
	}

	baseline, err := c.Source.Tree(ctx, target.RootPID)
	if err != nil {
		cancelSubscription()
		err = fmt.Errorf("baseline snapshot: %w", err)
		c.degrade(err)
		return &CollectorError{Collector: c.Name(), Err: err}
	}
	c.known = make(map[processKey]bool, len(baseline))
	c.members = make(map[int32]bool, len(baseline))
	c.parents = make(map[int32]int32)
	c.comms = make(map[int32]string)
	for _, info := range baseline {
		c.known[info.key()] = true
		c.members[info.PID] = true
	}
	c.logger.Debug("process baseline", "root", target.RootPID, "processes", len(baseline),
		"exec_events", execEvents != nil)

	interval := c.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := c.target.Clock.NewTicker(interval)
	c.run(ctx, func(ctx context.Context) {
		defer cancelSubscription()
		if execEvents == nil {
			pollLoop(ctx, ticker, c.poll)
			return
		}
		c.watch(ctx, ticker, execEvents)
	})
	return nil
}

// Stop implements [Collector].
func (c *ProcessCollector) Stop() []schema.Event { return c.stop() }

// watch is pollLoop with exec notifications interleaved.
func (c *ProcessCollector) watch(ctx context.Context, ticker *clock.Ticker, events <-chan ProcEvent) {
	defer ticker.Stop()
	c.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			c.poll(ctx)
		case event, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					c.degrade(fmt.Errorf("exec event stream ended, sampling only"))
				}
				events = nil
				continue
			}
			c.observe(ctx, event)
		}
	}
}

// observe tracks membership of the sandbox tree through fork and exit
// notifications and reports every exec by a member.
func (c *ProcessCollector) observe(ctx context.Context, event ProcEvent) {
	switch event.Kind {
	case ProcFork:
		// Threads share their parent's thread group; only new
		// processes join.
		if event.PID == event.TGID && c.members[event.ParentTGID] {
			c.members[event.TGID] = true
			c.parents[event.TGID] = event.ParentTGID
		}
	case ProcComm:
		if c.members[event.TGID] {
			c.comms[event.TGID] = event.Comm
		}
	case ProcExit:
		if event.PID == event.TGID {
			delete(c.members, event.TGID)
			delete(c.parents, event.TGID)
			delete(c.comms, event.TGID)
		}
	case ProcExec:
		if !c.members[event.TGID] {
			return
		}
		c.reportExec(ctx, event.TGID)
	}
}

// reportExec reads the new program from /proc when the process is
// still there, and otherwise falls back to the name the kernel gave it.
func (c *ProcessCollector) reportExec(ctx context.Context, tgid int32) {
	info := ProcessInfo{PID: tgid, PPID: c.parents[tgid]}
	if describer, ok := c.Source.(ProcessDescriber); ok {
		if described, ok := describer.Describe(ctx, tgid); ok {
			info = described
		}
	}
	comm := c.comms[tgid]
	if info.Exe == "" && len(info.Argv) == 0 && comm != "" {
		info.Argv = []string{comm}
	}
	if info.PPID == 0 {
		info.PPID = c.parents[tgid]
	}
	c.known[info.key()] = true
	c.record(c.target.Clock.Now(), info, comm)
}

func (c *ProcessCollector) poll(ctx context.Context) {
	tree, err := c.Source.Tree(ctx, c.target.RootPID)
	if err != nil {
		c.failed(fmt.Errorf("listing process tree: %w", err))
		return
	}
	c.succeeded()

	now := c.target.Clock.Now()
	for _, info := range tree {
		c.members[info.PID] = true
		key := info.key()
		if c.known[key] {
			continue
		}
		c.known[key] = true
		c.record(now, info, "")
	}
}

// record journals one spawned process. comm is the kernel's name for
// it, checked when neither the executable nor argv matches.
func (c *ProcessCollector) record(now time.Time, info ProcessInfo, comm string) {
	detail := &schema.ProcessDetail{
		PID:  info.PID,
		PPID: info.PPID,
		Exe:  info.Exe,
		Argv: info.Argv,
	}
	severity := schema.SeverityInfo
	match, ok := MatchSuspicious(info.Exe, info.Argv)
	if !ok && SuspiciousBinaries[comm] {
		match, ok = comm, true
	}
	if ok {
		detail.Suspicious = true
		detail.Match = match
		severity = schema.SeverityCritical
	}
	c.journal.Append(schema.Event{
		Timestamp: now,
		Severity:  severity,
		Process:   detail,
	})
}
