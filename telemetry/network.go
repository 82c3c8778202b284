// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// DefaultDedupWindow suppresses repeated sightings of the same
// destination within this interval.
const DefaultDedupWindow = 5 * time.Second

// dnsPort is the destination port that classifies a socket as a DNS
// query rather than a connection.
const dnsPort = 53

// dedupCapacity bounds the number of destinations remembered for
// deduplication. Older destinations are evicted and may be reported
// again.
const dedupCapacity = 4096

// NetworkCollector reports DNS queries and outbound connections made by
// the sandbox process tree.
//
// Sockets are sampled, so a connection opened and closed between two
// polls is not seen. Established sockets are reported once per
// DedupWindow per destination.
type NetworkCollector struct {
	Processes   ProcessSource
	Connections ConnectionSource

	Interval    time.Duration
	DedupWindow time.Duration
	MaxFailures int
	Logger      *slog.Logger

	runner
	target Target
	seen   *lru.Cache[string, time.Time]
}

// NewNetworkCollector returns a collector reading from the host.
func NewNetworkCollector(logger *slog.Logger) *NetworkCollector {
	return &NetworkCollector{
		Processes:   HostSource{},
		Connections: HostSource{},
		Logger:      logger,
	}
}

// Name implements [Collector].
func (c *NetworkCollector) Name() string { return string(schema.EventNetwork) }

// Start implements [Collector].
func (c *NetworkCollector) Start(ctx context.Context, target Target) error {
	c.runner.init(c.Name(), schema.EventNetwork, target, c.Logger, c.MaxFailures)
	if c.Processes == nil || c.Connections == nil {
		err := fmt.Errorf("no process or connection source configured")
		c.degrade(err)
		return &CollectorError{Collector: c.Name(), Err: err}
	}
	seen, err := lru.New[string, time.Time](dedupCapacity)
	if err != nil {
		c.degrade(err)
		return &CollectorError{Collector: c.Name(), Err: err}
	}
	c.seen = seen
	c.target = target
	c.target.Clock = targetClock(target)
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := c.target.Clock.NewTicker(interval)
	c.run(ctx, func(ctx context.Context) {
		pollLoop(ctx, ticker, c.poll)
	})
	return nil
}

// Stop implements [Collector].
func (c *NetworkCollector) Stop() []schema.Event { return c.stop() }

func (c *NetworkCollector) poll(ctx context.Context) {
	tree, err := c.Processes.Tree(ctx, c.target.RootPID)
	if err != nil {
		c.failed(fmt.Errorf("listing process tree: %w", err))
		return
	}

	now := c.target.Clock.Now()
	var lastErr error
	for _, proc := range tree {
		connections, err := c.Connections.Connections(ctx, proc.PID)
		if err != nil {
			// The process may have exited since the tree was listed.
			lastErr = err
			continue
		}
		for _, connection := range connections {
			c.observe(connection, now)
		}
	}
	if lastErr != nil && len(tree) > 0 && ctx.Err() == nil {
		c.logger.Debug("connection listing failed", "error", lastErr)
	}
	c.succeeded()
}

func (c *NetworkCollector) observe(connection Connection, now time.Time) {
	if connection.RemoteAddress == "" || connection.RemotePort == 0 {
		// Listening or unconnected socket.
		return
	}

	key := fmt.Sprintf("%s|%s|%d", connection.Protocol, connection.RemoteAddress, connection.RemotePort)
	if last, ok := c.seen.Get(key); ok && now.Sub(last) < c.DedupWindow {
		return
	}
	c.seen.Add(key, now)

	detail := &schema.NetworkDetail{
		Kind:     schema.NetworkConnect,
		Address:  connection.RemoteAddress,
		Port:     connection.RemotePort,
		Protocol: connection.Protocol,
	}
	severity := schema.SeverityWarning
	switch {
	case connection.RemotePort == dnsPort:
		detail.Kind = schema.NetworkDNS
		severity = schema.SeverityInfo
	case IsLoopback(connection.RemoteAddress):
		severity = schema.SeverityInfo
	}

	c.journal.Append(schema.Event{
		Timestamp: now,
		Severity:  severity,
		Network:   detail,
	})
}

// IsLoopback reports whether address is a loopback IP.
func IsLoopback(address string) bool {
	ip := net.ParseIP(address)
	return ip != nil && ip.IsLoopback()
}
