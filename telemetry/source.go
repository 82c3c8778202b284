// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"syscall"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is one process in the sandbox tree.
type ProcessInfo struct {
	PID  int32
	PPID int32

	// CreateTime is the process start time in milliseconds since the
	// epoch. Together with PID it identifies a process across PID
	// reuse.
	CreateTime int64

	Exe  string
	Argv []string
}

// processKey identifies a process across PID reuse.
type processKey struct {
	pid        int32
	createTime int64
}

func (p ProcessInfo) key() processKey {
	return processKey{pid: p.PID, createTime: p.CreateTime}
}

// Connection is a socket owned by a sandbox process.
type Connection struct {
	PID      int32
	Protocol string // "tcp" or "udp"

	LocalAddress  string
	LocalPort     uint32
	RemoteAddress string
	RemotePort    uint32

	Status string
}

// ProcessSource lists the process tree rooted at a PID.
type ProcessSource interface {
	// Tree returns root and all of its descendants. A root that no
	// longer exists yields an empty tree and no error.
	Tree(ctx context.Context, root int32) ([]ProcessInfo, error)
}

// ProcessDescriber reads a single process by PID. Sources that
// implement it let the process collector fill in exec notifications.
type ProcessDescriber interface {
	Describe(ctx context.Context, pid int32) (ProcessInfo, bool)
}

// ConnectionSource lists the sockets owned by a process.
type ConnectionSource interface {
	Connections(ctx context.Context, pid int32) ([]Connection, error)
}

// HostSource reads processes and sockets from the host's /proc through
// gopsutil. It implements both [ProcessSource] and [ConnectionSource].
type HostSource struct{}

// Tree lists every host process once, indexes them by parent PID, and
// walks down from root. Descendants that were reparented away from the
// tree (double-forked daemons) are not included.
func (HostSource) Tree(ctx context.Context, root int32) ([]ProcessInfo, error) {
	processes, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var rootProcess *process.Process
	children := make(map[int32][]*process.Process)
	for _, candidate := range processes {
		if candidate.Pid == root {
			rootProcess = candidate
			continue
		}
		ppid, err := candidate.PpidWithContext(ctx)
		if err != nil {
			// Exited between listing and inspection.
			continue
		}
		children[ppid] = append(children[ppid], candidate)
	}
	if rootProcess == nil {
		return nil, nil
	}

	var tree []ProcessInfo
	seen := make(map[int32]bool)
	queue := []*process.Process{rootProcess}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current.Pid] {
			continue
		}
		seen[current.Pid] = true

		info, ok := describeProcess(ctx, current)
		if !ok {
			continue
		}
		tree = append(tree, info)
		queue = append(queue, children[current.Pid]...)
	}
	return tree, nil
}

// Describe reads one process. It reports false when the process has
// already exited.
func (HostSource) Describe(ctx context.Context, pid int32) (ProcessInfo, bool) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessInfo{}, false
	}
	return describeProcess(ctx, p)
}

func describeProcess(ctx context.Context, p *process.Process) (ProcessInfo, bool) {
	createTime, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return ProcessInfo{}, false
	}
	info := ProcessInfo{PID: p.Pid, CreateTime: createTime}
	info.PPID, _ = p.PpidWithContext(ctx)
	info.Exe, _ = p.ExeWithContext(ctx)
	info.Argv, _ = p.CmdlineSliceWithContext(ctx)
	return info, true
}

// Connections returns the inet sockets of pid.
func (HostSource) Connections(ctx context.Context, pid int32) ([]Connection, error) {
	stats, err := psnet.ConnectionsPidWithContext(ctx, "inet", pid)
	if err != nil {
		return nil, err
	}
	connections := make([]Connection, 0, len(stats))
	for _, stat := range stats {
		connections = append(connections, Connection{
			PID:           pid,
			Protocol:      socketProtocol(stat.Type),
			LocalAddress:  stat.Laddr.IP,
			LocalPort:     stat.Laddr.Port,
			RemoteAddress: stat.Raddr.IP,
			RemotePort:    stat.Raddr.Port,
			Status:        stat.Status,
		})
	}
	return connections, nil
}

func socketProtocol(socketType uint32) string {
	switch socketType {
	case syscall.SOCK_DGRAM:
		return "udp"
	case syscall.SOCK_STREAM:
		return "tcp"
	default:
		return "unknown"
	}
}
