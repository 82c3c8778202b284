// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"sync"
	"time"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeProcessSource serves a mutable process tree. calls counts
// completed reads of the tree. described answers Describe.
type fakeProcessSource struct {
	mu        sync.Mutex
	tree      []ProcessInfo
	err       error
	calls     int
	described map[int32]ProcessInfo
}

func (f *fakeProcessSource) Describe(ctx context.Context, pid int32) (ProcessInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.described[pid]
	return info, ok
}

func (f *fakeProcessSource) Tree(ctx context.Context, root int32) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tree := make([]ProcessInfo, len(f.tree))
	copy(tree, f.tree)
	return tree, nil
}

func (f *fakeProcessSource) set(tree []ProcessInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tree = tree
	f.err = err
}

func (f *fakeProcessSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConnectionSource struct {
	mu          sync.Mutex
	connections map[int32][]Connection
}

func (f *fakeConnectionSource) Connections(ctx context.Context, pid int32) ([]Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Connection(nil), f.connections[pid]...), nil
}

func (f *fakeConnectionSource) set(pid int32, connections ...Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connections == nil {
		f.connections = make(map[int32][]Connection)
	}
	f.connections[pid] = connections
}

// fakeExecSource hands the collector a channel the test writes to.
// Sends are unbuffered, so a completed send means the previous event
// has been fully handled by the collector's loop.
type fakeExecSource struct {
	events chan ProcEvent
	err    error
}

func newFakeExecSource() *fakeExecSource {
	return &fakeExecSource{events: make(chan ProcEvent)}
}

func (f *fakeExecSource) Subscribe(ctx context.Context) (<-chan ProcEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}
