// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interrogate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vvatta/mcp-automatic-review/lib/clock"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Defaults for [Driver].
const (
	DefaultInvocationTimeout = 10 * time.Second
	DefaultMaxParallel       = 4
)

// Job is one payload to execute against one capability.
type Job struct {
	Capability schema.Capability
	Payload    schema.Payload
}

// Driver executes capability calls and records them as invocations.
// Sequence numbers are unique per Driver, so one Driver serves one
// session.
type Driver struct {
	Client Client

	// Clock stamps RequestAt and ResponseAt. Sessions pass the same
	// clock they give the telemetry collectors.
	Clock clock.Clock

	// Timeout bounds each call. Zero means DefaultInvocationTimeout.
	Timeout time.Duration

	// MaxParallel bounds concurrent calls in Run. Zero means
	// DefaultMaxParallel.
	MaxParallel int

	Logger *slog.Logger

	sequence atomic.Int64
}

func (d *Driver) clock() clock.Clock {
	if d.Clock == nil {
		return clock.Real()
	}
	return d.Clock
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Invoke calls one capability. Failures are recorded in the returned
// invocation's Outcome; Invoke never fails.
func (d *Driver) Invoke(ctx context.Context, capability schema.Capability, payload schema.Payload) schema.Invocation {
	return d.invoke(ctx, int(d.sequence.Add(1)), capability, payload)
}

// Run executes jobs with at most MaxParallel calls in flight. Sequence
// numbers follow job order and the result is sorted by sequence. Jobs
// not yet started when ctx is cancelled are recorded as timeouts.
func (d *Driver) Run(ctx context.Context, jobs []Job) []schema.Invocation {
	if len(jobs) == 0 {
		return nil
	}
	first := int(d.sequence.Add(int64(len(jobs)))) - len(jobs) + 1

	parallel := d.MaxParallel
	if parallel <= 0 {
		parallel = DefaultMaxParallel
	}
	semaphore := make(chan struct{}, parallel)
	invocations := make([]schema.Invocation, len(jobs))

	var waitGroup sync.WaitGroup
	for index, job := range jobs {
		sequence := first + index
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			invocations[index] = d.cancelled(ctx, sequence, job)
			continue
		}
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			defer func() { <-semaphore }()
			invocations[index] = d.invoke(ctx, sequence, job.Capability, job.Payload)
		}()
	}
	waitGroup.Wait()
	return invocations
}

// cancelled records a job that never started because the session ended.
func (d *Driver) cancelled(ctx context.Context, sequence int, job Job) schema.Invocation {
	now := d.clock().Now()
	return schema.Invocation{
		Sequence:       sequence,
		Capability:     job.Capability.Name,
		Payload:        job.Payload,
		RequestAt:      now,
		ResponseAt:     now,
		Outcome:        schema.OutcomeTimeout,
		Error:          fmt.Sprintf("not started: %v", context.Cause(ctx)),
		Classification: schema.ClassificationPending,
	}
}

func (d *Driver) invoke(ctx context.Context, sequence int, capability schema.Capability, payload schema.Payload) schema.Invocation {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultInvocationTimeout
	}
	clk := d.clock()

	invocation := schema.Invocation{
		Sequence:       sequence,
		Capability:     capability.Name,
		Payload:        payload,
		Classification: schema.ClassificationPending,
	}

	callContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	invocation.RequestAt = clk.Now()
	raw, err := d.Client.Call(callContext, "tools/call", toolsCallParams{
		Name:      capability.Name,
		Arguments: payload.Arguments,
	})
	invocation.ResponseAt = clk.Now()

	switch {
	case err != nil && callContext.Err() != nil:
		invocation.Outcome = schema.OutcomeTimeout
		invocation.Error = callContext.Err().Error()
	case err != nil:
		invocation.Outcome = schema.OutcomeProtocolError
		invocation.Error = err.Error()
	default:
		invocation.Response = raw
		var result ToolResult
		if decodeErr := json.Unmarshal(raw, &result); decodeErr != nil {
			invocation.Outcome = schema.OutcomeProtocolError
			invocation.Error = fmt.Sprintf("decoding tools/call result: %v", decodeErr)
			break
		}
		invocation.Text = result.Text()
		if result.IsError {
			invocation.Outcome = schema.OutcomeToolError
		} else {
			invocation.Outcome = schema.OutcomeOK
		}
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		invocation.Text = rpcErr.Message
	}

	d.logger().Debug("invocation complete",
		"sequence", sequence,
		"capability", capability.Name,
		"attack", payload.AttackType,
		"outcome", invocation.Outcome,
		"duration", invocation.ResponseAt.Sub(invocation.RequestAt),
	)
	return invocation
}
