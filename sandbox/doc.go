// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs an untrusted capability server inside a
// bubblewrap (bwrap) sandbox for the duration of one analysis session.
//
// The central type is [Controller]. [Controller.Start] creates a
// per-session runtime directory holding a fake home (with decoy
// credentials planted by the decoy package) and a stderr log,
// resolves a [Profile], builds the bwrap argv with [BwrapBuilder],
// wraps it in a transient systemd scope ([SystemdScope]) carrying the
// memory and CPU limits, and starts it in its own process group with
// stdin and stdout on pipes. Start returns only once the caller's
// [HealthCheck] passes; on any failure it tears down what it built and
// returns a [*LaunchError].
//
// [Controller.Stop] sends SIGTERM to the process group, waits a grace
// period, SIGKILLs what remains, closes the pipes and removes the
// runtime directory. It is idempotent and accepts a nil [Handle], so
// callers defer it immediately after Start. Every Handle method
// returns [ErrHandleClosed] after Stop.
//
// Profiles are YAML-driven. The built-in capability-server profile
// binds the workspace at /workspace and the fake home at [SandboxHome],
// exposes system directories read-only, and unshares the PID, IPC and
// UTS namespaces. The network namespace is unshared per launch: a
// stdio server gets an empty one unless outbound traffic is allowed.
// Profiles support single inheritance through the inherit key and
// ${VAR} expansion ([Variables.ExpandProfile]).
//
// [DetectCapabilities] inspects the host for bwrap, user namespaces and
// systemd user scopes, and [Validator] turns that survey plus a launch
// config into a pre-flight report for dry runs.
package sandbox
