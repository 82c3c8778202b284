// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm provides a minimal client for Large Language Model APIs.
//
// The analyzer uses an LLM for one thing: proposing additional
// capability arguments during external fuzzing. It needs blocking
// text completion only, so [Provider] has a single method, Complete.
//
// All HTTP requests go through a caller-supplied [http.Client], so
// tests can point the provider at an httptest server and the CLI can
// set its own timeouts. Response bodies are read through lib/netutil.
//
// Current provider implementations:
//   - [Anthropic]: Claude models via the Messages API (/v1/messages)
package llm
