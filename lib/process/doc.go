// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the mcp-sandbox
// binary: reporting a fatal error before the structured logger exists,
// and mapping a finished session to a process exit code.
package process
