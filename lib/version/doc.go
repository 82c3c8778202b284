// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the
// mcp-sandbox binary.
//
// Package-level variables are injected at build time via
// -ldflags -X:
//
//	go build -ldflags "-X github.com/vvatta/mcp-automatic-review/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without them the commit and build time come from the VCS stamps in
// the module build info, or read "unknown" in test binaries. The
// version also identifies the analyzer to targets in the MCP
// initialize handshake ([ClientName], [Short]) and in HTTP requests
// ([UserAgent]).
package version
