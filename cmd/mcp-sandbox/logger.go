// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// stderrIsTerminal reports whether stderr is attached to a terminal.
func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// newLogger creates the command logger. A terminal gets
// slog.TextHandler output; anything else (CI, pipes, log collectors)
// gets JSON lines. MCP_SANDBOX_DEBUG enables debug level.
func newLogger(w io.Writer, terminal bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("MCP_SANDBOX_DEBUG") != "" {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if terminal {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}
