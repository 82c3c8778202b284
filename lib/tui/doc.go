// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui renders risk reports for a human at a terminal. The JSON
// report stays the machine interface; this package only produces the
// colored summary printed alongside it when stderr is a terminal.
package tui
