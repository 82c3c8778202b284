// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type recorder struct {
	failed  bool
	message string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
}

func TestRequireReceive(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second); got != 7 {
		t.Fatalf("RequireReceive = %d, want 7", got)
	}
}

func TestRequireClosed(t *testing.T) {
	t.Parallel()

	ch := make(chan struct{})
	close(ch)
	RequireClosed(t, ch, time.Second, "closed channel")
}

func TestRequireEventuallyReportsTimeout(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	RequireEventually(rec, 30*time.Millisecond, func() bool { return false }, "waiting for %s", "nothing")
	if !rec.failed {
		t.Fatal("RequireEventually did not fail")
	}
	if !strings.Contains(rec.message, "waiting for nothing") {
		t.Fatalf("failure message %q does not contain formatted context", rec.message)
	}
}

func TestUniqueIDIncreases(t *testing.T) {
	t.Parallel()

	first := UniqueID("session")
	second := UniqueID("session")
	if first == second {
		t.Fatalf("UniqueID returned %q twice", first)
	}
	if !strings.HasPrefix(first, "session-") {
		t.Fatalf("UniqueID = %q, want session- prefix", first)
	}
}
