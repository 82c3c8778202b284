// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// SessionClock is the single time source of one analysis session. Now
// is non-decreasing across all callers: a reading earlier than the
// latest one handed out is replaced by the latest one. Timers and
// sleeps are delegated to the underlying clock unchanged.
type SessionClock struct {
	base Clock

	mu   sync.Mutex
	last time.Time
}

// NewSession wraps base. A nil base uses Real().
func NewSession(base Clock) *SessionClock {
	if base == nil {
		base = Real()
	}
	return &SessionClock{base: base}
}

// Now returns max(base.Now(), previous result).
func (s *SessionClock) Now() time.Time {
	now := s.base.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.last) {
		return s.last
	}
	s.last = now
	return now
}

// Since returns the time elapsed since t according to this clock.
func (s *SessionClock) Since(t time.Time) time.Duration {
	return s.Now().Sub(t)
}

func (s *SessionClock) After(d time.Duration) <-chan time.Time { return s.base.After(d) }

func (s *SessionClock) NewTicker(d time.Duration) *Ticker { return s.base.NewTicker(d) }

func (s *SessionClock) Sleep(d time.Duration) { s.base.Sleep(d) }
