/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sync"
	"time"
)

// FrameScheduler delivers one-shot callbacks tied to display refresh.
// The Clock requests the next callback from inside the current one.
type FrameScheduler interface {
	Now() time.Time
	RequestFrame(fn func(now time.Time)) (cancel func())
}

// DefaultTickInterval approximates a 60 Hz display refresh.
const DefaultTickInterval = 16 * time.Millisecond

// TickerScheduler fires callbacks on a timer after a fixed interval.
type TickerScheduler struct {
	Interval time.Duration
}

// NewTickerScheduler returns a scheduler firing every interval.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &TickerScheduler{Interval: interval}
}

// Now returns the wall clock.
func (s *TickerScheduler) Now() time.Time {
	return time.Now()
}

// RequestFrame schedules fn after one interval.
func (s *TickerScheduler) RequestFrame(fn func(now time.Time)) func() {
	timer := time.AfterFunc(s.Interval, func() {
		fn(time.Now())
	})
	return func() { timer.Stop() }
}

// ManualScheduler is driven explicitly with Advance. Its time only moves
// when told to, which makes tick sequences reproducible.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualRequest
}

type manualRequest struct {
	fn        func(time.Time)
	cancelled bool
}

// NewManualScheduler creates a scheduler frozen at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the simulated time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// RequestFrame queues fn for the next Advance.
func (s *ManualScheduler) RequestFrame(fn func(now time.Time)) func() {
	req := &manualRequest{fn: fn}
	s.mu.Lock()
	s.pending = append(s.pending, req)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		req.cancelled = true
		s.mu.Unlock()
	}
}

// Advance moves simulated time by d and fires every callback that was
// pending before the call. Callbacks requested while firing wait for the
// next Advance.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	now := s.now
	due := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, req := range due {
		s.mu.Lock()
		cancelled := req.cancelled
		s.mu.Unlock()
		if !cancelled {
			req.fn(now)
		}
	}
}

// Pending reports how many live callbacks are queued.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.pending {
		if !req.cancelled {
			n++
		}
	}
	return n
}
