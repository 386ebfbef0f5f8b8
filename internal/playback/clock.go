/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the authoritative, frame-quantized timeline clock.
//
// The clock never reads its position from a media resource. It counts whole
// frames of wall-clock time delivered by a FrameScheduler and carries the
// fractional remainder between ticks so long sessions do not drift.
package playback

import (
	"sync"
	"time"
)

// maxTickGap caps the elapsed time credited to a single tick so the scaled
// carry cannot overflow after a long process suspension.
const maxTickGap = time.Hour

// Observer receives clock notifications. Nil fields are skipped.
type Observer struct {
	OnTimeUpdate  func(sec float64)
	OnStateChange func(state State)
	OnEndReached  func()
}

// Config configures a Clock.
type Config struct {
	Rate      FrameRate
	StartSec  float64
	EndSec    float64
	Scheduler FrameScheduler
}

type notificationKind int

const (
	notifyTime notificationKind = iota
	notifyState
	notifyEnd
)

type notification struct {
	kind  notificationKind
	sec   float64
	state State
}

type observerEntry struct {
	id  int
	obs Observer
}

// Clock owns the global timeline position as an integer frame count.
type Clock struct {
	rate  FrameRate
	sched FrameScheduler

	mu          sync.Mutex
	state       State
	frame       int64
	startFrame  int64
	endFrame    int64
	lastTick    time.Time
	carry       int64 // nanoseconds scaled by rate.Num
	loopGen     uint64
	cancelFrame func()

	observers      []observerEntry
	nextObserverID int
	pending        []notification
	dispatching    bool
}

// New creates a stopped clock positioned at the start bound.
func New(cfg Config) (*Clock, error) {
	if err := cfg.Rate.Validate(); err != nil {
		return nil, err
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = NewTickerScheduler(DefaultTickInterval)
	}

	c := &Clock{
		rate:  cfg.Rate.Reduced(),
		sched: sched,
		state: StateStopped,
	}
	c.startFrame, c.endFrame = c.boundFrames(cfg.StartSec, cfg.EndSec)
	c.frame = c.startFrame
	return c, nil
}

// Subscribe registers an observer and returns a function removing it.
func (c *Clock) Subscribe(obs Observer) func() {
	c.mu.Lock()
	c.nextObserverID++
	id := c.nextObserverID
	c.observers = append(c.observers, observerEntry{id: id, obs: obs})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, entry := range c.observers {
			if entry.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Play starts or resumes the tick loop. Playing from the end bound rewinds
// to the start bound first.
func (c *Clock) Play() {
	c.mu.Lock()
	if c.state == StatePlaying {
		c.mu.Unlock()
		return
	}
	if c.frame >= c.endFrame {
		c.frame = c.startFrame
		c.queueTimeLocked()
	}
	c.lastTick = c.sched.Now()
	c.carry = 0
	c.setStateLocked(StatePlaying)
	c.scheduleLocked()
	c.mu.Unlock()

	c.flush()
}

// Pause halts the tick loop and keeps the position.
func (c *Clock) Pause() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.cancelLocked()
	c.setStateLocked(StatePaused)
	c.mu.Unlock()

	c.flush()
}

// Stop halts the tick loop and resets the position to the start bound.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.cancelLocked()
	c.frame = c.startFrame
	c.carry = 0
	c.setStateLocked(StateStopped)
	c.queueTimeLocked()
	c.mu.Unlock()

	c.flush()
}

// TogglePlayPause pauses when playing and plays otherwise.
func (c *Clock) TogglePlayPause() {
	if c.State() == StatePlaying {
		c.Pause()
		return
	}
	c.Play()
}

// Seek moves to the frame nearest sec, clamped to the bounds. The position
// reads back immediately. Observers are notified before Seek returns unless
// another goroutine is already delivering notifications, such as a ticker
// tick in progress; that goroutine then delivers the seek update after the
// ones queued ahead of it.
func (c *Clock) Seek(sec float64) {
	c.mu.Lock()
	c.frame = c.clampLocked(c.rate.FrameAt(sec))
	c.queueTimeLocked()
	c.mu.Unlock()

	c.flush()
}

// SetBounds updates the clamp window and re-clamps the position. The caller
// guarantees startSec <= endSec.
func (c *Clock) SetBounds(startSec, endSec float64) {
	c.mu.Lock()
	c.startFrame, c.endFrame = c.boundFrames(startSec, endSec)
	if clamped := c.clampLocked(c.frame); clamped != c.frame {
		c.frame = clamped
		c.queueTimeLocked()
	}
	c.mu.Unlock()

	c.flush()
}

// Bounds returns the clamp window in seconds.
func (c *Clock) Bounds() (startSec, endSec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate.SecondsAt(c.startFrame), c.rate.SecondsAt(c.endFrame)
}

// CurrentFrame returns the global frame.
func (c *Clock) CurrentFrame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// CurrentTime returns the global frame in seconds.
func (c *Clock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate.SecondsAt(c.frame)
}

// State returns the transport state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rate returns the configured frame rate.
func (c *Clock) Rate() FrameRate {
	return c.rate
}

func (c *Clock) tick(gen uint64, now time.Time) {
	c.mu.Lock()
	if gen != c.loopGen || c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.cancelFrame = nil

	elapsed := now.Sub(c.lastTick)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxTickGap {
		elapsed = maxTickGap
	}
	c.lastTick = now

	// One frame costs 1e9*Den units of ns*Num. Only whole frames are consumed;
	// the remainder stays in carry for the next tick.
	c.carry += int64(elapsed) * c.rate.Num
	unit := int64(time.Second) * c.rate.Den
	if frames := c.carry / unit; frames > 0 {
		c.carry -= frames * unit
		next := c.frame + frames
		if next >= c.endFrame {
			c.frame = c.endFrame
			c.carry = 0
			c.loopGen++
			c.queueTimeLocked()
			c.setStateLocked(StatePaused)
			c.pending = append(c.pending, notification{kind: notifyEnd})
			c.mu.Unlock()

			c.flush()
			return
		}
		c.frame = next
		c.queueTimeLocked()
	}

	c.scheduleLocked()
	c.mu.Unlock()

	c.flush()
}

func (c *Clock) scheduleLocked() {
	c.loopGen++
	gen := c.loopGen
	c.cancelFrame = c.sched.RequestFrame(func(now time.Time) {
		c.tick(gen, now)
	})
}

func (c *Clock) cancelLocked() {
	if c.cancelFrame != nil {
		c.cancelFrame()
		c.cancelFrame = nil
	}
	c.loopGen++
}

// boundFrames rounds the start to the nearest frame and floors the end so the
// final frame never starts after endSec.
func (c *Clock) boundFrames(startSec, endSec float64) (int64, int64) {
	start := c.rate.FrameAt(startSec)
	end := c.rate.LastFrameAt(endSec)
	if end < start {
		end = start
	}
	return start, end
}

func (c *Clock) clampLocked(frame int64) int64 {
	if frame < c.startFrame {
		return c.startFrame
	}
	if frame > c.endFrame {
		return c.endFrame
	}
	return frame
}

func (c *Clock) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.pending = append(c.pending, notification{kind: notifyState, state: s})
}

func (c *Clock) queueTimeLocked() {
	c.pending = append(c.pending, notification{kind: notifyTime, sec: c.rate.SecondsAt(c.frame)})
}

// flush drains queued notifications in order, outside the lock. A listener
// calling back into the clock has its own notifications drained by the
// outermost flush after it returns.
func (c *Clock) flush() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.pending) > 0 {
		n := c.pending[0]
		c.pending = c.pending[1:]
		observers := make([]Observer, 0, len(c.observers))
		for _, entry := range c.observers {
			observers = append(observers, entry.obs)
		}
		c.mu.Unlock()

		for _, obs := range observers {
			deliver(obs, n)
		}

		c.mu.Lock()
	}
	c.pending = nil
	c.dispatching = false
	c.mu.Unlock()
}

func deliver(obs Observer, n notification) {
	switch n.kind {
	case notifyTime:
		if obs.OnTimeUpdate != nil {
			obs.OnTimeUpdate(n.sec)
		}
	case notifyState:
		if obs.OnStateChange != nil {
			obs.OnStateChange(n.state)
		}
	case notifyEnd:
		if obs.OnEndReached != nil {
			obs.OnEndReached()
		}
	}
}
