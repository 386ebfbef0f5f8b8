/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeadlessOptions configures a HeadlessElement.
type HeadlessOptions struct {
	Prober       Prober
	ProbeTimeout time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// HeadlessElement is an Element without output. Metadata comes from a Prober
// in the background and the position follows the wall clock while playing.
// It backs the CLI and server when no rendering host is attached.
type HeadlessElement struct {
	prober  Prober
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu        sync.Mutex
	source    string
	loadSeq   uint64
	ready     bool
	loadErr   error
	meta      Metadata
	waiters   []func(error)
	position  float64
	playing   bool
	startedAt time.Time
	muted     bool
}

// NewHeadlessElement creates an unassigned element.
func NewHeadlessElement(opts HeadlessOptions) *HeadlessElement {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &HeadlessElement{
		prober:  opts.Prober,
		timeout: opts.ProbeTimeout,
		now:     opts.Now,
		logger:  opts.Logger.With().Str("component", "headless-element").Logger(),
	}
}

// HeadlessFactory returns a Factory producing headless elements.
func HeadlessFactory(opts HeadlessOptions) Factory {
	return func() Element {
		return NewHeadlessElement(opts)
	}
}

func (e *HeadlessElement) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// SetSource assigns ref and probes it in the background. Waiters registered
// earlier stay queued and fire when this load completes.
func (e *HeadlessElement) SetSource(ref string) {
	e.mu.Lock()
	e.source = ref
	e.loadSeq++
	seq := e.loadSeq
	e.ready = false
	e.loadErr = nil
	e.meta = Metadata{}
	e.position = 0
	e.playing = false
	e.mu.Unlock()

	if ref == "" {
		return
	}
	go e.load(seq, ref)
}

func (e *HeadlessElement) load(seq uint64, ref string) {
	var (
		meta Metadata
		err  error
	)
	if e.prober != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		meta, err = e.prober.Probe(ctx, ref)
		cancel()
	}

	e.mu.Lock()
	if seq != e.loadSeq {
		e.mu.Unlock()
		return
	}
	e.ready = true
	e.loadErr = err
	e.meta = meta
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn().Err(err).Str("source", ref).Msg("media load failed")
	} else {
		e.logger.Debug().Str("source", ref).Float64("duration", meta.DurationSec).Msg("media metadata ready")
	}
	for _, fn := range waiters {
		fn(err)
	}
}

// Clear detaches the source and drops pending waiters.
func (e *HeadlessElement) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = ""
	e.loadSeq++
	e.ready = false
	e.loadErr = nil
	e.meta = Metadata{}
	e.waiters = nil
	e.position = 0
	e.playing = false
}

func (e *HeadlessElement) WhenReady(fn func(err error)) {
	e.mu.Lock()
	if e.ready {
		err := e.loadErr
		e.mu.Unlock()
		fn(err)
		return
	}
	e.waiters = append(e.waiters, fn)
	e.mu.Unlock()
}

// Ready reports whether metadata for the current source is available.
func (e *HeadlessElement) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Metadata returns the probed metadata of the current source.
func (e *HeadlessElement) Metadata() Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta
}

func (e *HeadlessElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

func (e *HeadlessElement) currentTimeLocked() float64 {
	pos := e.position
	if e.playing {
		pos += e.now().Sub(e.startedAt).Seconds()
	}
	if e.meta.DurationSec > 0 && pos > e.meta.DurationSec {
		pos = e.meta.DurationSec
	}
	return pos
}

func (e *HeadlessElement) Seek(sec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sec < 0 {
		sec = 0
	}
	e.position = sec
	if e.playing {
		e.startedAt = e.now()
	}
}

func (e *HeadlessElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == "" {
		return ErrNoSource
	}
	if e.ready && e.loadErr != nil {
		return fmt.Errorf("play %s: %w", e.source, e.loadErr)
	}
	if e.playing {
		return nil
	}
	e.playing = true
	e.startedAt = e.now()
	return nil
}

func (e *HeadlessElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return
	}
	e.position = e.currentTimeLocked()
	e.playing = false
}

func (e *HeadlessElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

func (e *HeadlessElement) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

func (e *HeadlessElement) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}
