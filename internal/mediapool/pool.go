/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediapool keeps one playable media element per segment and kind
// ready ahead of time, so switching segments at a boundary does not wait on
// a load.
package mediapool

import (
	"fmt"
	"math"
	"sync"

	"github.com/friendsincode/reeltime/internal/media"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultSeekTolerance is the divergence, in seconds, an element may drift
// from the requested source time before activate seeks it.
const DefaultSeekTolerance = 0.05

// seekEpsilon keeps a divergence of exactly the tolerance from seeking.
const seekEpsilon = 1e-9

// Kind selects the video or audio element of a segment.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Kinds lists every media kind in evaluation order.
var Kinds = []Kind{KindVideo, KindAudio}

// KindOf maps a track kind to its media kind.
func KindOf(k models.TrackKind) Kind {
	if k == models.TrackAudio {
		return KindAudio
	}
	return KindVideo
}

// ActiveMedia describes the pooled element a kind currently renders from.
type ActiveMedia struct {
	SegmentID     string
	Kind          Kind
	Element       media.Element
	SourceTimeSec float64
	IsActive      bool
}

// ErrorHandler receives load and playback failures. It is never called with
// the pool lock held.
type ErrorHandler func(segmentID string, kind Kind, err error)

// Options configures a Pool.
type Options struct {
	Factory       media.Factory
	Size          int     // per kind; 0 disables eviction
	SeekTolerance float64 // 0 selects DefaultSeekTolerance
	OnError       ErrorHandler
	Logger        zerolog.Logger
}

type key struct {
	id   string
	kind Kind
}

type entry struct {
	key
	el        media.Element
	ref       string
	gen       uint64
	preloaded bool
	target    float64 // source time to align to once metadata is ready
	lastUsed  uint64
}

// Pool owns the media elements of a timeline. Loads, seeks and playback calls
// happen outside the pool lock so ready callbacks may fire synchronously.
type Pool struct {
	factory media.Factory
	size    int
	tol     float64
	onError ErrorHandler
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[key]*entry
	active  map[Kind]*entry
	gen     uint64
	clock   uint64
}

// New creates an empty pool.
func New(opts Options) (*Pool, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("mediapool: element factory is required")
	}
	if opts.Size < 0 {
		return nil, fmt.Errorf("mediapool: negative size %d", opts.Size)
	}
	if opts.SeekTolerance < 0 {
		return nil, fmt.Errorf("mediapool: negative seek tolerance %v", opts.SeekTolerance)
	}
	if opts.SeekTolerance == 0 {
		opts.SeekTolerance = DefaultSeekTolerance
	}
	return &Pool{
		factory: opts.Factory,
		size:    opts.Size,
		tol:     opts.SeekTolerance,
		onError: opts.OnError,
		logger:  opts.Logger.With().Str("component", "mediapool").Logger(),
		entries: make(map[key]*entry),
		active:  make(map[Kind]*entry),
	}, nil
}

// GetResource returns the pooled element for a segment, creating it on first
// use. Video elements start muted.
func (p *Pool) GetResource(segmentID string, kind Kind) media.Element {
	p.mu.Lock()
	e, evicted := p.ensureLocked(segmentID, kind)
	p.touchLocked(e)
	el := e.el
	p.mu.Unlock()

	p.release(evicted)
	return el
}

// Preload assigns ref to the segment's element unless it already holds it and
// aligns the element to the segment's source in-point once metadata arrives.
// Preloading the same id with the same reference again is a no-op.
func (p *Pool) Preload(seg models.Segment, ref string, kind Kind) {
	if ref == "" {
		p.report(seg.ID, kind, fmt.Errorf("preload %s: %w", seg.ID, media.ErrNoSource))
		return
	}

	p.mu.Lock()
	e, evicted := p.ensureLocked(seg.ID, kind)
	if e.preloaded && e.ref == ref {
		p.mu.Unlock()
		p.release(evicted)
		return
	}
	p.touchLocked(e)
	e.preloaded = true
	e.target = seg.SourceInSec
	assign := e.ref != ref
	if assign {
		p.gen++
		e.gen = p.gen
		e.ref = ref
	}
	k, gen, el := e.key, e.gen, e.el
	p.mu.Unlock()

	p.release(evicted)
	if assign {
		el.SetSource(ref)
		telemetry.PoolLoadsTotal.WithLabelValues(string(kind)).Inc()
		p.logger.Debug().Str("segment_id", seg.ID).Str("kind", string(kind)).Uint64("generation", gen).Msg("preloading segment")
	}
	el.WhenReady(func(err error) { p.onReady(k, gen, err) })
}

func (p *Pool) onReady(k key, gen uint64, err error) {
	p.mu.Lock()
	e, ok := p.entries[k]
	if !ok || e.gen != gen {
		p.mu.Unlock()
		telemetry.PoolStaleCallbacksTotal.Inc()
		p.logger.Debug().Str("segment_id", k.id).Str("kind", string(k.kind)).Uint64("generation", gen).Msg("discarding stale metadata callback")
		return
	}
	el, target := e.el, e.target
	p.mu.Unlock()

	if err != nil {
		p.report(k.id, k.kind, err)
		return
	}
	if p.diverges(el.CurrentTime(), target) {
		el.Seek(target)
		telemetry.PoolSeeksTotal.WithLabelValues(string(k.kind), "align").Inc()
	}
}

// Activate marks the segment's element as the active one for kind and seeks
// it when it is more than the tolerance away from sourceTimeSec. It returns
// false when the segment was never preloaded.
func (p *Pool) Activate(segmentID string, sourceTimeSec float64, kind Kind) (ActiveMedia, bool) {
	p.mu.Lock()
	e, ok := p.entries[key{segmentID, kind}]
	if !ok {
		p.mu.Unlock()
		return ActiveMedia{}, false
	}
	p.touchLocked(e)
	e.target = sourceTimeSec
	var previous media.Element
	if cur := p.active[kind]; cur != nil && cur != e {
		previous = cur.el
	}
	p.active[kind] = e
	el := e.el
	p.mu.Unlock()

	if previous != nil {
		previous.Pause()
	}
	if p.diverges(el.CurrentTime(), sourceTimeSec) {
		el.Seek(sourceTimeSec)
		telemetry.PoolSeeksTotal.WithLabelValues(string(kind), "activate").Inc()
	}
	return ActiveMedia{
		SegmentID:     segmentID,
		Kind:          kind,
		Element:       el,
		SourceTimeSec: sourceTimeSec,
		IsActive:      true,
	}, true
}

func (p *Pool) diverges(current, requested float64) bool {
	return math.Abs(current-requested) > p.tol+seekEpsilon
}

// Active returns the active element for kind.
func (p *Pool) Active(kind Kind) (ActiveMedia, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.active[kind]
	if e == nil {
		return ActiveMedia{}, false
	}
	return ActiveMedia{SegmentID: e.id, Kind: kind, Element: e.el, SourceTimeSec: e.target, IsActive: true}, true
}

// Deactivate pauses the active element of kind and clears the active pointer.
func (p *Pool) Deactivate(kind Kind) {
	p.mu.Lock()
	e := p.active[kind]
	delete(p.active, kind)
	p.mu.Unlock()

	if e != nil {
		e.el.Pause()
	}
}

// PlayActive starts the active element of kind. Failures go to the error
// handler; they never stop the caller.
func (p *Pool) PlayActive(kind Kind) {
	p.mu.Lock()
	e := p.active[kind]
	p.mu.Unlock()
	if e == nil {
		return
	}
	if err := e.el.Play(); err != nil {
		p.report(e.id, kind, fmt.Errorf("play %s: %w", e.id, err))
	}
}

// PauseAll pauses every pooled element of kind.
func (p *Pool) PauseAll(kind Kind) {
	p.mu.Lock()
	els := make([]media.Element, 0, len(p.entries))
	for k, e := range p.entries {
		if k.kind == kind {
			els = append(els, e.el)
		}
	}
	p.mu.Unlock()

	for _, el := range els {
		el.Pause()
	}
}

// IsPreloaded reports whether the segment has been preloaded for kind.
func (p *Pool) IsPreloaded(segmentID string, kind Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key{segmentID, kind}]
	return ok && e.preloaded
}

// Len returns the number of pooled elements of kind.
func (p *Pool) Len(kind Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k := range p.entries {
		if k.kind == kind {
			n++
		}
	}
	return n
}

// Remove pauses, clears and drops both elements of a segment.
func (p *Pool) Remove(segmentID string) {
	p.mu.Lock()
	var removed []*entry
	for _, kind := range Kinds {
		k := key{segmentID, kind}
		if e, ok := p.entries[k]; ok {
			removed = append(removed, p.dropLocked(e))
		}
	}
	p.mu.Unlock()

	p.release(removed)
	if len(removed) > 0 {
		p.logger.Debug().Str("segment_id", segmentID).Msg("released segment media")
	}
}

// Dispose drops every pooled element.
func (p *Pool) Dispose() {
	p.mu.Lock()
	removed := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		removed = append(removed, p.dropLocked(e))
	}
	p.mu.Unlock()

	p.release(removed)
}

func (p *Pool) ensureLocked(segmentID string, kind Kind) (*entry, []*entry) {
	k := key{segmentID, kind}
	if e, ok := p.entries[k]; ok {
		return e, nil
	}
	el := p.factory()
	if kind == KindVideo {
		el.SetMuted(true)
	}
	e := &entry{key: k, el: el}
	p.entries[k] = e
	telemetry.PoolResources.WithLabelValues(string(kind)).Inc()
	return e, p.evictLocked(kind, e)
}

// evictLocked drops least recently used elements of kind until the kind fits
// the size limit. The active element and keep are never evicted.
func (p *Pool) evictLocked(kind Kind, keep *entry) []*entry {
	if p.size <= 0 {
		return nil
	}
	count := 0
	for k := range p.entries {
		if k.kind == kind {
			count++
		}
	}

	var evicted []*entry
	for count > p.size {
		var victim *entry
		for k, e := range p.entries {
			if k.kind != kind || e == keep || e == p.active[kind] {
				continue
			}
			if victim == nil || e.lastUsed < victim.lastUsed {
				victim = e
			}
		}
		if victim == nil {
			break
		}
		evicted = append(evicted, p.dropLocked(victim))
		telemetry.PoolEvictionsTotal.WithLabelValues(string(kind)).Inc()
		p.logger.Debug().Str("segment_id", victim.id).Str("kind", string(kind)).Msg("evicted pooled media")
		count--
	}
	return evicted
}

func (p *Pool) dropLocked(e *entry) *entry {
	delete(p.entries, e.key)
	if p.active[e.kind] == e {
		delete(p.active, e.kind)
	}
	telemetry.PoolResources.WithLabelValues(string(e.kind)).Dec()
	return e
}

func (p *Pool) touchLocked(e *entry) {
	p.clock++
	e.lastUsed = p.clock
}

func (p *Pool) release(entries []*entry) {
	for _, e := range entries {
		e.el.Pause()
		e.el.Clear()
	}
}

func (p *Pool) report(segmentID string, kind Kind, err error) {
	telemetry.MediaErrorsTotal.WithLabelValues(string(kind)).Inc()
	p.logger.Warn().Err(err).Str("segment_id", segmentID).Str("kind", string(kind)).Msg("media error")
	if p.onError != nil {
		p.onError(segmentID, kind, err)
	}
}
