/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/friendsincode/reeltime/internal/media"
	"github.com/friendsincode/reeltime/internal/mediapool"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/rs/zerolog"
)

// MediaPool is the part of the media pool the coordinator drives.
type MediaPool interface {
	Preload(seg models.Segment, ref string, kind mediapool.Kind)
	Activate(segmentID string, sourceTimeSec float64, kind mediapool.Kind) (mediapool.ActiveMedia, bool)
	Deactivate(kind mediapool.Kind)
	PlayActive(kind mediapool.Kind)
	PauseAll(kind mediapool.Kind)
	Remove(segmentID string)
	IsPreloaded(segmentID string, kind mediapool.Kind) bool
}

// Resolver turns a segment media reference into a loadable locator.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ExpiringResolver is a Resolver whose locators stop working at a known time,
// such as presigned URLs. A zero expiry never expires.
type ExpiringResolver interface {
	Resolver
	ResolveWithExpiry(ctx context.Context, ref string) (string, time.Time, error)
}

const (
	resolveRetryBase = time.Second
	resolveRetryMax  = 30 * time.Second
	// Locators this close to expiry are refreshed before a new load.
	locatorRefreshMargin = 30 * time.Second
)

// SegmentChange reports that the active segment of a kind changed. Current is
// nil when the position entered a gap.
type SegmentChange struct {
	Kind       mediapool.Kind
	PreviousID string
	Current    *models.Segment
	TimeSec    float64
	SourceSec  float64
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Pool            MediaPool
	Resolver        Resolver // nil uses media references as-is
	OnSegmentChange func(SegmentChange)
	OnError         mediapool.ErrorHandler
	Now             func() time.Time // nil uses time.Now
	Logger          zerolog.Logger
}

type locator struct {
	ref     string
	loc     string
	err     error
	expires time.Time
	fails   int
	retryAt time.Time // zero when the failure is permanent
}

// Coordinator keeps the pool in step with the clock: it activates the
// segment under the playhead for each kind and preloads the one after it.
type Coordinator struct {
	pool     MediaPool
	resolver Resolver
	onChange func(SegmentChange)
	onError  mediapool.ErrorHandler
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	segments []models.Segment
	tracks   map[mediapool.Kind][]Track
	current  map[mediapool.Kind]*models.Segment
	locators map[string]locator
	playing  bool
	lastTime float64
}

// NewCoordinator creates a coordinator with an empty timeline.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		pool:     opts.Pool,
		resolver: opts.Resolver,
		onChange: opts.OnSegmentChange,
		onError:  opts.OnError,
		now:      now,
		logger:   opts.Logger.With().Str("component", "timeline").Logger(),
		tracks:   make(map[mediapool.Kind][]Track),
		current:  make(map[mediapool.Kind]*models.Segment),
		locators: make(map[string]locator),
	}
}

// SetSegments validates and installs a new segment list. Pool resources of
// segments that disappeared are released immediately. Call HandleTimeUpdate
// afterwards to re-evaluate the playhead.
func (c *Coordinator) SetSegments(segs []models.Segment) error {
	if err := models.ValidateSegments(segs); err != nil {
		return err
	}

	next := slices.Clone(segs)
	keep := make(map[string]string, len(next))
	for _, s := range next {
		keep[s.ID] = s.MediaRef
	}

	c.mu.Lock()
	var removed []string
	for _, s := range c.segments {
		if _, ok := keep[s.ID]; !ok {
			removed = append(removed, s.ID)
		}
	}
	for id, l := range c.locators {
		if ref, ok := keep[id]; !ok || ref != l.ref {
			delete(c.locators, id)
		}
	}
	c.segments = next
	c.tracks = make(map[mediapool.Kind][]Track)
	for _, tr := range BuildTracks(next) {
		c.tracks[tr.Kind] = append(c.tracks[tr.Kind], tr)
	}
	for _, id := range removed {
		c.pool.Remove(id)
	}
	c.mu.Unlock()

	if len(removed) > 0 {
		c.logger.Debug().Strs("removed", removed).Msg("released media of deleted segments")
	}
	c.logger.Debug().Int("segments", len(next)).Msg("timeline updated")
	return nil
}

// Segments returns a copy of the installed segment list.
func (c *Coordinator) Segments() []models.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.segments)
}

// TimelineEnd returns the last out point of the installed segments.
func (c *Coordinator) TimelineEnd() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.TimelineEnd(c.segments)
}

// Current returns the segment active for kind.
func (c *Coordinator) Current(kind mediapool.Kind) (models.Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.current[kind]; s != nil {
		return *s, true
	}
	return models.Segment{}, false
}

// HandleTimeUpdate activates the covering segment of each kind at globalSec
// and preloads the segment that follows it.
func (c *Coordinator) HandleTimeUpdate(globalSec float64) {
	c.mu.Lock()
	c.lastTime = globalSec
	var changes []SegmentChange
	for _, kind := range mediapool.Kinds {
		if ch, changed := c.syncKindLocked(kind, globalSec); changed {
			changes = append(changes, ch)
		}
	}
	c.mu.Unlock()

	for _, ch := range changes {
		c.logChange(ch)
		if c.onChange != nil {
			c.onChange(ch)
		}
	}
}

func (c *Coordinator) syncKindLocked(kind mediapool.Kind, t float64) (SegmentChange, bool) {
	prev := c.current[kind]
	prevID := ""
	if prev != nil {
		prevID = prev.ID
	}

	cur := c.selectLocked(kind, t)
	if cur == nil {
		if prev != nil {
			c.pool.Deactivate(kind)
			delete(c.current, kind)
			return SegmentChange{Kind: kind, PreviousID: prevID, TimeSec: t}, true
		}
		if next := c.upcomingLocked(kind, t, nil); next != nil {
			c.preloadLocked(*next, kind)
		}
		return SegmentChange{}, false
	}

	sourceSec := SourceTime(*cur, t)
	if c.preloadLocked(*cur, kind) {
		if _, ok := c.pool.Activate(cur.ID, sourceSec, kind); !ok {
			c.pool.Deactivate(kind)
		}
	} else {
		c.pool.Deactivate(kind)
	}
	if next := c.upcomingLocked(kind, t, cur); next != nil {
		c.preloadLocked(*next, kind)
	}

	// A new media reference on the same segment reloads its element.
	changed := prev == nil || prev.ID != cur.ID || prev.MediaRef != cur.MediaRef
	c.current[kind] = cur
	if changed && c.playing {
		c.pool.PlayActive(kind)
	}
	if !changed {
		return SegmentChange{}, false
	}
	seg := *cur
	return SegmentChange{Kind: kind, PreviousID: prevID, Current: &seg, TimeSec: t, SourceSec: sourceSec}, true
}

// selectLocked returns the covering segment of the lowest-order track of kind.
func (c *Coordinator) selectLocked(kind mediapool.Kind, t float64) *models.Segment {
	for i := range c.tracks[kind] {
		tr := &c.tracks[kind][i]
		if idx, ok := Locate(*tr, t); ok {
			return &tr.Segments[idx]
		}
	}
	return nil
}

// upcomingLocked returns the segment that will be shown after cur ends, or the
// earliest segment starting after t when the playhead sits in a gap.
func (c *Coordinator) upcomingLocked(kind mediapool.Kind, t float64, cur *models.Segment) *models.Segment {
	if cur != nil {
		if s := c.selectLocked(kind, cur.OutSec); s != nil && s.ID != cur.ID {
			return s
		}
	}
	var best *models.Segment
	for i := range c.tracks[kind] {
		tr := &c.tracks[kind][i]
		if idx, ok := Next(*tr, t); ok {
			if s := &tr.Segments[idx]; best == nil || s.InSec < best.InSec {
				best = s
			}
		}
	}
	return best
}

// preloadLocked resolves the segment locator and hands it to the pool, which
// ignores repeats. A resolved locator is reused until its reference changes,
// or, once it nears expiry, until the pool needs to load it again. Failures
// are retried with backoff.
func (c *Coordinator) preloadLocked(seg models.Segment, kind mediapool.Kind) bool {
	now := c.now()
	l, ok := c.locators[seg.ID]
	if !ok || l.ref != seg.MediaRef || c.staleLocked(l, seg.ID, kind, now) {
		l = c.resolveLocked(seg, kind, l, now)
		c.locators[seg.ID] = l
	}
	if l.err != nil {
		return false
	}
	c.pool.Preload(seg, l.loc, kind)
	return true
}

func (c *Coordinator) staleLocked(l locator, segmentID string, kind mediapool.Kind, now time.Time) bool {
	if l.err != nil {
		return !l.retryAt.IsZero() && !now.Before(l.retryAt)
	}
	if l.expires.IsZero() || now.Before(l.expires.Add(-locatorRefreshMargin)) {
		return false
	}
	return !c.pool.IsPreloaded(segmentID, kind)
}

func (c *Coordinator) resolveLocked(seg models.Segment, kind mediapool.Kind, prev locator, now time.Time) locator {
	l := locator{ref: seg.MediaRef, loc: seg.MediaRef}
	if seg.MediaRef == "" {
		l.err = fmt.Errorf("segment %s: %w", seg.ID, media.ErrNoSource)
	} else if er, ok := c.resolver.(ExpiringResolver); ok {
		l.loc, l.expires, l.err = er.ResolveWithExpiry(context.Background(), seg.MediaRef)
	} else if c.resolver != nil {
		l.loc, l.err = c.resolver.Resolve(context.Background(), seg.MediaRef)
	}
	if l.err == nil {
		return l
	}

	if seg.MediaRef != "" {
		if prev.err != nil && prev.ref == seg.MediaRef {
			l.fails = prev.fails
		}
		l.fails++
		delay := resolveRetryBase << min(l.fails-1, 5)
		l.retryAt = now.Add(min(delay, resolveRetryMax))
	}
	c.logger.Debug().Err(l.err).Str("segment_id", seg.ID).Int("attempt", l.fails).Msg("media reference did not resolve")
	if c.onError != nil {
		c.onError(seg.ID, kind, l.err)
	}
	return l
}

// HandleStateChange plays the active elements when the clock starts and
// pauses every element when it stops or pauses.
func (c *Coordinator) HandleStateChange(state playback.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = state == playback.StatePlaying
	for _, kind := range mediapool.Kinds {
		if c.playing {
			if c.current[kind] != nil {
				c.pool.PlayActive(kind)
			}
			continue
		}
		c.pool.PauseAll(kind)
	}
}

// HandleEndReached pauses every driven element.
func (c *Coordinator) HandleEndReached() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
	for _, kind := range mediapool.Kinds {
		c.pool.PauseAll(kind)
	}
}

func (c *Coordinator) logChange(ch SegmentChange) {
	ev := c.logger.Debug().Str("kind", string(ch.Kind)).Str("previous", ch.PreviousID).Float64("time", ch.TimeSec)
	if ch.Current == nil {
		ev.Msg("entered gap")
		return
	}
	ev.Str("segment_id", ch.Current.ID).Float64("source_time", ch.SourceSec).Msg("segment switch")
}
