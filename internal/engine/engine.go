/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine composes the playback clock, media pool and timeline
// coordinator into one owned, disposable playback instance.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/reeltime/internal/events"
	"github.com/friendsincode/reeltime/internal/media"
	"github.com/friendsincode/reeltime/internal/mediapool"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/friendsincode/reeltime/internal/telemetry"
	"github.com/friendsincode/reeltime/internal/timeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrEngineNotFound is returned by Manager lookups for unknown projects.
	ErrEngineNotFound = errors.New("engine not found")
	// ErrDisposed is returned by mutating calls on a disposed engine.
	ErrDisposed = errors.New("engine disposed")
)

// Options configures an Engine.
type Options struct {
	ProjectID     string
	Rate          playback.FrameRate
	Scheduler     playback.FrameScheduler // nil uses a ticker at playback.DefaultTickInterval
	Factory       media.Factory
	PoolSize      int
	SeekTolerance float64
	Resolver      timeline.Resolver
	Bus           *events.Bus // optional
	Logger        zerolog.Logger
}

// Status is a point-in-time snapshot of an engine.
type Status struct {
	EngineID       string            `json:"engine_id"`
	ProjectID      string            `json:"project_id"`
	State          playback.State    `json:"state"`
	TimeSec        float64           `json:"time_sec"`
	Frame          int64             `json:"frame"`
	FrameRate      string            `json:"frame_rate"`
	StartSec       float64           `json:"start_sec"`
	EndSec         float64           `json:"end_sec"`
	CustomBounds   bool              `json:"custom_bounds"`
	TimelineEndSec float64           `json:"timeline_end_sec"`
	Segments       int               `json:"segments"`
	Active         map[string]string `json:"active"`
}

// Engine plays one timeline. It is safe for concurrent use.
type Engine struct {
	id        string
	projectID string
	clock     *playback.Clock
	pool      *mediapool.Pool
	coord     *timeline.Coordinator
	bus       *events.Bus
	logger    zerolog.Logger

	mu           sync.Mutex
	customBounds bool
	disposed     bool
	unsubscribe  func()
}

// New builds a stopped engine with an empty timeline.
func New(opts Options) (*Engine, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("engine: media factory is required")
	}

	e := &Engine{
		id:        uuid.NewString(),
		projectID: opts.ProjectID,
		bus:       opts.Bus,
	}
	e.logger = opts.Logger.With().Str("component", "engine").Str("project_id", opts.ProjectID).Str("engine_id", e.id).Logger()

	clock, err := playback.New(playback.Config{Rate: opts.Rate, Scheduler: opts.Scheduler})
	if err != nil {
		return nil, fmt.Errorf("engine clock: %w", err)
	}
	pool, err := mediapool.New(mediapool.Options{
		Factory:       opts.Factory,
		Size:          opts.PoolSize,
		SeekTolerance: opts.SeekTolerance,
		OnError:       e.handleMediaError,
		Logger:        e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine pool: %w", err)
	}

	now := time.Now
	if opts.Scheduler != nil {
		now = opts.Scheduler.Now
	}

	e.clock = clock
	e.pool = pool
	e.coord = timeline.NewCoordinator(timeline.CoordinatorOptions{
		Pool:            pool,
		Resolver:        opts.Resolver,
		OnSegmentChange: e.handleSegmentChange,
		OnError:         e.handleMediaError,
		Now:             now,
		Logger:          e.logger,
	})
	e.unsubscribe = clock.Subscribe(playback.Observer{
		OnTimeUpdate:  e.handleTimeUpdate,
		OnStateChange: e.handleStateChange,
		OnEndReached:  e.handleEndReached,
	})

	telemetry.EnginesActive.Inc()
	e.logger.Info().Str("frame_rate", opts.Rate.String()).Msg("engine created")
	return e, nil
}

// ID returns the engine instance id.
func (e *Engine) ID() string { return e.id }

// ProjectID returns the project the engine plays.
func (e *Engine) ProjectID() string { return e.projectID }

func (e *Engine) alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.disposed
}

// Play starts or resumes playback.
func (e *Engine) Play() {
	if e.alive() {
		e.clock.Play()
	}
}

// Pause halts playback and keeps the position.
func (e *Engine) Pause() {
	if e.alive() {
		e.clock.Pause()
	}
}

// Stop halts playback and returns to the start bound.
func (e *Engine) Stop() {
	if e.alive() {
		e.clock.Stop()
	}
}

// TogglePlayPause flips between playing and paused.
func (e *Engine) TogglePlayPause() {
	if e.alive() {
		e.clock.TogglePlayPause()
	}
}

// Seek moves the playhead to the frame nearest sec, clamped to the bounds.
func (e *Engine) Seek(sec float64) {
	if e.alive() {
		e.clock.Seek(sec)
	}
}

// SetBounds restricts playback to [startSec, endSec] until ClearBounds.
func (e *Engine) SetBounds(startSec, endSec float64) error {
	if err := timeline.ValidateBounds(startSec, endSec); err != nil {
		return err
	}
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.customBounds = true
	e.mu.Unlock()

	e.clock.SetBounds(startSec, endSec)
	return nil
}

// ClearBounds restores the default window [0, timeline end].
func (e *Engine) ClearBounds() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.customBounds = false
	e.mu.Unlock()

	e.clock.SetBounds(0, e.coord.TimelineEnd())
}

// SetSegments installs a new segment list, releases media of removed
// segments and re-evaluates the playhead.
func (e *Engine) SetSegments(segs []models.Segment) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	custom := e.customBounds
	e.mu.Unlock()

	if err := e.coord.SetSegments(segs); err != nil {
		return err
	}
	if !custom {
		e.clock.SetBounds(0, models.TimelineEnd(segs))
	}
	e.coord.HandleTimeUpdate(e.clock.CurrentTime())
	return nil
}

// Segments returns the installed segment list.
func (e *Engine) Segments() []models.Segment { return e.coord.Segments() }

// CurrentTime returns the playhead in seconds.
func (e *Engine) CurrentTime() float64 { return e.clock.CurrentTime() }

// CurrentFrame returns the playhead frame.
func (e *Engine) CurrentFrame() int64 { return e.clock.CurrentFrame() }

// State returns the transport state.
func (e *Engine) State() playback.State { return e.clock.State() }

// Active returns the element renderers should read for kind.
func (e *Engine) Active(kind mediapool.Kind) (mediapool.ActiveMedia, bool) {
	return e.pool.Active(kind)
}

// Preloaded reports whether media for a segment has been requested ahead of
// its activation.
func (e *Engine) Preloaded(segmentID string, kind mediapool.Kind) bool {
	return e.pool.IsPreloaded(segmentID, kind)
}

// Status returns a snapshot for the control API. Time, frame and bounds come
// from the clock directly; Active reflects the last time update the
// coordinator has processed, which can trail a Seek issued while a tick is
// being delivered on another goroutine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	custom := e.customBounds
	e.mu.Unlock()

	start, end := e.clock.Bounds()
	st := Status{
		EngineID:       e.id,
		ProjectID:      e.projectID,
		State:          e.clock.State(),
		TimeSec:        e.clock.CurrentTime(),
		Frame:          e.clock.CurrentFrame(),
		FrameRate:      e.clock.Rate().String(),
		StartSec:       start,
		EndSec:         end,
		CustomBounds:   custom,
		TimelineEndSec: e.coord.TimelineEnd(),
		Segments:       len(e.coord.Segments()),
		Active:         make(map[string]string),
	}
	for _, kind := range mediapool.Kinds {
		if seg, ok := e.coord.Current(kind); ok {
			st.Active[string(kind)] = seg.ID
		}
	}
	return st
}

// Dispose stops playback and releases every pooled element. It is safe to
// call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	unsubscribe := e.unsubscribe
	e.mu.Unlock()

	unsubscribe()
	e.clock.Stop()
	e.pool.Dispose()
	telemetry.EnginesActive.Dec()
	e.logger.Info().Msg("engine disposed")
}

func (e *Engine) handleTimeUpdate(sec float64) {
	e.coord.HandleTimeUpdate(sec)
	e.publish(events.EventPlaybackTime, events.Payload{
		"time":  sec,
		"frame": e.clock.Rate().FrameAt(sec),
	})
}

func (e *Engine) handleStateChange(state playback.State) {
	e.coord.HandleStateChange(state)
	telemetry.PlaybackStateTransitions.WithLabelValues(string(state)).Inc()
	e.logger.Debug().Str("state", string(state)).Msg("playback state changed")
	e.publish(events.EventPlaybackState, events.Payload{"state": string(state)})
}

func (e *Engine) handleEndReached() {
	e.coord.HandleEndReached()
	telemetry.PlaybackEndReachedTotal.Inc()
	e.logger.Info().Float64("time", e.clock.CurrentTime()).Msg("end of playback range reached")
	e.publish(events.EventPlaybackEnd, events.Payload{"time": e.clock.CurrentTime()})
}

func (e *Engine) handleSegmentChange(ch timeline.SegmentChange) {
	telemetry.SegmentSwitchesTotal.WithLabelValues(string(ch.Kind)).Inc()
	payload := events.Payload{
		"kind":        string(ch.Kind),
		"previous_id": ch.PreviousID,
		"time":        ch.TimeSec,
	}
	if ch.Current != nil {
		payload["segment_id"] = ch.Current.ID
		payload["source_time"] = ch.SourceSec
	}
	e.publish(events.EventSegmentChange, payload)
}

func (e *Engine) handleMediaError(segmentID string, kind mediapool.Kind, err error) {
	e.logger.Warn().Err(err).Str("segment_id", segmentID).Str("kind", string(kind)).Msg("segment media failed")
	e.publish(events.EventMediaError, events.Payload{
		"segment_id": segmentID,
		"kind":       string(kind),
		"error":      err.Error(),
	})
}

func (e *Engine) publish(eventType events.EventType, payload events.Payload) {
	if e.bus == nil {
		return
	}
	payload["project_id"] = e.projectID
	payload["engine_id"] = e.id
	e.bus.Publish(eventType, payload)
}
