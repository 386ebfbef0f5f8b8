/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/friendsincode/reeltime/internal/events"
	"github.com/friendsincode/reeltime/internal/media"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/friendsincode/reeltime/internal/timeline"
	"github.com/rs/zerolog"
)

// Source supplies projects and their segment lists.
type Source interface {
	GetProject(ctx context.Context, projectID string) (models.Project, error)
	ListSegments(ctx context.Context, projectID string) ([]models.Segment, error)
}

// ManagerOptions configures the engines a Manager creates.
type ManagerOptions struct {
	Source        Source
	DefaultRate   playback.FrameRate
	Scheduler     func() playback.FrameScheduler // nil uses a ticker per engine
	Factory       media.Factory
	PoolSize      int
	SeekTolerance float64
	Resolver      timeline.Resolver
	Bus           *events.Bus
}

// Manager tracks one engine per project.
type Manager struct {
	opts   ManagerOptions
	logger zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager creates an engine manager.
func NewManager(opts ManagerOptions, logger zerolog.Logger) *Manager {
	return &Manager{
		opts:    opts,
		logger:  logger.With().Str("component", "engine-manager").Logger(),
		engines: make(map[string]*Engine),
	}
}

// Ensure returns the engine for a project, creating it from the source on
// first use.
func (m *Manager) Ensure(ctx context.Context, projectID string) (*Engine, error) {
	m.mu.Lock()
	if e, ok := m.engines[projectID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	project, err := m.opts.Source.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	segs, err := m.opts.Source.ListSegments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	rate := m.opts.DefaultRate
	if project.FrameRate != "" {
		if rate, err = playback.ParseFrameRate(project.FrameRate); err != nil {
			return nil, fmt.Errorf("project %s: %w", projectID, err)
		}
	}
	var sched playback.FrameScheduler
	if m.opts.Scheduler != nil {
		sched = m.opts.Scheduler()
	}

	e, err := New(Options{
		ProjectID:     projectID,
		Rate:          rate,
		Scheduler:     sched,
		Factory:       m.opts.Factory,
		PoolSize:      m.opts.PoolSize,
		SeekTolerance: m.opts.SeekTolerance,
		Resolver:      m.opts.Resolver,
		Bus:           m.opts.Bus,
		Logger:        m.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := e.SetSegments(segs); err != nil {
		e.Dispose()
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.engines[projectID]; ok {
		// Lost a concurrent Ensure.
		m.mu.Unlock()
		e.Dispose()
		return existing, nil
	}
	m.engines[projectID] = e
	m.mu.Unlock()

	m.logger.Info().Str("project_id", projectID).Int("segments", len(segs)).Msg("engine started")
	return e, nil
}

// Get returns a running engine.
func (m *Manager) Get(projectID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[projectID]
	if !ok {
		return nil, ErrEngineNotFound
	}
	return e, nil
}

// Reload re-reads the segment list of a running engine. Projects without a
// running engine are left alone.
func (m *Manager) Reload(ctx context.Context, projectID string) error {
	e, err := m.Get(projectID)
	if err != nil {
		return nil
	}
	segs, err := m.opts.Source.ListSegments(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	if err := e.SetSegments(segs); err != nil {
		return err
	}
	m.logger.Debug().Str("project_id", projectID).Int("segments", len(segs)).Msg("engine reloaded")
	return nil
}

// Close disposes the engine of a project.
func (m *Manager) Close(projectID string) error {
	m.mu.Lock()
	e, ok := m.engines[projectID]
	delete(m.engines, projectID)
	m.mu.Unlock()

	if !ok {
		return ErrEngineNotFound
	}
	e.Dispose()
	return nil
}

// Len returns the number of running engines.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Shutdown disposes every engine and clears the map.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Dispose()
	}
}
