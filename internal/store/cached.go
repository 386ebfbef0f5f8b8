/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"

	"github.com/friendsincode/reeltime/internal/cache"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/telemetry"
	"github.com/rs/zerolog"
)

// CachedStore serves reads from Redis and invalidates on writes.
type CachedStore struct {
	inner  SegmentStore
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCachedStore wraps inner with c.
func NewCachedStore(inner SegmentStore, c *cache.Cache, logger zerolog.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: c, logger: logger.With().Str("component", "cached-store").Logger()}
}

func (s *CachedStore) record(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	telemetry.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// GetProject implements SegmentStore.
func (s *CachedStore) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	if p, ok := s.cache.GetProject(ctx, projectID); ok {
		s.record(true)
		return *p, nil
	}
	s.record(false)

	p, err := s.inner.GetProject(ctx, projectID)
	if err != nil {
		return models.Project{}, err
	}
	if err := s.cache.SetProject(ctx, &p); err != nil {
		s.logger.Debug().Err(err).Str("project_id", projectID).Msg("failed to cache project")
	}
	return p, nil
}

// ListProjects implements SegmentStore.
func (s *CachedStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	if projects, ok := s.cache.GetProjectList(ctx); ok {
		s.record(true)
		return projects, nil
	}
	s.record(false)

	projects, err := s.inner.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetProjectList(ctx, projects); err != nil {
		s.logger.Debug().Err(err).Msg("failed to cache project list")
	}
	return projects, nil
}

// SaveProject implements SegmentStore.
func (s *CachedStore) SaveProject(ctx context.Context, project models.Project) (models.Project, error) {
	saved, err := s.inner.SaveProject(ctx, project)
	if err != nil {
		return models.Project{}, err
	}
	if err := s.cache.InvalidateProject(ctx, saved.ID); err != nil {
		s.logger.Warn().Err(err).Str("project_id", saved.ID).Msg("failed to invalidate project cache")
	}
	return saved, nil
}

// ListSegments implements SegmentStore.
func (s *CachedStore) ListSegments(ctx context.Context, projectID string) ([]models.Segment, error) {
	if segs, ok := s.cache.GetSegments(ctx, projectID); ok {
		s.record(true)
		return segs, nil
	}
	s.record(false)

	segs, err := s.inner.ListSegments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetSegments(ctx, projectID, segs); err != nil {
		s.logger.Debug().Err(err).Str("project_id", projectID).Msg("failed to cache segment list")
	}
	return segs, nil
}

// ReplaceSegments implements SegmentStore.
func (s *CachedStore) ReplaceSegments(ctx context.Context, projectID string, segs []models.Segment) ([]models.Segment, error) {
	stored, err := s.inner.ReplaceSegments(ctx, projectID, segs)
	if err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateSegments(ctx, projectID); err != nil {
		s.logger.Warn().Err(err).Str("project_id", projectID).Msg("failed to invalidate segment cache")
	}
	return stored, nil
}
