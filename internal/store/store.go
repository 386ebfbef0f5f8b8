/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists projects and their segment lists.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrNotFound is returned for unknown projects.
var ErrNotFound = errors.New("not found")

const tracerName = "reeltime/store"

// SegmentStore reads and writes projects and segment lists.
type SegmentStore interface {
	GetProject(ctx context.Context, projectID string) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	SaveProject(ctx context.Context, project models.Project) (models.Project, error)
	ListSegments(ctx context.Context, projectID string) ([]models.Segment, error)
	ReplaceSegments(ctx context.Context, projectID string, segs []models.Segment) ([]models.Segment, error)
}

// GormStore is a SegmentStore backed by gorm.
type GormStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewGormStore creates a store over an open, migrated database.
func NewGormStore(db *gorm.DB, logger zerolog.Logger) *GormStore {
	return &GormStore{db: db, logger: logger.With().Str("component", "store").Logger()}
}

// GetProject loads one project.
func (s *GormStore) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GormStore.GetProject")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"project_id": projectID})

	var project models.Project
	result := s.db.WithContext(ctx).First(&project, "id = ?", projectID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.Project{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if result.Error != nil {
		telemetry.RecordError(span, result.Error)
		return models.Project{}, fmt.Errorf("load project: %w", result.Error)
	}
	return project, nil
}

// ListProjects returns every project ordered by name.
func (s *GormStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GormStore.ListProjects")
	defer span.End()

	var projects []models.Project
	if err := s.db.WithContext(ctx).Order("name ASC, id ASC").Find(&projects).Error; err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// SaveProject creates or updates a project.
func (s *GormStore) SaveProject(ctx context.Context, project models.Project) (models.Project, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GormStore.SaveProject")
	defer span.End()

	if project.ID == "" {
		err := fmt.Errorf("project id is required")
		telemetry.RecordError(span, err)
		return models.Project{}, err
	}
	if err := s.db.WithContext(ctx).Save(&project).Error; err != nil {
		telemetry.RecordError(span, err)
		return models.Project{}, fmt.Errorf("save project: %w", err)
	}
	s.logger.Debug().Str("project_id", project.ID).Msg("project saved")
	return project, nil
}

// ListSegments returns the segments of a project in timeline order.
func (s *GormStore) ListSegments(ctx context.Context, projectID string) ([]models.Segment, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GormStore.ListSegments")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"project_id": projectID})

	var segs []models.Segment
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("track_order ASC, track_id ASC, in_sec ASC, seq ASC").
		Find(&segs).Error
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("list segments: %w", err)
	}
	telemetry.AddSpanAttributes(span, map[string]any{"segments": len(segs)})
	return segs, nil
}

// ReplaceSegments validates segs and atomically swaps them in as the
// project's segment list.
func (s *GormStore) ReplaceSegments(ctx context.Context, projectID string, segs []models.Segment) ([]models.Segment, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GormStore.ReplaceSegments")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"project_id": projectID, "segments": len(segs)})

	next := PrepareSegments(projectID, segs)
	if err := models.ValidateSegments(next); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).Count(&count).Error; err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
		}

		if err := tx.Where("project_id = ?", projectID).Delete(&models.Segment{}).Error; err != nil {
			return fmt.Errorf("delete segments: %w", err)
		}
		if len(next) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&next, 200).Error; err != nil {
			return fmt.Errorf("create segments: %w", err)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info().Str("project_id", projectID).Int("segments", len(next)).Msg("segments replaced")
	return next, nil
}

// PrepareSegments returns a normalised copy of segs owned by projectID.
// List order is kept in Order so ties on a track stay stable.
func PrepareSegments(projectID string, segs []models.Segment) []models.Segment {
	next := slices.Clone(segs)
	for i := range next {
		next[i].ProjectID = projectID
		if next[i].Order == 0 {
			next[i].Order = i
		}
		if next[i].DurationSec == 0 {
			next[i].DurationSec = next[i].OutSec - next[i].InSec
		}
		if next[i].TrackKind == "" {
			next[i].TrackKind = models.TrackVideo
		}
		if next[i].TrackID == "" {
			next[i].TrackID = string(next[i].TrackKind)
		}
	}
	return next
}
