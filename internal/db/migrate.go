/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/reeltime/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Project{},
		&models.Segment{},
	); err != nil {
		return err
	}

	if err := backfillSegmentDefaults(database); err != nil {
		return err
	}

	return nil
}

// backfillSegmentDefaults fills track fields of rows written before tracks
// carried a kind.
func backfillSegmentDefaults(database *gorm.DB) error {
	if err := database.Model(&models.Segment{}).
		Where("track_kind IS NULL OR track_kind = ''").
		Update("track_kind", string(models.TrackVideo)).Error; err != nil {
		return fmt.Errorf("backfill segment track kind: %w", err)
	}
	if err := database.Model(&models.Segment{}).
		Where("track_id IS NULL OR track_id = ''").
		Update("track_id", gorm.Expr("track_kind")).Error; err != nil {
		return fmt.Errorf("backfill segment track id: %w", err)
	}
	return nil
}
