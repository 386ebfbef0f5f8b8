/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/reeltime/internal/cache"
	"github.com/friendsincode/reeltime/internal/db"
	"github.com/friendsincode/reeltime/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a timeline file into the database",
	Long:  "Create or update a project from a YAML timeline file and replace its segment list",
	RunE:  runImport,
}

var (
	importTimelinePath string
	importProjectID    string
	importDryRun       bool
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importTimelinePath, "timeline", "", "Path to the YAML timeline file (required)")
	importCmd.Flags().StringVar(&importProjectID, "project", "", "Override the project id from the file")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the file without writing")
	_ = importCmd.MarkFlagRequired("timeline")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return err
	}
	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("migrations applied")

	// Cached rows may predate the new schema.
	if c := openSegmentCache(); c != nil {
		defer c.Close()
		if err := c.FlushAll(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("failed to flush cache after migration")
		}
	}
	return nil
}

// openSegmentCache returns the shared Redis cache when caching is enabled so
// offline writes invalidate what running servers have cached.
func openSegmentCache() *cache.Cache {
	if !cfg.CacheEnabled {
		return nil
	}
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	c, err := cache.New(cacheCfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cache unavailable, skipping invalidation")
		return nil
	}
	return c
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	project, segs, err := store.LoadTimelineFile(importTimelinePath)
	if err != nil {
		return err
	}
	if importProjectID != "" {
		project.ID = importProjectID
	}
	if importDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "timeline %q is valid: project %s, %d segments\n", importTimelinePath, project.ID, len(segs))
		return nil
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return err
	}

	ctx := context.Background()
	var st store.SegmentStore = store.NewGormStore(database, logger)
	if c := openSegmentCache(); c != nil {
		defer c.Close()
		st = store.NewCachedStore(st, c, logger)
	}
	if _, err := st.SaveProject(ctx, project); err != nil {
		return err
	}
	saved, err := st.ReplaceSegments(ctx, project.ID, segs)
	if err != nil {
		return fmt.Errorf("import segments: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported project %s with %d segments\n", project.ID, len(saved))
	return nil
}
