/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for project segment lists.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/reeltime/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultSegmentsTTL    = 10 * time.Minute
	DefaultProjectTTL     = 30 * time.Minute
	DefaultProjectListTTL = 5 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyPrefix      = "reeltime:cache:"
	KeySegments    = KeyPrefix + "segments:" // + project_id
	KeyProject     = KeyPrefix + "project:"  // + project_id
	KeyProjectList = KeyPrefix + "projects"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	SegmentsTTL    time.Duration
	ProjectTTL     time.Duration
	ProjectListTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SegmentsTTL:    DefaultSegmentsTTL,
		ProjectTTL:     DefaultProjectTTL,
		ProjectListTTL: DefaultProjectListTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache, never an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.SegmentsTTL <= 0 {
		cfg.SegmentsTTL = DefaultSegmentsTTL
	}
	if cfg.ProjectTTL <= 0 {
		cfg.ProjectTTL = DefaultProjectTTL
	}
	if cfg.ProjectListTTL <= 0 {
		cfg.ProjectListTTL = DefaultProjectListTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes keys from cache.
func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// GetSegments retrieves the cached segment list of a project.
func (c *Cache) GetSegments(ctx context.Context, projectID string) ([]models.Segment, bool) {
	var segs []models.Segment
	found, err := c.get(ctx, KeySegments+projectID, &segs)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("project_id", projectID).Int("count", len(segs)).Msg("segment list cache hit")
	return segs, true
}

// SetSegments caches the segment list of a project.
func (c *Cache) SetSegments(ctx context.Context, projectID string, segs []models.Segment) error {
	c.logger.Debug().Str("project_id", projectID).Int("count", len(segs)).Msg("caching segment list")
	return c.set(ctx, KeySegments+projectID, segs, c.config.SegmentsTTL)
}

// GetProject retrieves a cached project.
func (c *Cache) GetProject(ctx context.Context, projectID string) (*models.Project, bool) {
	var project models.Project
	found, err := c.get(ctx, KeyProject+projectID, &project)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("project_id", projectID).Msg("project cache hit")
	return &project, true
}

// SetProject caches a project.
func (c *Cache) SetProject(ctx context.Context, project *models.Project) error {
	c.logger.Debug().Str("project_id", project.ID).Msg("caching project")
	return c.set(ctx, KeyProject+project.ID, project, c.config.ProjectTTL)
}

// GetProjectList retrieves the cached project list.
func (c *Cache) GetProjectList(ctx context.Context) ([]models.Project, bool) {
	var projects []models.Project
	found, err := c.get(ctx, KeyProjectList, &projects)
	if err != nil || !found {
		return nil, false
	}
	return projects, true
}

// SetProjectList caches the project list.
func (c *Cache) SetProjectList(ctx context.Context, projects []models.Project) error {
	return c.set(ctx, KeyProjectList, projects, c.config.ProjectListTTL)
}

// InvalidateSegments removes the cached segment list of a project.
func (c *Cache) InvalidateSegments(ctx context.Context, projectID string) error {
	c.logger.Debug().Str("project_id", projectID).Msg("invalidating segment list cache")
	return c.delete(ctx, KeySegments+projectID)
}

// InvalidateProject removes every cache entry of a project and the project list.
func (c *Cache) InvalidateProject(ctx context.Context, projectID string) error {
	c.logger.Debug().Str("project_id", projectID).Msg("invalidating project caches")
	return c.delete(ctx, KeyProject+projectID, KeySegments+projectID, KeyProjectList)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, KeyPrefix+"*")
}
