/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/google/uuid"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	LogLevel      string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	MediaRoot     string
	JWTSigningKey string

	// Playback engine
	FrameRate     playback.FrameRate
	TickInterval  time.Duration
	PoolSize      int     // per media kind, 0 = unbounded
	SeekTolerance float64 // seconds

	// Media probing
	FFprobeBin   string
	ProbeTimeout time.Duration

	// S3 locators (s3://bucket/key)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string // empty disables s3:// locators
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO
	S3PresignTTL      time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"REELTIME_ENV"}, "development"),
		LogLevel:      getEnvAny([]string{"REELTIME_LOG_LEVEL"}, ""),
		HTTPBind:      getEnvAny([]string{"REELTIME_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"REELTIME_HTTP_PORT"}, 8090),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"REELTIME_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"REELTIME_DB_DSN"}, "reeltime.db"),
		MediaRoot:     getEnvAny([]string{"REELTIME_MEDIA_ROOT"}, "./media"),
		JWTSigningKey: getEnvAny([]string{"REELTIME_JWT_SIGNING_KEY"}, ""),

		TickInterval:  time.Duration(getEnvIntAny([]string{"REELTIME_TICK_INTERVAL_MS"}, 16)) * time.Millisecond,
		PoolSize:      getEnvIntAny([]string{"REELTIME_POOL_SIZE"}, 6),
		SeekTolerance: getEnvFloatAny([]string{"REELTIME_SEEK_TOLERANCE_SEC"}, 0.05),

		FFprobeBin:   getEnvAny([]string{"REELTIME_FFPROBE_BIN"}, "ffprobe"),
		ProbeTimeout: time.Duration(getEnvIntAny([]string{"REELTIME_PROBE_TIMEOUT_SEC"}, 15)) * time.Second,

		S3AccessKeyID:     getEnvAny([]string{"REELTIME_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"REELTIME_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"REELTIME_S3_REGION", "AWS_REGION"}, ""),
		S3Endpoint:        getEnvAny([]string{"REELTIME_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"REELTIME_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),
		S3PresignTTL:      time.Duration(getEnvIntAny([]string{"REELTIME_S3_PRESIGN_TTL_MINUTES"}, 60)) * time.Minute,

		TracingEnabled:    getEnvBoolAny([]string{"REELTIME_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"REELTIME_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"REELTIME_TRACING_SAMPLE_RATE"}, 1.0),

		CacheEnabled:  getEnvBoolAny([]string{"REELTIME_CACHE_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"REELTIME_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"REELTIME_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"REELTIME_REDIS_DB"}, 0),
		InstanceID:    getEnvAny([]string{"REELTIME_INSTANCE_ID"}, ""),
	}

	rate, err := playback.ParseFrameRate(getEnvAny([]string{"REELTIME_FPS"}, "30"))
	if err != nil {
		return nil, fmt.Errorf("REELTIME_FPS: %w", err)
	}
	cfg.FrameRate = rate

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("REELTIME_DB_DSN must be provided")
	}
	if cfg.PoolSize < 0 {
		return nil, fmt.Errorf("REELTIME_POOL_SIZE must be >= 0, got %d", cfg.PoolSize)
	}
	if cfg.SeekTolerance < 0 {
		return nil, fmt.Errorf("REELTIME_SEEK_TOLERANCE_SEC must be >= 0, got %v", cfg.SeekTolerance)
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("REELTIME_TICK_INTERVAL_MS must be positive")
	}
	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("REELTIME_JWT_SIGNING_KEY must be provided in production")
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	return cfg, nil
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
