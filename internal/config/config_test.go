package config

import (
	"testing"
	"time"

	"github.com/friendsincode/reeltime/internal/playback"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 8090 || cfg.DBBackend != DatabaseSQLite || cfg.DBDSN != "reeltime.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.FrameRate != playback.FPS30 {
		t.Fatalf("expected 30 fps, got %s", cfg.FrameRate)
	}
	if cfg.TickInterval != 16*time.Millisecond || cfg.PoolSize != 6 || cfg.SeekTolerance != 0.05 {
		t.Fatalf("unexpected engine defaults: %+v", cfg)
	}
	if cfg.InstanceID == "" {
		t.Fatal("expected a generated instance id")
	}
}

func TestLoadReadsEngineEnvKeys(t *testing.T) {
	t.Setenv("REELTIME_FPS", "29.97")
	t.Setenv("REELTIME_POOL_SIZE", "0")
	t.Setenv("REELTIME_SEEK_TOLERANCE_SEC", "0.1")
	t.Setenv("REELTIME_TICK_INTERVAL_MS", "8")
	t.Setenv("REELTIME_INSTANCE_ID", "node-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.FrameRate != playback.FPS2997 {
		t.Fatalf("expected 30000/1001, got %s", cfg.FrameRate)
	}
	if cfg.PoolSize != 0 || cfg.SeekTolerance != 0.1 || cfg.TickInterval != 8*time.Millisecond {
		t.Fatalf("unexpected engine config: %+v", cfg)
	}
	if cfg.InstanceID != "node-1" {
		t.Fatalf("unexpected instance id %q", cfg.InstanceID)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad frame rate", "REELTIME_FPS", "abc"},
		{"zero frame rate", "REELTIME_FPS", "0"},
		{"frame rate above max", "REELTIME_FPS", "480"},
		{"negative pool", "REELTIME_POOL_SIZE", "-1"},
		{"negative tolerance", "REELTIME_SEEK_TOLERANCE_SEC", "-0.5"},
		{"unknown backend", "REELTIME_DB_BACKEND", "oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("REELTIME_ENV", "production")
	t.Setenv("REELTIME_JWT_SIGNING_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a signing key")
	}

	t.Setenv("REELTIME_JWT_SIGNING_KEY", "supersecret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected production config load with a key to succeed: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatal("expected production mode")
	}
}
