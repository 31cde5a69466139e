package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.TickRateHz != 1.0 {
		t.Errorf("tick rate = %.2f, want default 1.0", cfg.Engine.TickRateHz)
	}
	if cfg.Events.Channel != "atc:events" {
		t.Errorf("channel = %q, want atc:events", cfg.Events.Channel)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
		"database": {"host": "db.internal", "port": 5433, "database": "sim", "username": "sim"},
		"engine": {"tick_rate_hz": 2.0, "seed": 1234},
		"events": {"channel": "sim:events"}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 5433 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Engine.TickRateHz != 2.0 || cfg.Engine.Seed != 1234 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Engine.OpTimeoutMS != 500 {
		t.Errorf("op timeout = %d, want default 500", cfg.Engine.OpTimeoutMS)
	}
	if cfg.Events.SpawnChannel != "atc:spawns" {
		t.Errorf("spawn channel = %q, want default", cfg.Events.SpawnChannel)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ATC_ENGINE_DB_PASSWORD", "hunter2")
	t.Setenv("ATC_ENGINE_SEED", "99")
	t.Setenv("ATC_ENGINE_TICK_RATE", "4.0")
	t.Setenv("ATC_ENGINE_CHANNEL", "env:events")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "hunter2" {
		t.Error("db password override not applied")
	}
	if cfg.Engine.Seed != 99 {
		t.Errorf("seed = %d, want 99", cfg.Engine.Seed)
	}
	if cfg.Engine.TickRateHz != 4.0 {
		t.Errorf("tick rate = %.1f, want 4.0", cfg.Engine.TickRateHz)
	}
	if cfg.Events.Channel != "env:events" {
		t.Errorf("channel = %q, want env:events", cfg.Events.Channel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Empty database host", func(c *Config) { c.Database.Host = "" }},
		{"Empty database name", func(c *Config) { c.Database.Database = "" }},
		{"Zero tick rate", func(c *Config) { c.Engine.TickRateHz = 0 }},
		{"Negative tick rate", func(c *Config) { c.Engine.TickRateHz = -1 }},
		{"Zero op timeout", func(c *Config) { c.Engine.OpTimeoutMS = 0 }},
		{"Zero snapshot interval", func(c *Config) { c.Engine.SnapshotEveryTicks = 0 }},
		{"Empty channel", func(c *Config) { c.Events.Channel = "" }},
		{"Airport latitude out of range", func(c *Config) { c.Airport.Latitude = 123 }},
		{"Zero flush threshold", func(c *Config) { c.Telemetry.FlushEveryLines = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted a bad config")
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	e := EngineConfig{TickRateHz: 1.0, OpTimeoutMS: 500}
	if got := e.TickInterval(); got != time.Second {
		t.Errorf("TickInterval() = %v, want 1s", got)
	}
	if got := e.OpTimeout(); got != 500*time.Millisecond {
		t.Errorf("OpTimeout() = %v, want 500ms", got)
	}

	e.TickRateHz = 4.0
	if got := e.TickInterval(); got != 250*time.Millisecond {
		t.Errorf("TickInterval() at 4 Hz = %v, want 250ms", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Engine.Seed = 777

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Engine.Seed != 777 {
		t.Errorf("seed = %d after round trip, want 777", loaded.Engine.Seed)
	}
}
