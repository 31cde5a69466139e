package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents the complete engine configuration.
// Configuration is loaded once at startup and immutable afterwards.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Engine    EngineConfig    `json:"engine"`
	Events    EventsConfig    `json:"events"`
	Airport   AirportConfig   `json:"airport"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`

	// AirspacePath points to the airspace configuration file. Empty means
	// the built-in default airspace.
	AirspacePath string `json:"airspace_path"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// EngineConfig contains the tick loop parameters.
type EngineConfig struct {
	// TickRateHz is the simulation cadence in ticks per second (default 1.0)
	TickRateHz float64 `json:"tick_rate_hz"`

	// Seed seeds the deterministic random stream. The same seed over the
	// same flight set reproduces a run exactly.
	Seed int64 `json:"seed"`

	// OpTimeoutMS is the per-call timeout for store writes and publishes
	// in milliseconds (default 500)
	OpTimeoutMS int `json:"op_timeout_ms"`

	// SnapshotEveryTicks is how often to publish a full state snapshot
	// (default 10)
	SnapshotEveryTicks int `json:"snapshot_every_ticks"`

	// MaxFlightsPerTick bounds the flight set read each tick (default 100)
	MaxFlightsPerTick int `json:"max_flights_per_tick"`
}

// EventsConfig contains pub/sub settings.
type EventsConfig struct {
	// Channel is the notification channel engine events are published on
	Channel string `json:"channel"`

	// SpawnChannel is the channel the spawn listener subscribes to for
	// aircraft.created notifications
	SpawnChannel string `json:"spawn_channel"`
}

// AirportConfig is the reference airport. It is superseded by the
// airport block of the airspace file when AirspacePath is set.
type AirportConfig struct {
	// ICAO identifier (e.g., "CYYZ")
	ICAO string `json:"icao"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`

	// ElevationFt is the field elevation in feet MSL
	ElevationFt float64 `json:"elevation_ft"`
}

// TelemetryConfig contains the per-tick snapshot log settings.
type TelemetryConfig struct {
	// Dir is the directory telemetry files are written to
	Dir string `json:"dir"`

	// FlushEveryLines forces a flush after this many buffered lines
	// (default 100)
	FlushEveryLines int `json:"flush_every_lines"`
}

// LogConfig contains application log settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level"`

	// Path is an optional log file; empty logs to stderr
	Path string `json:"path"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns the default configuration with
// environment overrides applied.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "atcsim",
			Username:     "atcsim",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Engine: EngineConfig{
			TickRateHz:         1.0,
			Seed:               0, // 0 = derive from current time at startup
			OpTimeoutMS:        500,
			SnapshotEveryTicks: 10,
			MaxFlightsPerTick:  100,
		},
		Events: EventsConfig{
			Channel:      "atc:events",
			SpawnChannel: "atc:spawns",
		},
		Airport: AirportConfig{
			ICAO:        "CYYZ",
			Latitude:    43.6777,
			Longitude:   -79.6248,
			ElevationFt: 569.0,
		},
		Telemetry: TelemetryConfig{
			Dir:             "./telemetry",
			FlushEveryLines: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Database.Host == "":
		return fmt.Errorf("database host is required")
	case c.Database.Database == "":
		return fmt.Errorf("database name is required")
	case c.Engine.TickRateHz <= 0:
		return fmt.Errorf("tick_rate_hz must be positive, got %.2f", c.Engine.TickRateHz)
	case c.Engine.OpTimeoutMS <= 0:
		return fmt.Errorf("op_timeout_ms must be positive, got %d", c.Engine.OpTimeoutMS)
	case c.Engine.SnapshotEveryTicks <= 0:
		return fmt.Errorf("snapshot_every_ticks must be positive, got %d", c.Engine.SnapshotEveryTicks)
	case c.Engine.MaxFlightsPerTick <= 0:
		return fmt.Errorf("max_flights_per_tick must be positive, got %d", c.Engine.MaxFlightsPerTick)
	case c.Events.Channel == "":
		return fmt.Errorf("events channel is required")
	case c.Events.SpawnChannel == "":
		return fmt.Errorf("spawn channel is required")
	case c.Airport.Latitude < -90 || c.Airport.Latitude > 90:
		return fmt.Errorf("airport latitude %.4f out of range", c.Airport.Latitude)
	case c.Airport.Longitude < -180 || c.Airport.Longitude > 180:
		return fmt.Errorf("airport longitude %.4f out of range", c.Airport.Longitude)
	case c.Telemetry.FlushEveryLines <= 0:
		return fmt.Errorf("flush_every_lines must be positive, got %d", c.Telemetry.FlushEveryLines)
	}
	return nil
}

// TickInterval converts the configured rate to a loop interval.
func (c *EngineConfig) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRateHz)
}

// OpTimeout is the per-call store/publish timeout as a duration.
func (c *EngineConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMS) * time.Millisecond
}

// applyEnvironmentOverrides applies environment variable overrides.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if host := os.Getenv("ATC_ENGINE_DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("ATC_ENGINE_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Database.Port = p
		}
	}
	if name := os.Getenv("ATC_ENGINE_DB_NAME"); name != "" {
		c.Database.Database = name
	}
	if user := os.Getenv("ATC_ENGINE_DB_USER"); user != "" {
		c.Database.Username = user
	}
	if password := os.Getenv("ATC_ENGINE_DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if channel := os.Getenv("ATC_ENGINE_CHANNEL"); channel != "" {
		c.Events.Channel = channel
	}
	if seed := os.Getenv("ATC_ENGINE_SEED"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			c.Engine.Seed = s
		}
	}
	if rate := os.Getenv("ATC_ENGINE_TICK_RATE"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			c.Engine.TickRateHz = r
		}
	}
	if dir := os.Getenv("ATC_ENGINE_TELEMETRY_DIR"); dir != "" {
		c.Telemetry.Dir = dir
	}
	if path := os.Getenv("ATC_ENGINE_AIRSPACE"); path != "" {
		c.AirspacePath = path
	}
	if level := os.Getenv("ATC_ENGINE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}
