// atc-engine is the arrival simulation daemon: it claims newly spawned
// arrivals, advances them once per simulated second, and fans state and
// events out to the store, the pub/sub channel and the telemetry log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/atcsim/atc-engine/internal/db"
	"github.com/atcsim/atc-engine/internal/engine"
	"github.com/atcsim/atc-engine/internal/events"
	"github.com/atcsim/atc-engine/internal/telemetry"
	"github.com/atcsim/atc-engine/pkg/airspace"
	"github.com/atcsim/atc-engine/pkg/config"
	"github.com/atcsim/atc-engine/pkg/logging"
	"github.com/atcsim/atc-engine/pkg/model"
)

// Exit codes.
const (
	exitOK          = 0
	exitConfigError = 1
	exitStoreError  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	duration := flag.Int("duration", 0, "Run for this many seconds, then stop (0 = until signaled)")
	seed := flag.Int64("seed", 0, "Override the PRNG seed (0 = config value)")
	flag.Parse()

	// Optional .env for credentials; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}
	if *seed != 0 {
		cfg.Engine.Seed = *seed
	}
	if cfg.Engine.Seed == 0 {
		cfg.Engine.Seed = time.Now().UnixNano()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}

	cleanup, err := logging.Init(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}
	defer cleanup()

	air, err := loadAirspace(cfg)
	if err != nil {
		slog.Error("airspace configuration invalid", "error", err)
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.ReconnectWithRetry(ctx, cfg.Database, 3)
	if err != nil {
		slog.Error("store unavailable at startup", "error", err)
		return exitStoreError
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		slog.Error("schema initialization failed", "error", err)
		return exitStoreError
	}
	repo := db.NewFlightRepository(database)

	connStr := db.ConnString(cfg.Database)
	pub, err := events.NewPublisher(connStr, cfg.Events.Channel, cfg.Engine.OpTimeout())
	if err != nil {
		slog.Error("publisher unavailable at startup", "error", err)
		return exitStoreError
	}
	defer pub.Close()

	listener := events.NewSpawnListener(connStr, cfg.Events.SpawnChannel, repo, cfg.Engine.OpTimeout())

	sink, err := telemetry.NewSink(cfg.Telemetry.Dir, time.Now(), cfg.Telemetry.FlushEveryLines)
	if err != nil {
		slog.Error("telemetry sink unavailable", "error", err)
		return exitConfigError
	}
	defer sink.Close()

	var maxTicks uint64
	if *duration > 0 {
		maxTicks = uint64(float64(*duration) * cfg.Engine.TickRateHz)
	}

	runID := uuid.NewString()
	eng := engine.New(cfg.Engine, air, repo, pub, sink, runID)

	slog.Info("atc-engine starting",
		"run_id", runID,
		"airport", air.Airport.ICAO,
		"sectors", len(air.Sectors),
		"seed", cfg.Engine.Seed,
		"telemetry", sink.Path())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// A bounded run finishing also stops the spawn listener.
		defer cancelRun()
		return eng.Run(gctx, maxTicks)
	})
	g.Go(func() error {
		err := listener.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("spawn listener: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("engine terminated abnormally", "error", err)
		return exitStoreError
	}
	return exitOK
}

// loadAirspace reads the configured airspace file, or falls back to the
// default ring geometry around the configured airport.
func loadAirspace(cfg *config.Config) (*airspace.Airspace, error) {
	if cfg.AirspacePath != "" {
		return airspace.Load(cfg.AirspacePath)
	}
	return airspace.DefaultFor(model.Airport{
		ICAO:        cfg.Airport.ICAO,
		Latitude:    cfg.Airport.Latitude,
		Longitude:   cfg.Airport.Longitude,
		ElevationFt: cfg.Airport.ElevationFt,
	}), nil
}
