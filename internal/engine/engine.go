// Package engine drives the simulation: a fixed-cadence tick loop that
// reads engine-controlled arrivals, integrates their motion, runs the
// sector state machine, persists state and fans events out to the
// publisher and telemetry sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/atcsim/atc-engine/internal/db"
	"github.com/atcsim/atc-engine/internal/events"
	"github.com/atcsim/atc-engine/internal/telemetry"
	"github.com/atcsim/atc-engine/pkg/airspace"
	"github.com/atcsim/atc-engine/pkg/config"
	"github.com/atcsim/atc-engine/pkg/coordinates"
	"github.com/atcsim/atc-engine/pkg/kinematics"
	"github.com/atcsim/atc-engine/pkg/model"
	"github.com/atcsim/atc-engine/pkg/sector"
)

// Tick overrun thresholds.
const (
	tickWarnBudget  = 100 * time.Millisecond
	tickErrorBudget = 200 * time.Millisecond
)

// tickCatchUpBurst bounds how many missed ticks are run back-to-back
// after a long stall. Beyond this window the schedule re-phases.
const tickCatchUpBurst = 5

// Store is the persistence gateway the engine writes through.
type Store interface {
	ListEngineArrivals(ctx context.Context, limit int) ([]model.Flight, error)
	PersistTick(ctx context.Context, f *model.Flight) error
	FinalizeTouchdown(ctx context.Context, f *model.Flight) error
	CreateEvent(ctx context.Context, ev *model.LogEvent) error
}

// Publisher fans events out to external consumers.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Telemetry receives one snapshot line per flight per tick.
type Telemetry interface {
	Append(snap telemetry.Snapshot) error
	Flush() error
}

// Stats counts what the engine has done since start.
type Stats struct {
	Ticks             uint64
	FlightsProcessed  uint64
	Landed            uint64
	Handoffs          uint64
	Reflections       uint64
	InvalidStates     uint64
	PersistErrors     uint64
	PublishErrors     uint64
	Overruns          uint64
	TickDurationTotal time.Duration
}

// AvgTickDuration is the mean wall time spent per completed tick.
func (s Stats) AvgTickDuration() time.Duration {
	if s.Ticks == 0 {
		return 0
	}
	return s.TickDurationTotal / time.Duration(s.Ticks)
}

// Engine owns the tick loop. It is single-threaded by design: one random
// stream consumed in stable flight order keeps runs reproducible.
type Engine struct {
	cfg      config.EngineConfig
	airspace *airspace.Airspace
	store    Store
	pub      Publisher
	sink     Telemetry
	tracker  *sector.Tracker
	rng      *rand.Rand
	runID    string

	tick  uint64
	stats Stats
}

// New assembles an engine. The seed must already be resolved (non-zero
// or intentionally zero for a fixed stream).
func New(cfg config.EngineConfig, a *airspace.Airspace, store Store, pub Publisher, sink Telemetry, runID string) *Engine {
	return &Engine{
		cfg:      cfg,
		airspace: a,
		store:    store,
		pub:      pub,
		sink:     sink,
		tracker:  sector.NewTracker(a),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		runID:    runID,
	}
}

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Run drives the loop until the context is canceled, maxTicks ticks have
// run (0 = unbounded), or a fatal store error surfaces. Tick deadlines
// are absolute: an overrunning tick shortens the following sleep instead
// of skipping ticks.
func (e *Engine) Run(ctx context.Context, maxTicks uint64) error {
	e.publish(ctx, events.SystemStatus(e.runID, "started", map[string]any{
		"seed":         e.cfg.Seed,
		"tick_rate_hz": e.cfg.TickRateHz,
		"airport":      e.airspace.Airport.ICAO,
	}))
	slog.Info("engine started",
		"run_id", e.runID,
		"seed", e.cfg.Seed,
		"tick_rate_hz", e.cfg.TickRateHz,
		"airport", e.airspace.Airport.ICAO)

	limiter := newTickLimiter(e.cfg.TickInterval())

	var runErr error
	for {
		if err := limiter.Wait(ctx); err != nil {
			// Shutdown signal.
			break
		}

		e.tick++
		start := time.Now()
		if err := e.runTick(ctx); err != nil {
			runErr = err
			break
		}
		e.observeTickDuration(time.Since(start))

		if maxTicks > 0 && e.tick >= maxTicks {
			break
		}
	}

	e.shutdown(runErr)
	return runErr
}

// runTick executes one full pipeline pass. Only fatal store errors are
// returned; everything else is logged and absorbed.
func (e *Engine) runTick(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout())
	flights, err := e.store.ListEngineArrivals(readCtx, e.cfg.MaxFlightsPerTick)
	cancel()
	if err != nil {
		if db.IsFatal(err) {
			return fmt.Errorf("fatal store error reading flights: %w", err)
		}
		slog.Warn("skipping tick, flight read failed", "tick", e.tick, "error", err)
		return nil
	}

	e.stats.Ticks++

	for i := range flights {
		if err := e.processFlight(ctx, &flights[i]); err != nil {
			return err
		}
	}

	if e.tick%uint64(e.cfg.SnapshotEveryTicks) == 0 {
		e.publish(ctx, events.StateSnapshot(e.tick, flights))
		e.logEvent(ctx, &model.LogEvent{
			Level:   "info",
			Type:    events.TypeSystemStatus,
			Message: fmt.Sprintf("engine status at tick %d", e.tick),
			Details: map[string]any{
				"tick":        e.tick,
				"flights":     len(flights),
				"landed":      e.stats.Landed,
				"handoffs":    e.stats.Handoffs,
				"avg_tick_ms": float64(e.stats.AvgTickDuration()) / float64(time.Millisecond),
			},
		})
	}
	return nil
}

// newTickLimiter paces the loop on an absolute schedule. One token is
// left available so the first tick fires immediately; the rest of the
// burst only accumulates behind a stalled loop, letting up to
// tickCatchUpBurst missed ticks run without waiting.
func newTickLimiter(interval time.Duration) *rate.Limiter {
	l := rate.NewLimiter(rate.Every(interval), tickCatchUpBurst)
	l.AllowN(time.Now(), tickCatchUpBurst-1)
	return l
}

// processFlight advances one flight through integrate, classify, persist
// and fan-out. The flight struct is mutated in place.
func (e *Engine) processFlight(ctx context.Context, f *model.Flight) error {
	next, err := kinematics.Integrate(*f, e.airspace.Airport, e.rng, kinematics.DT)
	if err != nil {
		// Invalid stored state: skip the flight this tick, no mutation.
		e.stats.InvalidStates++
		slog.Error("flight state invalid, skipping", "tick", e.tick, "flight_id", f.ID, "error", err)
		return nil
	}

	pos := coordinates.Geographic{Latitude: next.Latitude, Longitude: next.Longitude}
	distance := e.airspace.DistanceToAirport(pos)
	agl := coordinates.MSLToAGL(next.AltitudeFt, e.airspace.Airport.ElevationFt)
	next.Phase = kinematics.DerivePhase(next.AltitudeFt, agl, distance)

	// The tracker reads the pre-tick distance off the flight for its
	// inbound test, so bookkeeping updates only after Step.
	res := e.tracker.Step(&next, distance, e.tick, e.rng)
	next.LastDistanceNM = next.DistanceToAirportNM
	d := distance
	next.DistanceToAirportNM = &d

	if err := e.persist(ctx, &next, res.Touchdown); err != nil {
		return err
	}

	e.fanOut(ctx, &next, res)
	e.appendTelemetry(&next)

	*f = next
	e.stats.FlightsProcessed++
	if res.Touchdown {
		e.tracker.Forget(next.ID)
		e.stats.Landed++
		slog.Info("flight landed", "tick", e.tick, "flight_id", next.ID, "callsign", next.Callsign)
	}
	return nil
}

// persist writes the flight, choosing the touchdown finalization path
// when the flight landed this tick. Transient failures are absorbed; the
// next tick retries from newer state.
func (e *Engine) persist(ctx context.Context, f *model.Flight, touchdown bool) error {
	writeCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout())
	defer cancel()

	var err error
	if touchdown {
		err = e.store.FinalizeTouchdown(writeCtx, f)
	} else {
		err = e.store.PersistTick(writeCtx, f)
	}
	if err != nil {
		if db.IsFatal(err) {
			return fmt.Errorf("fatal store error persisting flight %d: %w", f.ID, err)
		}
		e.stats.PersistErrors++
		slog.Warn("persist failed, will retry next tick", "tick", e.tick, "flight_id", f.ID, "error", err)
	}
	return nil
}

// fanOut publishes the per-flight events for this tick in order:
// position first, then threshold events, then sector events.
func (e *Engine) fanOut(ctx context.Context, f *model.Flight, res sector.Result) {
	e.publish(ctx, events.PositionUpdated(f, e.tick))

	for _, name := range res.ThresholdEvents {
		extra := map[string]any{}
		if name == sector.EventEnteredEntryZone {
			if fix, ok := e.airspace.NearestEntryFix(coordinates.Geographic{
				Latitude: f.Latitude, Longitude: f.Longitude,
			}); ok {
				extra["entry_fix"] = fix.Name
			}
		}
		e.publish(ctx, events.ThresholdEvent(f, e.tick, name, extra))
		e.logEvent(ctx, &model.LogEvent{
			Level:      "info",
			Type:       events.TypeThresholdEvent,
			Message:    fmt.Sprintf("%s %s", f.Callsign, name),
			Details:    map[string]any{"event_type": name, "tick": e.tick},
			AircraftID: &f.ID,
			Sector:     f.Sector,
		})
	}

	if res.Transition != nil {
		e.stats.Handoffs++
		e.publish(ctx, events.SectorHandoff(f, e.tick, res.Transition.From, res.Transition.To))
		e.logEvent(ctx, &model.LogEvent{
			Level:      "info",
			Type:       events.TypeSectorHandoff,
			Message:    fmt.Sprintf("%s handoff %s to %s", f.Callsign, res.Transition.From, res.Transition.To),
			Details:    map[string]any{"from": res.Transition.From, "to": res.Transition.To, "tick": e.tick},
			AircraftID: &f.ID,
			Sector:     res.Transition.To,
			Direction:  transitionDirection(e.airspace, res.Transition),
		})
	}

	if res.Reflected {
		e.stats.Reflections++
		e.publish(ctx, events.BoundaryReflection(f, e.tick))
		e.logEvent(ctx, &model.LogEvent{
			Level:      "info",
			Type:       events.TypeBoundaryReflection,
			Message:    fmt.Sprintf("%s reflected at airspace boundary", f.Callsign),
			Details:    map[string]any{"new_heading": f.Heading, "tick": e.tick},
			AircraftID: &f.ID,
			Sector:     f.Sector,
		})
	}
}

// transitionDirection labels a handoff inbound or outbound by ring order.
func transitionDirection(a *airspace.Airspace, tr *sector.Transition) string {
	if in, ok := a.InwardNeighbor(tr.From); ok && in.Name == tr.To {
		return "inbound"
	}
	return "outbound"
}

func (e *Engine) appendTelemetry(f *model.Flight) {
	snap := telemetry.Snapshot{
		Tick:             e.tick,
		ID:               f.ID,
		Callsign:         f.Callsign,
		Latitude:         f.Latitude,
		Longitude:        f.Longitude,
		AltitudeFt:       f.AltitudeFt,
		SpeedKts:         f.SpeedKts,
		Heading:          f.Heading,
		VerticalSpeedFpm: f.VerticalSpeedFpm,
		DistanceNM:       derefOrZero(f.DistanceToAirportNM),
		Controller:       string(f.Controller),
		Phase:            string(f.Phase),
		Sector:           f.Sector,
	}
	if err := e.sink.Append(snap); err != nil {
		slog.Warn("telemetry append failed", "tick", e.tick, "flight_id", f.ID, "error", err)
	}
}

// publish sends one envelope, absorbing failures. Backoff-window skips
// are expected during an outage and logged at debug only.
func (e *Engine) publish(ctx context.Context, env events.Envelope) {
	if err := e.pub.Publish(ctx, env); err != nil {
		e.stats.PublishErrors++
		if errors.Is(err, events.ErrPublisherDown) {
			slog.Debug("publish skipped during backoff", "type", env.Type)
			return
		}
		slog.Warn("publish failed", "type", env.Type, "error", err)
	}
}

// logEvent writes an operator-visible event row; failures are absorbed.
func (e *Engine) logEvent(ctx context.Context, ev *model.LogEvent) {
	writeCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout())
	defer cancel()
	if err := e.store.CreateEvent(writeCtx, ev); err != nil {
		slog.Warn("event log write failed", "type", ev.Type, "error", err)
	}
}

func (e *Engine) observeTickDuration(d time.Duration) {
	switch {
	case d > tickErrorBudget:
		e.stats.Overruns++
		slog.Error("tick badly overran budget", "tick", e.tick, "duration", d)
	case d > tickWarnBudget:
		e.stats.Overruns++
		slog.Warn("tick overran budget", "tick", e.tick, "duration", d)
	}
	e.stats.TickDurationTotal += d
}

// shutdown flushes telemetry and announces the final status.
func (e *Engine) shutdown(runErr error) {
	status := "stopped"
	extra := map[string]any{
		"ticks":       e.tick,
		"landed":      e.stats.Landed,
		"handoffs":    e.stats.Handoffs,
		"avg_tick_ms": float64(e.stats.AvgTickDuration()) / float64(time.Millisecond),
	}
	if runErr != nil {
		status = "error"
		extra["error"] = runErr.Error()
	}

	// Best effort: the loop context may already be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.OpTimeout())
	defer cancel()
	e.publish(ctx, events.SystemStatus(e.runID, status, extra))

	if err := e.sink.Flush(); err != nil {
		slog.Error("final telemetry flush failed", "error", err)
	}
	slog.Info("engine stopped", "run_id", e.runID, "ticks", e.tick, "landed", e.stats.Landed, "status", status)
}

func derefOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
