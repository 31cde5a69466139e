package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atcsim/atc-engine/internal/events"
	"github.com/atcsim/atc-engine/internal/telemetry"
	"github.com/atcsim/atc-engine/pkg/airspace"
	"github.com/atcsim/atc-engine/pkg/config"
	"github.com/atcsim/atc-engine/pkg/coordinates"
	"github.com/atcsim/atc-engine/pkg/model"
	"github.com/atcsim/atc-engine/pkg/sector"
)

// fakeStore is an in-memory Store with failure injection.
type fakeStore struct {
	flights   map[int64]model.Flight
	events    []model.LogEvent
	listErr   error
	persistErr error
}

func newFakeStore(flights ...model.Flight) *fakeStore {
	s := &fakeStore{flights: make(map[int64]model.Flight)}
	for _, f := range flights {
		s.flights[f.ID] = f
	}
	return s
}

func (s *fakeStore) ListEngineArrivals(_ context.Context, limit int) ([]model.Flight, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Flight
	for _, f := range s.flights {
		if f.Controller == model.ControllerEngine &&
			f.Status == model.StatusActive &&
			f.FlightType == model.FlightTypeArrival {
			// Round-trip the event set the way a real row scan would.
			f.EventsFired = model.ParseEventSet(f.EventsFired.String())
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) PersistTick(_ context.Context, f *model.Flight) error {
	if s.persistErr != nil {
		return s.persistErr
	}
	s.flights[f.ID] = *f
	return nil
}

func (s *fakeStore) FinalizeTouchdown(_ context.Context, f *model.Flight) error {
	if s.persistErr != nil {
		return s.persistErr
	}
	s.flights[f.ID] = *f
	return nil
}

func (s *fakeStore) CreateEvent(_ context.Context, ev *model.LogEvent) error {
	s.events = append(s.events, *ev)
	return nil
}

// fakePublisher records envelopes and can simulate an outage window.
type fakePublisher struct {
	envelopes []events.Envelope
	down      bool
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, env events.Envelope) error {
	if p.down {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *fakePublisher) byType(eventType string) []events.Envelope {
	var out []events.Envelope
	for _, env := range p.envelopes {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

// fakeSink collects snapshots in memory.
type fakeSink struct {
	lines []telemetry.Snapshot
}

func (s *fakeSink) Append(snap telemetry.Snapshot) error {
	s.lines = append(s.lines, snap)
	return nil
}

func (s *fakeSink) Flush() error { return nil }

func engineConfig(seed int64) config.EngineConfig {
	return config.EngineConfig{
		TickRateHz:         1.0,
		Seed:               seed,
		OpTimeoutMS:        500,
		SnapshotEveryTicks: 10,
		MaxFlightsPerTick:  100,
	}
}

func ptr(v float64) *float64 { return &v }

// arrivalAt places an inbound arrival the given distance north of the
// airport, headed straight at it.
func arrivalAt(id int64, distanceNM, altitudeFt, speedKts float64) model.Flight {
	a := airspace.Default()
	pos := coordinates.Advance(coordinates.Geographic{
		Latitude: a.Airport.Latitude, Longitude: a.Airport.Longitude,
	}, 0, distanceNM)
	return model.Flight{
		ID:               id,
		ICAO24:           fmt.Sprintf("c0ff%02x", id),
		Registration:     fmt.Sprintf("C-GT%02d", id),
		Callsign:         fmt.Sprintf("TST%03d", id),
		FlightType:       model.FlightTypeArrival,
		Latitude:         pos.Latitude,
		Longitude:        pos.Longitude,
		AltitudeFt:       altitudeFt,
		SpeedKts:         speedKts,
		Heading:          180,
		TargetSpeedKts:   ptr(speedKts),
		TargetHeadingDeg: ptr(180.0),
		Controller:       model.ControllerEngine,
		Status:           model.StatusActive,
		Phase:            model.PhaseDescent,
	}
}

// runTicks drives the engine loop directly, bypassing the wall-clock
// limiter.
func runTicks(t *testing.T, e *Engine, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		e.tick++
		require.NoError(t, e.runTick(ctx))
	}
}

func TestEngineFliesArrivalToTouchdown(t *testing.T) {
	// Low and slow on the final approach course: the flight should ride
	// the glideslope down well inside the run budget.
	store := newFakeStore(arrivalAt(1, 15, 4000, 160))
	pub := &fakePublisher{}
	sink := &fakeSink{}
	e := New(engineConfig(42), airspace.Default(), store, pub, sink, "run-test")

	runTicks(t, e, 450)

	final := store.flights[1]
	assert.Equal(t, model.StatusLanded, final.Status, "flight should have landed")
	assert.Equal(t, model.ControllerGround, final.Controller)
	assert.Equal(t, model.PhaseTouchdown, final.Phase)
	assert.Zero(t, final.VerticalSpeedFpm)
	assert.LessOrEqual(t, final.SpeedKts, sector.LandingRollSpeedKts)

	// Each threshold event fired exactly once.
	counts := map[string]int{}
	for _, env := range pub.byType(events.TypeThresholdEvent) {
		counts[env.Data["event_type"].(string)]++
	}
	assert.Equal(t, 1, counts[sector.EventEnteredEntryZone])
	assert.Equal(t, 1, counts[sector.EventHandoffReady])
	assert.Equal(t, 1, counts[sector.EventTouchdown])

	// The entry-zone crossing names its nearest entry fix.
	for _, env := range pub.byType(events.TypeThresholdEvent) {
		if env.Data["event_type"] == sector.EventEnteredEntryZone {
			assert.Equal(t, "CYYZ_N", env.Data["entry_fix"])
		}
	}

	assert.EqualValues(t, 1, e.Stats().Landed)

	// The landed flight disappears from subsequent ticks.
	before := len(sink.lines)
	runTicks(t, e, 5)
	assert.Equal(t, before, len(sink.lines), "landed flight still producing telemetry")
}

func TestEngineDeterministicReplay(t *testing.T) {
	run := func() []telemetry.Snapshot {
		store := newFakeStore(arrivalAt(1, 35, 25000, 280), arrivalAt(2, 40, 26000, 290))
		sink := &fakeSink{}
		e := New(engineConfig(42), airspace.Default(), store, &fakePublisher{}, sink, "run-a")
		runTicks(t, e, 200)
		return sink.lines
	}

	a, err := json.Marshal(run())
	require.NoError(t, err)
	b, err := json.Marshal(run())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b), "same seed and flight set must replay byte-identically")
}

func TestEngineSeedChangesDrift(t *testing.T) {
	run := func(seed int64) []telemetry.Snapshot {
		// No targets: all three axes drift from the seeded stream.
		f := arrivalAt(1, 35, 25000, 280)
		f.TargetSpeedKts = nil
		f.TargetHeadingDeg = nil
		store := newFakeStore(f)
		sink := &fakeSink{}
		e := New(engineConfig(seed), airspace.Default(), store, &fakePublisher{}, sink, "run-a")
		runTicks(t, e, 50)
		return sink.lines
	}

	a, err := json.Marshal(run(1))
	require.NoError(t, err)
	b, err := json.Marshal(run(2))
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(b), "different seeds should diverge")
}

func TestEnginePositionPrecedesFlightEvents(t *testing.T) {
	// Spawn just outside the entry-zone threshold so tick 1 fires events.
	store := newFakeStore(arrivalAt(1, 30.05, 25000, 280))
	pub := &fakePublisher{}
	e := New(engineConfig(7), airspace.Default(), store, pub, &fakeSink{}, "run-test")

	runTicks(t, e, 2)

	posSeen := false
	for _, env := range pub.envelopes {
		switch env.Type {
		case events.TypePositionUpdated:
			posSeen = true
		case events.TypeThresholdEvent:
			assert.True(t, posSeen, "threshold event published before any position update")
		}
	}
	require.NotEmpty(t, pub.byType(events.TypeThresholdEvent), "expected a threshold crossing")
}

func TestEngineMonotonicProgress(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 35, 25000, 280), arrivalAt(2, 45, 26000, 290))
	sink := &fakeSink{}
	e := New(engineConfig(11), airspace.Default(), store, &fakePublisher{}, sink, "run-test")

	runTicks(t, e, 300)

	// Distance decreases over every 30-tick window for both flights.
	byFlight := map[int64][]float64{}
	for _, line := range sink.lines {
		byFlight[line.ID] = append(byFlight[line.ID], line.DistanceNM)
	}
	for id, distances := range byFlight {
		for i := 30; i < len(distances); i += 30 {
			assert.Less(t, distances[i], distances[i-30],
				"flight %d distance not decreasing over window ending at index %d", id, i)
		}
	}
}

func TestEngineSnapshotCadence(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 35, 25000, 280))
	pub := &fakePublisher{}
	e := New(engineConfig(3), airspace.Default(), store, pub, &fakeSink{}, "run-test")

	runTicks(t, e, 25)

	snaps := pub.byType(events.TypeStateSnapshot)
	require.Len(t, snaps, 2, "expected snapshots at ticks 10 and 20")
	assert.EqualValues(t, 10, snaps[0].Data["tick"])
	assert.EqualValues(t, 20, snaps[1].Data["tick"])
}

func TestEnginePublisherOutage(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 35, 25000, 280))
	pub := &fakePublisher{err: assert.AnError}
	sink := &fakeSink{}
	e := New(engineConfig(5), airspace.Default(), store, pub, sink, "run-test")

	runTicks(t, e, 30)
	pub.down = true
	runTicks(t, e, 60)
	pub.down = false
	runTicks(t, e, 30)

	// State kept progressing through the outage.
	assert.Len(t, sink.lines, 120)
	assert.Greater(t, e.Stats().PublishErrors, uint64(0))

	final := store.flights[1]
	require.NotNil(t, final.DistanceToAirportNM)
	assert.Less(t, *final.DistanceToAirportNM, 35.0)
}

func TestEngineSkipsInvalidState(t *testing.T) {
	bad := arrivalAt(1, 35, 25000, 280)
	bad.Heading = 360 // out of range
	good := arrivalAt(2, 40, 26000, 290)
	store := newFakeStore(bad, good)
	sink := &fakeSink{}
	e := New(engineConfig(9), airspace.Default(), store, &fakePublisher{}, sink, "run-test")

	runTicks(t, e, 3)

	// The invalid flight is untouched; the valid one advanced.
	assert.Equal(t, 360.0, store.flights[1].Heading)
	assert.Nil(t, store.flights[1].DistanceToAirportNM)
	assert.NotNil(t, store.flights[2].DistanceToAirportNM)
	assert.EqualValues(t, 3, e.Stats().InvalidStates)

	for _, line := range sink.lines {
		assert.EqualValues(t, 2, line.ID, "invalid flight leaked into telemetry")
	}
}

func TestEngineFatalStoreError(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 35, 25000, 280))
	store.listErr = &pq.Error{Code: "42P01"}
	e := New(engineConfig(1), airspace.Default(), store, &fakePublisher{}, &fakeSink{}, "run-test")

	e.tick++
	err := e.runTick(context.Background())
	assert.Error(t, err, "fatal store errors must stop the engine")
}

func TestEngineTransientReadSkipsTick(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 35, 25000, 280))
	store.listErr = assert.AnError
	sink := &fakeSink{}
	e := New(engineConfig(1), airspace.Default(), store, &fakePublisher{}, sink, "run-test")

	e.tick++
	require.NoError(t, e.runTick(context.Background()))
	assert.Empty(t, sink.lines)

	store.listErr = nil
	e.tick++
	require.NoError(t, e.runTick(context.Background()))
	assert.NotEmpty(t, sink.lines)
}

func TestEngineRunBoundedTicks(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 35, 25000, 280))
	pub := &fakePublisher{}
	cfg := engineConfig(42)
	cfg.TickRateHz = 1000 // keep the wall-clock run short
	e := New(cfg, airspace.Default(), store, pub, &fakeSink{}, "run-test")

	require.NoError(t, e.Run(context.Background(), 5))

	assert.EqualValues(t, 5, e.Stats().Ticks)

	statuses := pub.byType(events.TypeSystemStatus)
	require.Len(t, statuses, 2)
	assert.Equal(t, "started", statuses[0].Data["status"])
	assert.Equal(t, "stopped", statuses[1].Data["status"])
}

func TestEngineRunCancellation(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 35, 25000, 280))
	pub := &fakePublisher{}
	cfg := engineConfig(42)
	cfg.TickRateHz = 1000
	e := New(cfg, airspace.Default(), store, pub, &fakeSink{}, "run-test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 0) }()

	cancel()
	require.NoError(t, <-done, "cancellation is a clean shutdown")

	statuses := pub.byType(events.TypeSystemStatus)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "stopped", statuses[len(statuses)-1].Data["status"])
}

func TestEngineStatusEventCadence(t *testing.T) {
	store := newFakeStore(arrivalAt(1, 40, 31000, 300))
	e := New(engineConfig(9), airspace.Default(), store, &fakePublisher{}, &fakeSink{}, "run-test")

	runTicks(t, e, 25)

	var ticks []uint64
	for _, ev := range store.events {
		if ev.Type == events.TypeSystemStatus {
			ticks = append(ticks, ev.Details["tick"].(uint64))
			assert.Contains(t, ev.Details, "avg_tick_ms")
			assert.Contains(t, ev.Details, "flights")
		}
	}
	assert.Equal(t, []uint64{10, 20}, ticks, "status rows follow the snapshot cadence")
}

func TestStatsAvgTickDuration(t *testing.T) {
	s := Stats{Ticks: 10, TickDurationTotal: 250 * time.Millisecond}
	assert.Equal(t, 25*time.Millisecond, s.AvgTickDuration())
	assert.Zero(t, Stats{}.AvgTickDuration())
}

func TestTickLimiterCatchUp(t *testing.T) {
	interval := 100 * time.Millisecond
	l := newTickLimiter(interval)

	now := time.Now()
	require.True(t, l.AllowN(now, 1), "first tick fires immediately")

	// After a stall several intervals long, the missed ticks run
	// back-to-back instead of re-phasing, bounded by the catch-up window.
	later := now.Add(10 * interval)
	for i := 0; i < tickCatchUpBurst; i++ {
		require.True(t, l.AllowN(later, 1), "catch-up tick %d denied", i)
	}
	assert.False(t, l.AllowN(later, 1), "catch-up window is bounded")
}
