package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/atcsim/atc-engine/pkg/model"
)

// FlightRepository handles database operations for engine-controlled
// flights.
type FlightRepository struct {
	db *DB
}

// NewFlightRepository creates a new flight repository.
func NewFlightRepository(db *DB) *FlightRepository {
	return &FlightRepository{db: db}
}

// positionJSON is the structured position column.
type positionJSON struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	AltitudeFt float64 `json:"altitude_ft"`
	SpeedKts   float64 `json:"speed_kts"`
	Heading    float64 `json:"heading"`
}

// ListEngineArrivals returns all active arrivals under engine control in
// stable id order, capped at limit rows.
func (r *FlightRepository) ListEngineArrivals(ctx context.Context, limit int) ([]model.Flight, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, icao24, registration, callsign, squawk_code,
		        aircraft_type_id, airline_id, flight_type,
		        position, status, controller, phase,
		        target_speed_kts, target_heading_deg, target_altitude_ft,
		        vertical_speed_fpm, last_event_fired,
		        distance_to_airport_nm, last_distance_nm,
		        sector, sector_stable_ticks
		 FROM aircraft_instances
		 WHERE controller = $1 AND status = $2 AND flight_type = $3
		 ORDER BY id
		 LIMIT $4`,
		model.ControllerEngine, model.StatusActive, model.FlightTypeArrival, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query engine arrivals: %w", err)
	}
	defer rows.Close()

	var flights []model.Flight
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate engine arrivals: %w", err)
	}
	return flights, nil
}

func scanFlight(rows *sql.Rows) (model.Flight, error) {
	var (
		f            model.Flight
		rawPosition  []byte
		eventsFired  string
		targetSpeed  sql.NullFloat64
		targetHdg    sql.NullFloat64
		targetAlt    sql.NullFloat64
		distance     sql.NullFloat64
		lastDistance sql.NullFloat64
		sector       sql.NullString
	)

	err := rows.Scan(
		&f.ID, &f.ICAO24, &f.Registration, &f.Callsign, &f.Squawk,
		&f.AircraftTypeID, &f.AirlineID, &f.FlightType,
		&rawPosition, &f.Status, &f.Controller, &f.Phase,
		&targetSpeed, &targetHdg, &targetAlt,
		&f.VerticalSpeedFpm, &eventsFired,
		&distance, &lastDistance,
		&sector, &f.SectorStableTicks,
	)
	if err != nil {
		return model.Flight{}, fmt.Errorf("failed to scan flight row: %w", err)
	}

	var pos positionJSON
	if err := json.Unmarshal(rawPosition, &pos); err != nil {
		return model.Flight{}, fmt.Errorf("failed to parse position for flight %d: %w", f.ID, err)
	}
	f.Latitude = pos.Latitude
	f.Longitude = pos.Longitude
	f.AltitudeFt = pos.AltitudeFt
	f.SpeedKts = pos.SpeedKts
	f.Heading = pos.Heading

	f.EventsFired = model.ParseEventSet(eventsFired)
	if targetSpeed.Valid {
		f.TargetSpeedKts = &targetSpeed.Float64
	}
	if targetHdg.Valid {
		f.TargetHeadingDeg = &targetHdg.Float64
	}
	if targetAlt.Valid {
		f.TargetAltitudeFt = &targetAlt.Float64
	}
	if distance.Valid {
		f.DistanceToAirportNM = &distance.Float64
	}
	if lastDistance.Valid {
		f.LastDistanceNM = &lastDistance.Float64
	}
	if sector.Valid {
		f.Sector = sector.String
	}
	return f, nil
}

// PersistTick upserts the mutable fields of one flight after a tick. The
// write is independent per flight; a failed write is retried implicitly
// on the next tick from the newer state.
func (r *FlightRepository) PersistTick(ctx context.Context, f *model.Flight) error {
	pos, err := json.Marshal(positionJSON{
		Latitude:   f.Latitude,
		Longitude:  f.Longitude,
		AltitudeFt: f.AltitudeFt,
		SpeedKts:   f.SpeedKts,
		Heading:    f.Heading,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal position for flight %d: %w", f.ID, err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE aircraft_instances SET
			position = $2,
			vertical_speed_fpm = $3,
			phase = $4,
			last_event_fired = $5,
			distance_to_airport_nm = $6,
			last_distance_nm = $7,
			sector = NULLIF($8, ''),
			sector_stable_ticks = $9,
			updated_at = NOW()
		 WHERE id = $1`,
		f.ID, pos, f.VerticalSpeedFpm, f.Phase, f.EventsFired.String(),
		nullable(f.DistanceToAirportNM), nullable(f.LastDistanceNM),
		f.Sector, f.SectorStableTicks,
	)
	if err != nil {
		return fmt.Errorf("failed to persist flight %d: %w", f.ID, err)
	}
	return nil
}

// FinalizeTouchdown atomically hands the landed flight off to ground
// control. The flight drops out of ListEngineArrivals from the next tick.
func (r *FlightRepository) FinalizeTouchdown(ctx context.Context, f *model.Flight) error {
	pos, err := json.Marshal(positionJSON{
		Latitude:   f.Latitude,
		Longitude:  f.Longitude,
		AltitudeFt: f.AltitudeFt,
		SpeedKts:   f.SpeedKts,
		Heading:    f.Heading,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal position for flight %d: %w", f.ID, err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE aircraft_instances SET
			status = $2,
			controller = $3,
			phase = $4,
			position = $5,
			vertical_speed_fpm = 0,
			last_event_fired = $6,
			distance_to_airport_nm = $7,
			last_distance_nm = $8,
			sector = NULLIF($9, ''),
			sector_stable_ticks = $10,
			updated_at = NOW()
		 WHERE id = $1`,
		f.ID, model.StatusLanded, model.ControllerGround, model.PhaseTouchdown,
		pos, f.EventsFired.String(),
		nullable(f.DistanceToAirportNM), nullable(f.LastDistanceNM),
		f.Sector, f.SectorStableTicks,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize touchdown for flight %d: %w", f.ID, err)
	}
	return nil
}

// ClaimArrival takes engine control of a freshly created arrival. It is
// idempotent: claiming an already claimed or non-arrival flight is a
// no-op. Returns true when the row matched an active arrival.
func (r *FlightRepository) ClaimArrival(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE aircraft_instances SET
			controller = $2,
			updated_at = NOW()
		 WHERE id = $1 AND flight_type = $3 AND status = $4`,
		id, model.ControllerEngine, model.FlightTypeArrival, model.StatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim arrival %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for %d: %w", id, err)
	}
	return n > 0, nil
}

// CreateEvent appends an operator-visible row to the engine event log.
func (r *FlightRepository) CreateEvent(ctx context.Context, ev *model.LogEvent) error {
	var details []byte
	if ev.Details != nil {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO engine_events (level, event_type, message, details, aircraft_id, sector, direction)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))`,
		ev.Level, ev.Type, ev.Message, details, nullableID(ev.AircraftID), ev.Sector, ev.Direction,
	)
	if err != nil {
		return fmt.Errorf("failed to insert engine event: %w", err)
	}
	return nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
