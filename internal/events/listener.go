package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/atcsim/atc-engine/pkg/model"
)

// Store takes engine control of newly spawned arrivals and records
// operator-visible events.
type Store interface {
	ClaimArrival(ctx context.Context, id int64) (bool, error)
	CreateEvent(ctx context.Context, ev *model.LogEvent) error
}

// Listener reconnect window. pq.Listener re-establishes the session with
// exponential backoff between these bounds.
const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = 30 * time.Second

	// pingInterval bounds how long a silent connection goes unchecked.
	pingInterval = 90 * time.Second
)

// SpawnListener subscribes to aircraft.created notifications and claims
// arrivals for the engine. Departures are ignored.
type SpawnListener struct {
	listener *pq.Listener
	channel  string
	store    Store
	timeout  time.Duration
}

// NewSpawnListener builds the listener on its own connection.
func NewSpawnListener(connStr, channel string, store Store, timeout time.Duration) *SpawnListener {
	l := pq.NewListener(connStr, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("spawn listener connection event", "event", ev, "error", err)
			}
		})
	return &SpawnListener{
		listener: l,
		channel:  channel,
		store:    store,
		timeout:  timeout,
	}
}

// Run consumes notifications until the context is canceled. Transient
// subscription failures are absorbed by the underlying listener's
// reconnect loop; a nil notification marks a reconnect, after which
// missed spawns are picked up by their next notification or by the tick
// loop query once claimed elsewhere.
func (s *SpawnListener) Run(ctx context.Context) error {
	if err := s.listener.Listen(s.channel); err != nil {
		return err
	}
	defer s.listener.Close()

	slog.Info("spawn listener started", "channel", s.channel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-s.listener.Notify:
			if n == nil {
				// Connection was re-established.
				continue
			}
			s.handle(ctx, n.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := s.listener.Ping(); err != nil {
					slog.Warn("spawn listener ping failed", "error", err)
				}
			}()
		}
	}
}

// handle parses one notification and claims matching arrivals.
func (s *SpawnListener) handle(ctx context.Context, payload string) {
	var msg SpawnMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		slog.Warn("spawn listener dropped malformed message", "error", err)
		return
	}
	if msg.Type != TypeAircraftCreated {
		return
	}
	if msg.Data.Aircraft.FlightType != string(model.FlightTypeArrival) {
		return
	}

	claimCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id := msg.Data.Aircraft.ID
	claimed, err := s.store.ClaimArrival(claimCtx, id)
	if err != nil {
		slog.Error("failed to claim arrival", "aircraft_id", id, "error", err)
		return
	}
	if !claimed {
		return
	}
	slog.Info("claimed arrival", "aircraft_id", id)

	if err := s.store.CreateEvent(claimCtx, &model.LogEvent{
		Level:      "info",
		Type:       TypeAircraftCreated,
		Message:    fmt.Sprintf("claimed arrival %d", id),
		Details:    map[string]any{"aircraft_id": id},
		AircraftID: &id,
	}); err != nil {
		slog.Warn("claim event log write failed", "aircraft_id", id, "error", err)
	}
}
