package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPublisherDown is returned while the publisher is inside its backoff
// window after a failure. Callers log and move on; state persistence is
// unaffected.
var ErrPublisherDown = errors.New("publisher in backoff")

// maxBackoff caps the retry gate after repeated publish failures.
const maxBackoff = 30 * time.Second

// Publisher sends engine events as Postgres notifications on a single
// dedicated connection. Publishes are sequential; a failure opens a
// backoff window that subsequent publishes skip through cheaply instead
// of stalling the tick loop on a dead connection.
type Publisher struct {
	db      *sql.DB
	channel string
	timeout time.Duration

	mu        sync.Mutex
	downUntil time.Time
	backoff   time.Duration
}

// NewPublisher opens the publisher's dedicated connection.
func NewPublisher(connStr, channel string, timeout time.Duration) (*Publisher, error) {
	pubDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open publisher connection: %w", err)
	}
	pubDB.SetMaxOpenConns(1)
	pubDB.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pubDB.PingContext(ctx); err != nil {
		pubDB.Close()
		return nil, fmt.Errorf("failed to ping publisher connection: %w", err)
	}

	return &Publisher{
		db:      pubDB,
		channel: channel,
		timeout: timeout,
		backoff: time.Second,
	}, nil
}

// Publish sends one envelope. At-least-once: the caller may retry on a
// later tick; consumers dedupe on (flight id, event name).
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	p.mu.Lock()
	if time.Now().Before(p.downUntil) {
		p.mu.Unlock()
		return ErrPublisherDown
	}
	p.mu.Unlock()

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", env.Type, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.db.ExecContext(callCtx, `SELECT pg_notify($1, $2)`, p.channel, string(payload)); err != nil {
		p.fail()
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}

	p.mu.Lock()
	p.backoff = time.Second
	p.mu.Unlock()
	return nil
}

// fail opens (or widens) the backoff window.
func (p *Publisher) fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downUntil = time.Now().Add(p.backoff)
	slog.Warn("publisher unavailable, backing off", "backoff", p.backoff, "channel", p.channel)
	p.backoff *= 2
	if p.backoff > maxBackoff {
		p.backoff = maxBackoff
	}
}

// Close releases the publisher connection.
func (p *Publisher) Close() error {
	return p.db.Close()
}
