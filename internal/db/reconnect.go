package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atcsim/atc-engine/pkg/config"
)

// ReconnectWithRetry attempts to connect to the database with exponential
// backoff, capped at 30 seconds between attempts. maxRetries = 0 retries
// forever; a fatal error (auth, schema) aborts immediately.
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int) (*DB, error) {
	delay := time.Second
	attempt := 0

	for {
		attempt++

		conn, err := Connect(cfg)
		if err == nil {
			slog.Info("database connected", "host", cfg.Host, "attempt", attempt)
			return conn, nil
		}
		if IsFatal(err) {
			return nil, err
		}
		if maxRetries > 0 && attempt >= maxRetries {
			return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempt, err)
		}

		slog.Warn("database connection failed", "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

// HealthCheck reports whether the database is reachable and answering
// queries.
func HealthCheck(ctx context.Context, conn *DB) bool {
	if conn == nil {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(checkCtx); err != nil {
		slog.Warn("database health check failed", "error", err)
		return false
	}

	var result int
	if err := conn.QueryRowContext(checkCtx, "SELECT 1").Scan(&result); err != nil || result != 1 {
		slog.Warn("database health check query failed", "error", err)
		return false
	}
	return true
}
