package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"

	"github.com/atcsim/atc-engine/pkg/config"
)

func TestConnString(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.local",
		Port:     5433,
		Database: "atcsim",
		Username: "engine",
		Password: "secret",
		SSLMode:  "require",
	}
	got := ConnString(cfg)
	want := "host=db.local port=5433 user=engine password=secret dbname=atcsim sslmode=require"
	if got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Invalid password", &pq.Error{Code: "28P01"}, true},
		{"Invalid authorization", &pq.Error{Code: "28000"}, true},
		{"Undefined table", &pq.Error{Code: "42P01"}, true},
		{"Undefined column", &pq.Error{Code: "42703"}, true},
		{"Missing database", &pq.Error{Code: "3D000"}, true},
		{"Serialization failure is not fatal", &pq.Error{Code: "40001"}, false},
		{"Wrapped fatal error", fmt.Errorf("persist: %w", &pq.Error{Code: "42P01"}), true},
		{"Plain error", errors.New("connection refused"), false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Connection refused", errors.New("dial tcp: connection refused"), true},
		{"Broken pipe", errors.New("write: broken pipe"), true},
		{"Deadline exceeded", context.DeadlineExceeded, true},
		{"Wrapped timeout", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"Fatal is never transient", &pq.Error{Code: "28P01"}, false},
		{"Constraint violation", &pq.Error{Code: "23505", Message: "duplicate key"}, false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSchemaEmbedded(t *testing.T) {
	raw, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		t.Fatalf("schema not embedded: %v", err)
	}
	sql := string(raw)
	for _, stmt := range []string{"aircraft_instances", "engine_events", "last_event_fired"} {
		if !strings.Contains(sql, stmt) {
			t.Errorf("schema missing %q", stmt)
		}
	}
}
