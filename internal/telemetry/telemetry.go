// Package telemetry writes the per-tick flight snapshot log: one JSON
// object per line, one file per engine run.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is one flight's state at one tick. Lines carry the tick
// number rather than wall-clock time so that two runs with the same seed
// produce byte-identical files.
type Snapshot struct {
	Tick             uint64  `json:"tick"`
	ID               int64   `json:"id"`
	Callsign         string  `json:"callsign"`
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lon"`
	AltitudeFt       float64 `json:"altitude_ft"`
	SpeedKts         float64 `json:"speed_kts"`
	Heading          float64 `json:"heading"`
	VerticalSpeedFpm float64 `json:"vertical_speed_fpm"`
	DistanceNM       float64 `json:"distance_nm"`
	Controller       string  `json:"controller"`
	Phase            string  `json:"phase"`
	Sector           string  `json:"sector,omitempty"`
}

// Sink is an append-only buffered writer for snapshot lines. It is owned
// by the tick loop and not safe for concurrent use.
type Sink struct {
	file       *os.File
	w          *bufio.Writer
	path       string
	flushEvery int
	pending    int
}

// NewSink opens a fresh telemetry file in dir, named with the UTC start
// timestamp of the run.
func NewSink(dir string, start time.Time, flushEvery int) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	name := fmt.Sprintf("engine_%s.jsonl", start.UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry file: %w", err)
	}

	return &Sink{
		file:       file,
		w:          bufio.NewWriter(file),
		path:       path,
		flushEvery: flushEvery,
	}, nil
}

// Path returns the file this sink writes to.
func (s *Sink) Path() string {
	return s.path
}

// Append writes one snapshot line, flushing when the buffered line count
// reaches the configured threshold.
func (s *Sink) Append(snap Snapshot) error {
	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry line: %w", err)
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("failed to write telemetry line: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write telemetry line: %w", err)
	}

	s.pending++
	if s.pending >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

// Flush forces buffered lines to disk.
func (s *Sink) Flush() error {
	s.pending = 0
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush telemetry: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	if err := s.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
