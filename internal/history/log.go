// Package history journals tracking events and frame snapshots to disk.
// The journal is a JSONL file, one event per line, append-only across
// daemon restarts.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Youri-program/radarzuyd/internal/types"
)

const journalName = "events.jsonl"

// Event is one journal row. Mission transition rows carry the event name
// and mission id; snapshot rows add the gimbal attitude and detections.
type Event struct {
	TimestampMS  int64             `json:"timestamp_ms"`
	Name         string            `json:"event,omitempty"`
	Mode         string            `json:"mode,omitempty"`
	MissionID    *string           `json:"mission_id"`
	ServoYaw     *float64          `json:"servo_yaw,omitempty"`
	ServoPitch   *float64          `json:"servo_pitch,omitempty"`
	ControlType  string            `json:"control_type,omitempty"`
	SmoothFactor float64           `json:"smooth_factor,omitempty"`
	Detections   []types.Detection `json:"detections,omitempty"`
	SnapshotPath string            `json:"snapshot_path,omitempty"`

	at time.Time
}

// NewMissionEvent builds a mark_threat or stop_tracking journal row
func NewMissionEvent(name, missionID string, now time.Time) Event {
	e := Event{
		TimestampMS: now.UnixMilli(),
		Name:        name,
		at:          now,
	}
	if missionID != "" {
		e.MissionID = &missionID
	}
	return e
}

// SnapshotInfo carries everything a snapshot row records
type SnapshotInfo struct {
	// Mode is "tracking" during a mission, "scanning" otherwise
	Mode      string
	MissionID string
	// ServoYaw and ServoPitch are nil before the gimbal is initialized
	ServoYaw     *float64
	ServoPitch   *float64
	SmoothFactor float64
	Detections   []types.Detection
	// Path is where the JPEG was written
	Path string
}

// NewSnapshotEvent builds a snapshot journal row
func NewSnapshotEvent(info SnapshotInfo, now time.Time) Event {
	e := Event{
		TimestampMS:  now.UnixMilli(),
		Mode:         info.Mode,
		ServoYaw:     info.ServoYaw,
		ServoPitch:   info.ServoPitch,
		ControlType:  "smooth",
		SmoothFactor: info.SmoothFactor,
		Detections:   info.Detections,
		SnapshotPath: info.Path,
		at:           now,
	}
	if info.MissionID != "" {
		e.MissionID = &info.MissionID
	}
	return e
}

// Kind implements types.Event
func (e Event) Kind() string {
	if e.Name != "" {
		return e.Name
	}
	return "snapshot"
}

// Timestamp implements types.Event
func (e Event) Timestamp() time.Time {
	return e.at
}

// ToJSON implements types.Event
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Log is an append-only JSONL journal plus the directory snapshots are
// written into.
type Log struct {
	mu   sync.Mutex
	dir  string
	f    *os.File
	rows uint64
}

// Open creates the history directory if needed and opens the journal
// for appending.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}

	path := filepath.Join(dir, journalName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	slog.Info("history journal open", "path", path)
	return &Log{dir: dir, f: f}, nil
}

// Dir returns the directory snapshots are written into
func (l *Log) Dir() string {
	return l.dir
}

// Append writes one event as a single JSON line
func (l *Log) Append(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("journal closed")
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	l.rows++
	return nil
}

// Rows returns the number of rows appended this session
func (l *Log) Rows() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

// Close closes the journal file. Further appends fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
