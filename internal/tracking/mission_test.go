package tracking

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

// TestNewMissionID verifies the journal identifier format: a mission_
// prefix followed by the start time in unix milliseconds.
func TestNewMissionID(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := newMissionID(now)

	if !strings.HasPrefix(id, "mission_") {
		t.Fatalf("id %q missing mission_ prefix", id)
	}
	ms, err := strconv.ParseInt(strings.TrimPrefix(id, "mission_"), 10, 64)
	if err != nil {
		t.Fatalf("id suffix is not an integer: %v", err)
	}
	if ms != now.UnixMilli() {
		t.Errorf("id timestamp = %d, want %d", ms, now.UnixMilli())
	}
}

// TestMission_SnapshotIsACopy verifies that mutating state after taking
// a snapshot does not change the snapshot.
func TestMission_SnapshotIsACopy(t *testing.T) {
	m := NewMission()
	m.SetCameraReady(true)

	s1 := m.Snapshot()
	m.SetCameraReady(false)
	m.mu.Lock()
	m.trackingOn = true
	m.pos = Position{Yaw: 120, Pitch: 85, Initialized: true}
	m.mu.Unlock()

	if !s1.CameraReady || s1.TrackingOn || s1.Position.Initialized {
		t.Errorf("snapshot changed after later mutations: %+v", s1)
	}

	s2 := m.Snapshot()
	if s2.CameraReady || !s2.TrackingOn || s2.Position.Yaw != 120 {
		t.Errorf("second snapshot missed mutations: %+v", s2)
	}
}
