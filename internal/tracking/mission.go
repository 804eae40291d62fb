package tracking

import (
	"fmt"
	"sync"
	"time"
)

// Position is the commanded gimbal attitude. Yaw and pitch are only
// meaningful once Initialized is set; both axes are always set together.
type Position struct {
	Yaw         float64
	Pitch       float64
	Initialized bool
}

// Mission holds the tracking session state shared between the frame loop
// and the control surfaces. All fields are guarded by mu; the Controller
// in this package locks it for the duration of a frame step.
type Mission struct {
	mu sync.Mutex

	trackingOn         bool
	missionID          string
	pos                Position
	returningToNeutral bool
	cameraReady        bool
	lastCommandAt      time.Time
}

// NewMission creates an idle mission state
func NewMission() *Mission {
	return &Mission{}
}

// SetCameraReady marks the frame source as delivering frames. No servo
// motion happens before this is set.
func (m *Mission) SetCameraReady(ready bool) {
	m.mu.Lock()
	m.cameraReady = ready
	m.mu.Unlock()
}

// CameraReady reports whether the frame source is delivering frames
func (m *Mission) CameraReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraReady
}

// Snapshot is a point-in-time copy of the mission state
type Snapshot struct {
	TrackingOn         bool
	MissionID          string
	Position           Position
	ReturningToNeutral bool
	CameraReady        bool
	LastCommandAt      time.Time
}

// Snapshot returns a consistent copy of the current state
func (m *Mission) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		TrackingOn:         m.trackingOn,
		MissionID:          m.missionID,
		Position:           m.pos,
		ReturningToNeutral: m.returningToNeutral,
		CameraReady:        m.cameraReady,
		LastCommandAt:      m.lastCommandAt,
	}
}

// newMissionID mints the journal identifier for a tracking session
func newMissionID(now time.Time) string {
	return fmt.Sprintf("mission_%d", now.UnixMilli())
}
