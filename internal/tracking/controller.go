package tracking

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// Backend issues angle commands to the gimbal
type Backend interface {
	SetAngles(yawDeg, pitchDeg float64, force bool) error
}

// Config tunes the tracking controller
type Config struct {
	Yaw          AxisSmoother
	Pitch        AxisSmoother
	PitchEnabled bool
	Throttle     Throttle
	// ReturnSpeed is the easing speed back to neutral in degrees per second
	ReturnSpeed float64
	// FramePeriod is the expected time between detection results
	FramePeriod time.Duration
}

// tuning is the hot-reloadable parameter set, copied at frame entry
type tuning struct {
	yaw          AxisSmoother
	pitch        AxisSmoother
	pitchEnabled bool
	throttle     Throttle
	returnSpeed  float64
	framePeriod  time.Duration
}

// Controller advances the pointing control law one detection frame at a
// time. It owns no goroutines: the detection consumer calls HandleFrame
// from a single goroutine, which keeps servo commands in frame order.
type Controller struct {
	mission *Mission
	backend Backend

	mu  sync.Mutex
	tun tuning
}

// NewController wires the control law to a mission state and a gimbal backend
func NewController(cfg Config, backend Backend, mission *Mission) *Controller {
	return &Controller{
		mission: mission,
		backend: backend,
		tun: tuning{
			yaw:          cfg.Yaw,
			pitch:        cfg.Pitch,
			pitchEnabled: cfg.PitchEnabled,
			throttle:     cfg.Throttle,
			returnSpeed:  cfg.ReturnSpeed,
			framePeriod:  cfg.FramePeriod,
		},
	}
}

// HandleFrame advances the control law for one frame's detections.
//
// While a mission is active and a person is visible, the largest
// detection is tracked. With no active mission the gimbal eases back to
// neutral. An active mission with nobody visible holds position.
func (c *Controller) HandleFrame(dets []types.Detection, frameWidth, frameHeight int, now time.Time) {
	c.mu.Lock()
	tun := c.tun
	c.mu.Unlock()

	m := c.mission
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cameraReady {
		return
	}

	if m.trackingOn && len(dets) > 0 {
		m.returningToNeutral = false

		target := largestDetection(dets)
		cx, cy := target.Center()
		errX := float64(cx - frameWidth/2)
		errY := float64(cy - frameHeight/2)

		c.controlMotors(m, tun, errX, errY, now)
		return
	}

	if !m.trackingOn {
		c.stepReturn(m, tun, now)
	}
}

// controlMotors runs one smoothed correction step. Called with m.mu held.
func (c *Controller) controlMotors(m *Mission, tun tuning, errX, errY float64, now time.Time) {
	// First motion ever: arm both axes at neutral and skip the
	// correction so the step starts from a known attitude.
	if !m.pos.Initialized {
		neutral := tun.yaw.Limits.Neutral
		m.pos = Position{Yaw: neutral, Pitch: neutral, Initialized: true}
		if err := c.backend.SetAngles(neutral, neutral, true); err != nil {
			slog.Error("servo neutral init failed", "error", err)
		}
		m.lastCommandAt = now
		slog.Info("servos initialized at neutral", "neutral_deg", neutral)
		return
	}

	if !tun.throttle.ShouldSend(now, m.lastCommandAt) {
		return
	}

	newYaw := tun.yaw.Advance(errX, m.pos.Yaw)
	newPitch := tun.pitch.Limits.Neutral
	if tun.pitchEnabled {
		newPitch = tun.pitch.Advance(errY, m.pos.Pitch)
	}

	m.pos.Yaw = newYaw
	m.pos.Pitch = newPitch
	m.lastCommandAt = now

	if err := c.backend.SetAngles(newYaw, newPitch, false); err != nil {
		slog.Error("servo command failed", "error", err)
	}

	slog.Debug("tracking correction",
		"error_x_px", errX,
		"error_y_px", errY,
		"yaw_deg", newYaw,
		"pitch_deg", newPitch,
	)
}

// stepReturn eases the gimbal back to neutral after a mission ends.
// Return steps ignore the command throttle; their rate is bounded by the
// frame rate itself. Called with m.mu held.
func (c *Controller) stepReturn(m *Mission, tun tuning, now time.Time) {
	if !m.pos.Initialized {
		m.returningToNeutral = false
		return
	}

	neutral := tun.yaw.Limits.Neutral
	if m.pos.Yaw == neutral && m.pos.Pitch == neutral {
		m.returningToNeutral = false
		return
	}

	step := tun.returnSpeed * tun.framePeriod.Seconds()
	yaw := m.pos.Yaw
	if math.Abs(yaw-neutral) > step {
		m.returningToNeutral = true
		if yaw > neutral {
			yaw -= step
		} else {
			yaw += step
		}
	} else {
		yaw = neutral
	}

	m.pos.Yaw = yaw
	m.pos.Pitch = neutral

	if err := c.backend.SetAngles(yaw, neutral, false); err != nil {
		slog.Error("return-to-neutral command failed", "error", err)
	}

	if yaw == neutral {
		m.returningToNeutral = false
		slog.Info("gimbal returned to neutral")
	}
}

// StartResult reports the state after a mark_threat request
type StartResult struct {
	TrackingOn bool
	MissionID  string
	// Started is false when a mission was already active
	Started bool
}

// MarkThreat arms tracking. Idempotent: a second call while a mission is
// active returns the existing mission untouched.
func (c *Controller) MarkThreat(now time.Time) StartResult {
	m := c.mission
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.trackingOn {
		return StartResult{TrackingOn: true, MissionID: m.missionID}
	}

	m.trackingOn = true
	m.returningToNeutral = false
	m.missionID = newMissionID(now)

	slog.Info("threat marked, tracking armed", "mission_id", m.missionID)

	return StartResult{TrackingOn: true, MissionID: m.missionID, Started: true}
}

// StopResult reports the state after a stop_tracking request
type StopResult struct {
	WasTracking bool
	// MissionID is the mission that was stopped, empty if none was active
	MissionID string
	// Position is the attitude held at the moment of the stop
	Position Position
}

// StopTracking ends the active mission and holds the current attitude
// with a forced write. The frame loop then eases the gimbal back to
// neutral. A stop with no active mission is a no-op.
func (c *Controller) StopTracking() StopResult {
	m := c.mission
	m.mu.Lock()
	defer m.mu.Unlock()

	res := StopResult{
		WasTracking: m.trackingOn,
		MissionID:   m.missionID,
		Position:    m.pos,
	}

	if m.trackingOn {
		if m.pos.Initialized {
			if err := c.backend.SetAngles(m.pos.Yaw, m.pos.Pitch, true); err != nil {
				slog.Error("hold position command failed", "error", err)
			}
		}
		slog.Info("tracking stopped, holding position",
			"mission_id", m.missionID,
			"yaw_deg", m.pos.Yaw,
			"pitch_deg", m.pos.Pitch,
		)
	}

	m.trackingOn = false
	m.missionID = ""
	m.returningToNeutral = false

	return res
}

// ForceNeutral drives both axes to neutral unconditionally. Used when
// the daemon shuts down so the gimbal is never left pointing somewhere.
func (c *Controller) ForceNeutral() error {
	c.mu.Lock()
	neutral := c.tun.yaw.Limits.Neutral
	c.mu.Unlock()

	m := c.mission
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.Initialized {
		m.pos.Yaw = neutral
		m.pos.Pitch = neutral
	}
	m.returningToNeutral = false

	return c.backend.SetAngles(neutral, neutral, true)
}

// Status returns the UI-facing status payload
func (c *Controller) Status() map[string]interface{} {
	c.mu.Lock()
	factor := c.tun.yaw.Factor
	c.mu.Unlock()

	s := c.mission.Snapshot()

	var yaw, pitch interface{} = "not_initialized", "not_initialized"
	if s.Position.Initialized {
		yaw = s.Position.Yaw
		pitch = s.Position.Pitch
	}

	var missionID interface{}
	if s.MissionID != "" {
		missionID = s.MissionID
	}

	return map[string]interface{}{
		"tracking_on":          s.TrackingOn,
		"mission_id":           missionID,
		"servo_yaw":            yaw,
		"servo_pitch":          pitch,
		"camera_ready":         s.CameraReady,
		"control_type":         "smooth",
		"smooth_factor":        factor,
		"returning_to_neutral": s.ReturningToNeutral,
	}
}

// SmoothFactor returns the current yaw smoothing factor
func (c *Controller) SmoothFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tun.yaw.Factor
}

// SmoothFactors returns the current yaw and pitch smoothing factors
func (c *Controller) SmoothFactors() (yaw, pitch float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tun.yaw.Factor, c.tun.pitch.Factor
}

// SetFramePeriod retunes the expected time between detection frames,
// used after warm-up measures the real stream cadence.
func (c *Controller) SetFramePeriod(period time.Duration) {
	if period <= 0 {
		return
	}
	c.mu.Lock()
	c.tun.framePeriod = period
	c.mu.Unlock()
}

// SetSmoothingFactors updates the per-axis easing fractions
func (c *Controller) SetSmoothingFactors(yaw, pitch float64) error {
	if yaw <= 0 || yaw > 1 {
		return fmt.Errorf("yaw smoothing factor %v out of range (0, 1]", yaw)
	}
	if pitch <= 0 || pitch > 1 {
		return fmt.Errorf("pitch smoothing factor %v out of range (0, 1]", pitch)
	}
	c.mu.Lock()
	c.tun.yaw.Factor = yaw
	c.tun.pitch.Factor = pitch
	c.mu.Unlock()
	return nil
}

// SetPitchEnabled toggles the pitch axis. While disabled, pitch is
// commanded to neutral on every tracking step.
func (c *Controller) SetPitchEnabled(enabled bool) {
	c.mu.Lock()
	c.tun.pitchEnabled = enabled
	c.mu.Unlock()
}

// SetCommandInterval updates the motor command throttle
func (c *Controller) SetCommandInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("command interval must be positive, got %v", d)
	}
	c.mu.Lock()
	c.tun.throttle.Interval = d
	c.mu.Unlock()
	return nil
}

// SetReturnSpeed updates the return-to-neutral easing speed
func (c *Controller) SetReturnSpeed(degPerSecond float64) error {
	if degPerSecond <= 0 {
		return fmt.Errorf("return speed must be positive, got %v", degPerSecond)
	}
	c.mu.Lock()
	c.tun.returnSpeed = degPerSecond
	c.mu.Unlock()
	return nil
}

// largestDetection picks the detection with the biggest pixel area.
// Ties keep the earliest one in detector order.
func largestDetection(dets []types.Detection) types.Detection {
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Area() > best.Area() {
			best = d
		}
	}
	return best
}
