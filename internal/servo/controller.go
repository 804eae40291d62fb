// Package servo drives a two-axis camera gimbal through a PCA9685 PWM
// controller, degrading to a mock driver when the hardware is missing.
package servo

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Controller modes.
const (
	ModeHardware = "hardware"
	ModeMock     = "mock"
)

// Driver writes angles to individual servo channels
type Driver interface {
	// WriteAngle commands one channel to the given angle in degrees
	WriteAngle(channel int, angleDeg float64) error

	// Close releases the underlying device
	Close() error
}

// Config describes the gimbal hardware
type Config struct {
	I2CBus            int
	Address           int
	ChannelYaw        int
	ChannelPitch      int
	FrequencyHz       int
	MinPulseUS        int
	MaxPulseUS        int
	AngleThresholdDeg float64
	Mock              bool
}

// Controller deduplicates and routes angle commands to the gimbal driver.
//
// Angles are rounded to one decimal before comparison. A write on an axis
// is suppressed unless the rounded angle moved by at least the threshold
// since the previous write on that axis, or force is set.
type Controller struct {
	mu  sync.Mutex
	drv Driver

	chYaw   int
	chPitch int

	threshold float64

	lastYaw      float64
	lastPitch    float64
	hasLastYaw   bool
	hasLastPitch bool

	mode string
}

// New creates a Controller, attempting hardware initialization first.
// Any failure opening or programming the PCA9685 falls back to the mock
// driver so the rest of the daemon keeps running.
func New(cfg Config) *Controller {
	if cfg.Mock {
		slog.Info("servo controller in mock mode (forced by config)")
		return NewWithDriver(cfg, NewMockDriver())
	}

	drv, err := OpenPCA9685(cfg)
	if err != nil {
		slog.Warn("servo hardware unavailable, falling back to mock driver",
			"error", err,
			"i2c_bus", cfg.I2CBus,
		)
		return NewWithDriver(cfg, NewMockDriver())
	}

	slog.Info("servo hardware initialized",
		"i2c_bus", cfg.I2CBus,
		"address", fmt.Sprintf("0x%02x", cfg.Address),
		"frequency_hz", cfg.FrequencyHz,
	)
	return NewWithDriver(cfg, drv)
}

// NewWithDriver creates a Controller on an explicit driver
func NewWithDriver(cfg Config, drv Driver) *Controller {
	threshold := cfg.AngleThresholdDeg
	if threshold <= 0 {
		threshold = 0.1
	}

	mode := ModeHardware
	if _, ok := drv.(*MockDriver); ok {
		mode = ModeMock
	}

	return &Controller{
		drv:       drv,
		chYaw:     cfg.ChannelYaw,
		chPitch:   cfg.ChannelPitch,
		threshold: threshold,
		mode:      mode,
	}
}

// SetAngles commands both axes. Writes whose rounded angle is within the
// threshold of the previous write on that axis are skipped unless force
// is set, which writes both axes unconditionally.
func (c *Controller) SetAngles(yawDeg, pitchDeg float64, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	yaw := round1(yawDeg)
	pitch := round1(pitchDeg)

	yawChanged := !c.hasLastYaw || math.Abs(yaw-c.lastYaw) >= c.threshold
	pitchChanged := !c.hasLastPitch || math.Abs(pitch-c.lastPitch) >= c.threshold

	if yawChanged || force {
		if err := c.drv.WriteAngle(c.chYaw, yaw); err != nil {
			return fmt.Errorf("yaw command failed: %w", err)
		}
		c.lastYaw = yaw
		c.hasLastYaw = true
	}

	if pitchChanged || force {
		if err := c.drv.WriteAngle(c.chPitch, pitch); err != nil {
			return fmt.Errorf("pitch command failed: %w", err)
		}
		c.lastPitch = pitch
		c.hasLastPitch = true
	}

	return nil
}

// SetAngle commands a single channel directly, bypassing deduplication.
// It does not touch the per-axis history used by SetAngles.
func (c *Controller) SetAngle(channel int, angleDeg float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.WriteAngle(channel, angleDeg)
}

// Mode reports whether the controller drives real hardware or the mock
func (c *Controller) Mode() string {
	return c.mode
}

// Close releases the driver
func (c *Controller) Close() error {
	return c.drv.Close()
}

// round1 rounds to one decimal place, the servo's effective resolution
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
