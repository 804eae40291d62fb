package servo

import (
	"log/slog"
	"sync"
)

// Write is a single recorded angle command
type Write struct {
	Channel  int
	AngleDeg float64
}

// MockDriver records angle writes instead of touching hardware. It is
// the fallback when the PCA9685 cannot be opened and the test double
// for anything that drives the gimbal.
type MockDriver struct {
	mu     sync.Mutex
	writes []Write
}

// NewMockDriver creates an empty mock gimbal driver
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

// WriteAngle implements Driver
func (m *MockDriver) WriteAngle(channel int, angleDeg float64) error {
	m.mu.Lock()
	m.writes = append(m.writes, Write{Channel: channel, AngleDeg: angleDeg})
	m.mu.Unlock()

	slog.Debug("mock servo write", "channel", channel, "angle_deg", angleDeg)
	return nil
}

// Close implements Driver
func (m *MockDriver) Close() error {
	return nil
}

// Writes returns a copy of all recorded commands in order
func (m *MockDriver) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// WriteCount returns how many commands hit the given channel
func (m *MockDriver) WriteCount(channel int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.writes {
		if w.Channel == channel {
			n++
		}
	}
	return n
}

// LastAngle returns the most recent angle written to a channel
func (m *MockDriver) LastAngle(channel int) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.writes) - 1; i >= 0; i-- {
		if m.writes[i].Channel == channel {
			return m.writes[i].AngleDeg, true
		}
	}
	return 0, false
}
