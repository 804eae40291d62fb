package tracking

import "time"

// Throttle rate-limits motor commands. Frames that arrive inside the
// interval are dropped, never queued, so the gimbal always acts on the
// freshest detection.
type Throttle struct {
	Interval time.Duration
}

// ShouldSend reports whether enough time has passed since the last command
func (t Throttle) ShouldSend(now, last time.Time) bool {
	return now.Sub(last) >= t.Interval
}
