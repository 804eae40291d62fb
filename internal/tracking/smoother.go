// Package tracking implements the gimbal pointing control law: smoothed
// pixel-error corrections while a mission is active, eased return to
// neutral after it stops.
package tracking

// Limits bound the gimbal travel on one axis in degrees
type Limits struct {
	Neutral float64
	Min     float64
	Max     float64
}

// Clamp bounds an angle to the travel range
func (l Limits) Clamp(angleDeg float64) float64 {
	if angleDeg < l.Min {
		return l.Min
	}
	if angleDeg > l.Max {
		return l.Max
	}
	return angleDeg
}

// AxisSmoother converts a pixel error into an eased angle update for one
// axis. The raw target is the neutral angle plus the angular correction
// implied by the pixel error; each frame moves a fixed fraction of the
// way from the current angle toward that target.
type AxisSmoother struct {
	PixelsPerDegree float64
	Factor          float64
	Limits          Limits
}

// Advance computes the next angle from a pixel error and the current angle
func (s AxisSmoother) Advance(errorPx, currentDeg float64) float64 {
	correction := errorPx / s.PixelsPerDegree
	target := s.Limits.Clamp(s.Limits.Neutral + correction)
	return currentDeg + (target-currentDeg)*s.Factor
}
