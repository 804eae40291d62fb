package tracking

import (
	"math"
	"math/rand"
	"testing"
	"testing/quick"
)

func testLimits() Limits {
	return Limits{Neutral: 90, Min: 30, Max: 150}
}

// TestAxisSmoother_KnownCorrections pins the control law to hand
// computed values.
func TestAxisSmoother_KnownCorrections(t *testing.T) {
	s := AxisSmoother{PixelsPerDegree: 15, Factor: 0.3, Limits: testLimits()}

	tests := []struct {
		name       string
		errorPx    float64
		currentDeg float64
		want       float64
	}{
		{"50px error from neutral", 50, 90, 91.0},
		{"no error holds angle", 0, 90, 90.0},
		{"huge error clamps target to max", 10000, 90, 108.0},
		{"negative error clamps target to min", -900, 90, 72.0},
		{"already at target", 0, 90, 90.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Advance(tt.errorPx, tt.currentDeg)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Advance(%v, %v) = %v, want %v", tt.errorPx, tt.currentDeg, got, tt.want)
			}
		})
	}
}

// TestAxisSmoother_Property1_OutputWithinLimits verifies that the next
// angle never leaves the travel range when the current angle is inside it.
//
// Property: for any pixel error and any current angle within limits,
// Advance returns an angle within limits.
func TestAxisSmoother_Property1_OutputWithinLimits(t *testing.T) {
	s := AxisSmoother{PixelsPerDegree: 15, Factor: 0.3, Limits: testLimits()}

	f := func(errRaw, curRaw float64) bool {
		if math.IsNaN(errRaw) || math.IsInf(errRaw, 0) {
			return true
		}
		if math.IsNaN(curRaw) || math.IsInf(curRaw, 0) {
			return true
		}

		// Map the raw draws into usable ranges.
		errorPx := math.Mod(errRaw, 5000)
		current := s.Limits.Min + math.Mod(math.Abs(curRaw), s.Limits.Max-s.Limits.Min)

		got := s.Advance(errorPx, current)
		if got < s.Limits.Min-1e-9 || got > s.Limits.Max+1e-9 {
			t.Logf("FAIL: Advance(%v, %v) = %v outside [%v, %v]",
				errorPx, current, got, s.Limits.Min, s.Limits.Max)
			return false
		}
		return true
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Errorf("limits property failed: %v", err)
	}
}

// TestAxisSmoother_Property2_UnitFactorReachesTarget verifies that a
// smoothing factor of 1 jumps straight to the clamped target.
func TestAxisSmoother_Property2_UnitFactorReachesTarget(t *testing.T) {
	s := AxisSmoother{PixelsPerDegree: 15, Factor: 1.0, Limits: testLimits()}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		errorPx := (rng.Float64() - 0.5) * 4000
		current := 30 + rng.Float64()*120

		want := s.Limits.Clamp(90 + errorPx/15)
		got := s.Advance(errorPx, current)
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("Advance(%v, %v) = %v, want clamped target %v", errorPx, current, got, want)
		}
	}
}

// TestAxisSmoother_Property3_ConvergesOnConstantError verifies that
// repeated steps against a constant error close in on the target
// without overshooting.
func TestAxisSmoother_Property3_ConvergesOnConstantError(t *testing.T) {
	s := AxisSmoother{PixelsPerDegree: 15, Factor: 0.3, Limits: testLimits()}

	const errorPx = 300.0
	target := s.Limits.Clamp(90 + errorPx/15) // 110

	current := 90.0
	prevDist := math.Abs(target - current)
	for i := 0; i < 200; i++ {
		current = s.Advance(errorPx, current)
		dist := math.Abs(target - current)
		if dist > prevDist+1e-12 {
			t.Fatalf("step %d overshot: distance grew from %v to %v", i, prevDist, dist)
		}
		prevDist = dist
	}

	if prevDist > 0.001 {
		t.Errorf("after 200 steps still %v degrees from target", prevDist)
	}
}

// TestLimits_Clamp
func TestLimits_Clamp(t *testing.T) {
	l := testLimits()

	tests := []struct {
		in   float64
		want float64
	}{
		{20, 30},
		{30, 30},
		{90, 90},
		{150, 150},
		{151, 150},
	}

	for _, tt := range tests {
		if got := l.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
