package stream

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/Youri-program/radarzuyd/internal/types"
)

var warmupBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// generateFrameTimes produces count timestamps at the given fps with
// uniform jitter of +-jitterFrac of the nominal interval.
func generateFrameTimes(count int, fps float64, jitterFrac float64, seed int64) []time.Time {
	rng := rand.New(rand.NewSource(seed))
	interval := time.Duration(float64(time.Second) / fps)

	times := make([]time.Time, count)
	t := warmupBase
	for i := range times {
		times[i] = t
		jitter := time.Duration((rng.Float64()*2 - 1) * jitterFrac * float64(interval))
		t = t.Add(interval + jitter)
	}
	return times
}

// TestCalculateFPSStats_Property1_StabilityThreshold verifies the
// stability verdict on both sides of the 15% relative deviation line.
//
// Property: near-constant intervals are stable, wildly alternating
// intervals are not.
func TestCalculateFPSStats_Property1_StabilityThreshold(t *testing.T) {
	tests := []struct {
		name       string
		frameTimes []time.Time
		wantStable bool
	}{
		{
			name:       "steady 30fps",
			frameTimes: generateFrameTimes(150, 30, 0.01, 42),
			wantStable: true,
		},
		{
			name:       "steady 15fps with small jitter",
			frameTimes: generateFrameTimes(75, 15, 0.05, 42),
			wantStable: true,
		},
		{
			name: "alternating slow and fast intervals",
			frameTimes: func() []time.Time {
				times := make([]time.Time, 100)
				t := warmupBase
				for i := range times {
					times[i] = t
					if i%2 == 0 {
						t = t.Add(15 * time.Millisecond)
					} else {
						t = t.Add(80 * time.Millisecond)
					}
				}
				return times
			}(),
			wantStable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := CalculateFPSStats(tt.frameTimes, 5*time.Second)
			if stats.IsStable != tt.wantStable {
				t.Errorf("IsStable = %v (mean %.2f, stddev %.2f), want %v",
					stats.IsStable, stats.FPSMean, stats.FPSStdDev, tt.wantStable)
			}
		})
	}
}

// TestCalculateFPSStats_Property2_EdgeCases verifies degenerate inputs
// return zeroed stats instead of dividing by zero.
func TestCalculateFPSStats_Property2_EdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		frameTimes []time.Time
	}{
		{"no frames", nil},
		{"single frame", []time.Time{warmupBase}},
		{"identical timestamps", []time.Time{warmupBase, warmupBase, warmupBase}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := CalculateFPSStats(tt.frameTimes, time.Second)
			if stats.FPSMean != 0 || stats.IsStable {
				t.Errorf("degenerate input produced mean %v stable %v",
					stats.FPSMean, stats.IsStable)
			}
			if stats.FramesReceived != len(tt.frameTimes) {
				t.Errorf("FramesReceived = %d, want %d",
					stats.FramesReceived, len(tt.frameTimes))
			}
		})
	}
}

// TestCalculateFPSStats_Property3_BoundsOrdering verifies the invariant
// min <= mean <= max for any frame timing.
func TestCalculateFPSStats_Property3_BoundsOrdering(t *testing.T) {
	f := func(seed int64, fpsRaw, jitterRaw uint8) bool {
		fps := 5 + float64(fpsRaw%56)          // 5..60
		jitter := float64(jitterRaw%40) / 100  // 0..0.39
		times := generateFrameTimes(60, fps, jitter, seed)

		stats := CalculateFPSStats(times, 2*time.Second)
		if stats.FPSMean == 0 {
			return true
		}
		if stats.FPSMin > stats.FPSMean+1e-9 || stats.FPSMean > stats.FPSMax+1e-9 {
			t.Logf("FAIL: seed %d fps %.0f: min %.2f mean %.2f max %.2f",
				seed, fps, stats.FPSMin, stats.FPSMean, stats.FPSMax)
			return false
		}
		return true
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 100}); err != nil {
		t.Errorf("bounds ordering property failed: %v", err)
	}
}

// TestCalculateFPSStats_MeanTracksRate verifies the measured mean lands
// near the generating rate.
func TestCalculateFPSStats_MeanTracksRate(t *testing.T) {
	for _, fps := range []float64{10, 24, 30, 60} {
		times := generateFrameTimes(200, fps, 0.02, 7)
		stats := CalculateFPSStats(times, 5*time.Second)
		if math.Abs(stats.FPSMean-fps)/fps > 0.05 {
			t.Errorf("fps %v: measured mean %.2f deviates more than 5%%", fps, stats.FPSMean)
		}
	}
}

// TestWarmup_CollectsFramesUntilDeadline drives Warmup from a synthetic
// channel and checks it measures what was sent.
func TestWarmup_CollectsFramesUntilDeadline(t *testing.T) {
	frames := make(chan types.Frame, 64)
	for i, ts := range generateFrameTimes(40, 30, 0.01, 42) {
		frames <- types.Frame{Seq: uint64(i + 1), Timestamp: ts}
	}

	stats, err := Warmup(context.Background(), frames, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Warmup failed: %v", err)
	}
	if stats.FramesReceived != 40 {
		t.Errorf("FramesReceived = %d, want 40", stats.FramesReceived)
	}
	if math.Abs(stats.FPSMean-30) > 3 {
		t.Errorf("FPSMean = %.2f, want about 30", stats.FPSMean)
	}
	if !stats.IsStable {
		t.Errorf("steady synthetic stream reported unstable")
	}
}

// TestWarmup_FailsWithoutFrames verifies that a silent stream is an
// error, not a zeroed result.
func TestWarmup_FailsWithoutFrames(t *testing.T) {
	frames := make(chan types.Frame)
	if _, err := Warmup(context.Background(), frames, 20*time.Millisecond); err == nil {
		t.Errorf("Warmup with no frames should fail")
	}
}

// TestWarmup_FailsOnClosedStream
func TestWarmup_FailsOnClosedStream(t *testing.T) {
	frames := make(chan types.Frame)
	close(frames)
	if _, err := Warmup(context.Background(), frames, time.Second); err == nil {
		t.Errorf("Warmup on a closed stream should fail")
	}
}

// TestWarmup_HonorsContextCancel
func TestWarmup_HonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frames := make(chan types.Frame)
	if _, err := Warmup(ctx, frames, time.Second); err == nil {
		t.Errorf("Warmup should surface context cancellation")
	}
}
