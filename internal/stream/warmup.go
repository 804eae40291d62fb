package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// fpsStabilityThreshold is the relative standard deviation above which
// the measured frame cadence is reported unstable.
const fpsStabilityThreshold = 0.15

// WarmupStats summarizes the frame cadence measured during warm-up
type WarmupStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	IsStable       bool
}

// Warmup consumes frames for the given duration and measures the real
// frame rate. The daemon runs it once before allowing any gimbal motion
// so the control law works with the cadence the stream actually delivers.
func Warmup(ctx context.Context, frames <-chan types.Frame, duration time.Duration) (*WarmupStats, error) {
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	var frameTimes []time.Time
	start := time.Now()

collect:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			break collect
		case f, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("stream closed during warm-up")
			}
			frameTimes = append(frameTimes, f.Timestamp)
		}
	}

	elapsed := time.Since(start)
	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("only %d frames arrived during %.1fs warm-up",
			len(frameTimes), elapsed.Seconds())
	}

	stats := CalculateFPSStats(frameTimes, elapsed)
	slog.Info("stream warm-up complete",
		"frames", stats.FramesReceived,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"stable", stats.IsStable,
	)
	return stats, nil
}

// CalculateFPSStats computes frame rate statistics from frame timestamps.
// Instantaneous FPS is taken per consecutive pair; the cadence counts as
// stable when the standard deviation stays under 15% of the mean.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	stats := &WarmupStats{
		FramesReceived: len(frameTimes),
		Duration:       totalDuration,
	}
	if len(frameTimes) < 2 {
		return stats
	}

	fpsValues := make([]float64, 0, len(frameTimes)-1)
	for i := 1; i < len(frameTimes); i++ {
		dt := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if dt > 0 {
			fpsValues = append(fpsValues, 1.0/dt)
		}
	}
	if len(fpsValues) == 0 {
		return stats
	}

	sum := 0.0
	stats.FPSMin = fpsValues[0]
	stats.FPSMax = fpsValues[0]
	for _, fps := range fpsValues {
		sum += fps
		if fps < stats.FPSMin {
			stats.FPSMin = fps
		}
		if fps > stats.FPSMax {
			stats.FPSMax = fps
		}
	}
	stats.FPSMean = sum / float64(len(fpsValues))

	variance := 0.0
	for _, fps := range fpsValues {
		d := fps - stats.FPSMean
		variance += d * d
	}
	variance /= float64(len(fpsValues))
	stats.FPSStdDev = math.Sqrt(variance)

	if stats.FPSMean > 0 {
		stats.IsStable = stats.FPSStdDev/stats.FPSMean < fpsStabilityThreshold
	}

	return stats
}
