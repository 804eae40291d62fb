package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/Youri-program/radarzuyd/internal/history"
	"github.com/Youri-program/radarzuyd/internal/tracking"
	"github.com/Youri-program/radarzuyd/internal/types"
	"github.com/Youri-program/radarzuyd/internal/uploader"
	"github.com/Youri-program/radarzuyd/internal/worker"
)

// consumeFrames pulls frames off the stream and distributes them to the
// detector workers. The most recent frame is kept for snapshots.
func (r *Radar) consumeFrames(ctx context.Context) {
	defer r.wg.Done()

	slog.Info("frame consumer started")

	frameCount := uint64(0)
	lastLog := time.Now()
	logInterval := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			slog.Info("frame consumer stopping", "total_frames", frameCount)
			return

		case frame, ok := <-r.stream.Frames():
			if !ok {
				slog.Info("stream channel closed", "total_frames", frameCount)
				return
			}

			frameCount++
			r.lastFrame.Store(frame)

			if err := r.frameBus.Distribute(ctx, frame); err != nil {
				slog.Error("failed to distribute frame", "error", err)
			}

			if time.Since(lastLog) >= logInterval {
				streamStats := r.stream.Stats()
				distributed, dropped := r.frameBus.Stats()

				slog.Debug("pipeline stats",
					"frames_consumed", frameCount,
					"stream_fps_real", float64(int(streamStats.FPSReal*100))/100,
					"bus_distributed", distributed,
					"bus_dropped", dropped,
					"last_seq", frame.Seq,
				)
				lastLog = time.Now()
			}
		}
	}
}

// consumeDetections drives the tracker from detector results. A closed
// result channel means the worker stopped or is being restarted by the
// watchdog; re-acquire it after a beat instead of dying with it.
func (r *Radar) consumeDetections(ctx context.Context) {
	defer r.wg.Done()

	slog.Info("detection consumer started")

	results := r.detector.Results()
	for {
		select {
		case <-ctx.Done():
			slog.Info("detection consumer stopping")
			return

		case res, ok := <-results:
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(500 * time.Millisecond):
				}
				results = r.detector.Results()
				continue
			}
			r.handleResult(res)
		}
	}
}

// handleResult runs one detection result through the control law and the
// side channels (journal snapshot, cloud upload).
func (r *Radar) handleResult(res worker.Result) {
	w, h := res.FrameWidth, res.FrameHeight
	if w <= 0 || h <= 0 {
		w, h = r.cfg.Camera.Width, r.cfg.Camera.Height
	}
	now := res.At
	if now.IsZero() {
		now = time.Now()
	}

	r.tracker.HandleFrame(res.Detections, w, h, now)

	r.maybeSnapshot(res, now)
	r.maybeUpload(res, now)
}

// maybeSnapshot writes a journal snapshot row when the cadence allows.
// Frames with no detections are never journaled.
func (r *Radar) maybeSnapshot(res worker.Result, now time.Time) {
	if len(res.Detections) == 0 {
		return
	}

	snap := r.mission.Snapshot()
	interval := time.Duration(r.cfg.History.ScanSnapshotEveryS * float64(time.Second))
	if snap.TrackingOn {
		interval = time.Duration(r.cfg.History.TrackSnapshotEveryS * float64(time.Second))
	}

	r.snapMu.Lock()
	if now.Sub(r.lastSnapshot) < interval {
		r.snapMu.Unlock()
		return
	}
	r.lastSnapshot = now
	r.snapMu.Unlock()

	frame, ok := r.lastFrame.Load().(types.Frame)
	if !ok {
		return
	}

	// One encode in flight at a time; the cadence makes skipped
	// snapshots cheap to lose.
	select {
	case r.snapshotSem <- struct{}{}:
	default:
		return
	}

	go r.writeSnapshot(frame, snap, res, now)
}

func (r *Radar) writeSnapshot(frame types.Frame, snap tracking.Snapshot, res worker.Result, now time.Time) {
	defer func() { <-r.snapshotSem }()

	filename := history.SnapshotFilename(snap.MissionID, now)
	path, err := r.journal.SaveSnapshot(frame, filename)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err, "filename", filename)
		return
	}

	info := history.SnapshotInfo{
		Mode:         "scanning",
		MissionID:    snap.MissionID,
		SmoothFactor: r.tracker.SmoothFactor(),
		Detections:   res.Detections,
		Path:         path,
	}
	if snap.TrackingOn {
		info.Mode = "tracking"
	}
	if snap.Position.Initialized {
		yaw, pitch := snap.Position.Yaw, snap.Position.Pitch
		info.ServoYaw = &yaw
		info.ServoPitch = &pitch
	}

	ev := history.NewSnapshotEvent(info, now)
	if err := r.journal.Append(ev); err != nil {
		slog.Error("failed to journal snapshot", "error", err)
		return
	}
	r.publishEvent(ev)

	slog.Debug("snapshot journaled",
		"mode", info.Mode,
		"detections", len(res.Detections),
		"path", path)
}

// maybeUpload pushes a detection snapshot to the cloud when the class
// reappears after the debounce window.
func (r *Radar) maybeUpload(res worker.Result, now time.Time) {
	r.mu.RLock()
	up := r.uploader
	ctx := r.runCtx
	r.mu.RUnlock()

	if up == nil || len(res.Detections) == 0 {
		return
	}

	class := r.cfg.Detector.ClassName
	if !up.ShouldUpload(class, now) {
		return
	}

	frame, ok := r.lastFrame.Load().(types.Frame)
	if !ok {
		return
	}

	go func(up *uploader.Client, frame types.Frame) {
		jpegData, err := history.EncodeFrameJPEG(frame)
		if err != nil {
			slog.Error("failed to encode upload frame", "error", err)
			return
		}
		if err := up.UploadDetection(ctx, jpegData, class, now); err != nil {
			slog.Warn("detection upload failed", "error", err)
		}
	}(up, frame)
}
