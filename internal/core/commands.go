package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Youri-program/radarzuyd/internal/history"
)

// markThreat arms tracking and journals the event. Shared by the HTTP
// API and the MQTT control plane; both return the same shape.
func (r *Radar) markThreat() map[string]interface{} {
	now := time.Now()
	res := r.tracker.MarkThreat(now)

	if res.Started {
		ev := history.NewMissionEvent("mark_threat", res.MissionID, now)
		if err := r.journal.Append(ev); err != nil {
			slog.Error("failed to journal mark_threat", "error", err)
		}
		r.publishEvent(ev)
	}

	return map[string]interface{}{
		"ok":          true,
		"tracking_on": res.TrackingOn,
		"mission_id":  res.MissionID,
	}
}

// stopTracking ends the mission, journals the event, and reports the
// held position. A stop with nothing tracking stays a quiet no-op.
func (r *Radar) stopTracking() map[string]interface{} {
	now := time.Now()
	res := r.tracker.StopTracking()

	if res.WasTracking {
		ev := history.NewMissionEvent("stop_tracking", res.MissionID, now)
		if err := r.journal.Append(ev); err != nil {
			slog.Error("failed to journal stop_tracking", "error", err)
		}
		r.publishEvent(ev)
	}

	var servoPosition interface{}
	if res.Position.Initialized {
		servoPosition = map[string]interface{}{
			"yaw":   res.Position.Yaw,
			"pitch": res.Position.Pitch,
		}
	}

	return map[string]interface{}{
		"ok":             true,
		"tracking_on":    false,
		"mission_id":     nil,
		"servo_position": servoPosition,
	}
}

// getStatus assembles the full service status for the control plane.
// The HTTP /status endpoint serves only the tracker subset.
func (r *Radar) getStatus() map[string]interface{} {
	r.mu.RLock()
	running := r.isRunning
	started := r.started
	up := r.uploader
	r.mu.RUnlock()

	status := map[string]interface{}{
		"device_id":  r.cfg.DeviceID,
		"station_id": r.cfg.StationID,
		"running":    running,
		"uptime_s":   time.Since(started).Seconds(),
		"tracking":   r.tracker.Status(),
		"servo_mode": r.servos.Mode(),
	}

	if r.stream != nil {
		s := r.stream.Stats()
		status["stream"] = map[string]interface{}{
			"connected":  s.IsConnected,
			"fps_real":   s.FPSReal,
			"frames":     s.FrameCount,
			"reconnects": s.Reconnects,
		}
	}

	distributed, dropped := r.frameBus.Stats()
	status["bus"] = map[string]interface{}{
		"distributed": distributed,
		"dropped":     dropped,
	}

	workers := make(map[string]interface{})
	for _, w := range r.frameBus.Workers() {
		workers[w.ID()] = w.Metrics()
	}
	status["workers"] = workers

	status["journal_rows"] = r.journal.Rows()
	status["mqtt"] = r.emitter.Stats()
	if up != nil {
		status["uploads"] = up.Stats()
	}

	return status
}

// updateConfig applies live-tunable settings from the control plane.
// Unknown keys are rejected so typos fail loudly.
func (r *Radar) updateConfig(updates map[string]interface{}) error {
	if len(updates) == 0 {
		return fmt.Errorf("no config values provided")
	}

	for key, raw := range updates {
		switch key {
		case "smooth_factor":
			v, ok := raw.(float64)
			if !ok {
				return fmt.Errorf("smooth_factor must be a number")
			}
			_, pitch := r.tracker.SmoothFactors()
			if err := r.tracker.SetSmoothingFactors(v, pitch); err != nil {
				return err
			}

		case "pitch_smooth_factor":
			v, ok := raw.(float64)
			if !ok {
				return fmt.Errorf("pitch_smooth_factor must be a number")
			}
			yaw, _ := r.tracker.SmoothFactors()
			if err := r.tracker.SetSmoothingFactors(yaw, v); err != nil {
				return err
			}

		case "pitch_enabled":
			v, ok := raw.(bool)
			if !ok {
				return fmt.Errorf("pitch_enabled must be a boolean")
			}
			r.tracker.SetPitchEnabled(v)

		case "return_speed_deg_s":
			v, ok := raw.(float64)
			if !ok {
				return fmt.Errorf("return_speed_deg_s must be a number")
			}
			if err := r.tracker.SetReturnSpeed(v); err != nil {
				return err
			}

		case "command_interval_ms":
			v, ok := raw.(float64)
			if !ok {
				return fmt.Errorf("command_interval_ms must be a number")
			}
			if err := r.tracker.SetCommandInterval(time.Duration(v) * time.Millisecond); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown config key: %s", key)
		}

		slog.Info("config updated", "key", key, "value", raw)
	}

	return nil
}

// shutdownViaControl cancels the run context, unwinding Run the same
// way a signal would.
func (r *Radar) shutdownViaControl() error {
	r.mu.RLock()
	cancel := r.cancelCtx
	r.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service not running")
	}
	cancel()
	return nil
}

// publishEvent mirrors a journal row to MQTT. Best effort: the journal
// is the source of truth and a broker outage never blocks it.
func (r *Radar) publishEvent(ev history.Event) {
	if r.emitter == nil || !r.emitter.Connected() {
		return
	}
	if err := r.emitter.Publish(ev); err != nil {
		slog.Debug("event not published", "kind", ev.Kind(), "error", err)
	}
}
