package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// HealthStatus is the health snapshot served on /readiness and sent as
// the MQTT health beacon.
type HealthStatus struct {
	Status          string                         `json:"status"` // healthy, degraded, unhealthy
	DeviceID        string                         `json:"device_id"`
	UptimeSeconds   int64                          `json:"uptime_seconds"`
	TrackingOn      bool                           `json:"tracking_on"`
	CameraReady     bool                           `json:"camera_ready"`
	ServoMode       string                         `json:"servo_mode"`
	StreamConnected bool                           `json:"stream_connected"`
	MQTTConnected   bool                           `json:"mqtt_connected"`
	JournalRows     uint64                         `json:"journal_rows"`
	Workers         map[string]types.WorkerMetrics `json:"workers,omitempty"`
}

// ToJSON marshals the status for the health beacon
func (h HealthStatus) ToJSON() ([]byte, error) {
	return json.Marshal(h)
}

// HealthCheck assembles the current health state. Unhealthy means the
// run loop is down; degraded means running without stream or broker.
func (r *Radar) HealthCheck() HealthStatus {
	r.mu.RLock()
	running := r.isRunning
	started := r.started
	r.mu.RUnlock()

	snap := r.mission.Snapshot()

	status := HealthStatus{
		Status:        "healthy",
		DeviceID:      r.cfg.DeviceID,
		UptimeSeconds: int64(time.Since(started).Seconds()),
		TrackingOn:    snap.TrackingOn,
		CameraReady:   snap.CameraReady,
		ServoMode:     r.servos.Mode(),
		JournalRows:   r.journal.Rows(),
		Workers:       make(map[string]types.WorkerMetrics),
	}

	if r.stream != nil && running {
		status.StreamConnected = r.stream.Stats().IsConnected
	}
	status.MQTTConnected = r.emitter.Connected()

	if running {
		for _, w := range r.frameBus.Workers() {
			status.Workers[w.ID()] = w.Metrics()
		}
	}

	if !running {
		status.Status = "unhealthy"
	} else if !status.StreamConnected || !status.MQTTConnected {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler answers /health: 200 whenever the process is alive
func (r *Radar) LivenessHandler(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler answers /readiness: 503 until the pipeline is up and
// the camera delivers frames.
func (r *Radar) ReadinessHandler(w http.ResponseWriter, req *http.Request) {
	health := r.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" || !health.CameraReady {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, health)
}

// MetricsHandler answers /metrics with the full counter set: pipeline,
// workers, journal, emitter, and uploads. Same payload the MQTT
// get_status command returns.
func (r *Radar) MetricsHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.getStatus())
}

// StartHealthServer serves liveness, readiness and metrics on their own
// port so probes keep answering even when the control API is saturated.
func (r *Radar) StartHealthServer(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", r.LivenessHandler)
	mux.HandleFunc("/readiness", r.ReadinessHandler)
	mux.HandleFunc("/metrics", r.MetricsHandler)

	r.healthServer = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	return nil
}
