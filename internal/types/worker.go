package types

import (
	"context"
	"time"
)

// WorkerMetrics contains health metrics for a worker
type WorkerMetrics struct {
	FramesProcessed uint64    `json:"frames_processed"`
	FramesDropped   uint64    `json:"frames_dropped"`
	ResultsEmitted  uint64    `json:"results_emitted"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// DetectionWorker processes frames and produces detection results
type DetectionWorker interface {
	// ID returns the worker's unique identifier
	ID() string

	// Start begins processing frames
	Start(ctx context.Context) error

	// SendFrame sends a frame to the worker (non-blocking, drops when full)
	SendFrame(frame Frame) error

	// Stop halts the worker and releases its resources
	Stop() error

	// Metrics returns current worker health metrics
	Metrics() WorkerMetrics
}
