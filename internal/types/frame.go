package types

import "time"

// Frame represents a single video frame
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame data (BGR24 format)
	Data []byte
	// SourceStream identifies the stream (camera, rtsp, mock)
	SourceStream string
	// TraceID is a unique identifier for tracing a frame through the pipeline
	TraceID string
}

// StreamStats contains stream health statistics
type StreamStats struct {
	FrameCount   uint64
	FPSTarget    int
	FPSReal      float64
	SourceStream string
	Resolution   string
	Reconnects   uint32
	BytesRead    uint64
	IsConnected  bool
	Errors       uint64
}
