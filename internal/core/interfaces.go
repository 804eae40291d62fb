package core

import (
	"context"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// StreamProvider abstracts the frame source so the daemon runs the same
// against a V4L2 camera, an RTSP feed, or the mock generator.
type StreamProvider interface {
	Start(ctx context.Context) error
	Frames() <-chan types.Frame
	Stop() error
	Stats() types.StreamStats
}
