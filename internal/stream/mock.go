package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// MockStream generates synthetic BGR frames at a fixed rate for
// development machines without a camera. Frames carry a moving vertical
// bar so snapshots and the pipeline are visibly alive.
type MockStream struct {
	width  int
	height int
	fps    int

	frames chan types.Frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	startedAt time.Time

	frameCount uint64
}

// NewMockStream creates a mock frame generator
func NewMockStream(width, height, fps int) *MockStream {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	if fps <= 0 {
		fps = 30
	}
	return &MockStream{
		width:  width,
		height: height,
		fps:    fps,
	}
}

// Start begins frame generation
func (s *MockStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("mock stream already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.frames = make(chan types.Frame, 10)
	s.isRunning = true
	s.startedAt = time.Now()

	s.wg.Add(1)
	go s.generateFrames(s.ctx)

	slog.Info("mock stream started",
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"fps", s.fps,
	)
	return nil
}

// Frames returns the frame channel
func (s *MockStream) Frames() <-chan types.Frame {
	return s.frames
}

func (s *MockStream) generateFrames(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	interval := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := s.createFrame()
			select {
			case s.frames <- frame:
			default:
				// Consumer is behind; drop.
			}
		}
	}
}

// createFrame builds one synthetic BGR24 frame
func (s *MockStream) createFrame() types.Frame {
	seq := atomic.AddUint64(&s.frameCount, 1)

	data := make([]byte, s.width*s.height*3)
	barX := int(seq) % s.width
	for y := 0; y < s.height; y++ {
		rowStart := y * s.width * 3
		for x := barX; x < barX+20 && x < s.width; x++ {
			i := rowStart + x*3
			data[i+1] = 255 // green bar on black, BGR order
		}
	}

	return types.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        s.width,
		Height:       s.height,
		Data:         data,
		SourceStream: "mock",
		TraceID:      uuid.NewString(),
	}
}

// Stop halts frame generation
func (s *MockStream) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	slog.Info("mock stream stopped", "frames", atomic.LoadUint64(&s.frameCount))
	return nil
}

// Stats returns a snapshot of stream health
func (s *MockStream) Stats() types.StreamStats {
	s.mu.Lock()
	running := s.isRunning
	started := s.startedAt
	s.mu.Unlock()

	frames := atomic.LoadUint64(&s.frameCount)
	fpsReal := 0.0
	if running && !started.IsZero() {
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			fpsReal = float64(frames) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:   frames,
		FPSTarget:    s.fps,
		FPSReal:      fpsReal,
		SourceStream: "mock",
		Resolution:   fmt.Sprintf("%dx%d", s.width, s.height),
		IsConnected:  running,
	}
}
