// Package stream provides video frame sources: a GStreamer capture
// pipeline for local cameras and RTSP feeds, and a mock generator for
// development machines without either.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// CaptureConfig describes the capture pipeline. Exactly one of Device
// and RTSPURL must be set.
type CaptureConfig struct {
	Device       string
	RTSPURL      string
	Width        int
	Height       int
	FPS          int
	BufferFrames int
}

// CaptureStream pulls frames from a camera or RTSP feed through a
// GStreamer pipeline, converts them to BGR24 at the configured geometry
// and fans them out on a buffered channel. Sessions that die are retried
// with exponential backoff.
type CaptureStream struct {
	cfg    CaptureConfig
	source string

	frames chan types.Frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	startedAt time.Time

	frameCount uint64
	bytesRead  uint64
	errorCount uint64
	reconnects uint32

	maxRetries int
}

// NewCaptureStream validates the config and initializes GStreamer
func NewCaptureStream(cfg CaptureConfig) (*CaptureStream, error) {
	if cfg.Device == "" && cfg.RTSPURL == "" {
		return nil, fmt.Errorf("capture stream needs a camera device or an rtsp url")
	}
	if cfg.Device != "" && cfg.RTSPURL != "" {
		return nil, fmt.Errorf("camera device and rtsp url are mutually exclusive")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid capture geometry %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = 10
	}

	source := "camera"
	if cfg.RTSPURL != "" {
		source = "rtsp"
	}

	gst.Init(nil)

	return &CaptureStream{
		cfg:        cfg,
		source:     source,
		maxRetries: 5,
	}, nil
}

// Start begins capturing in a background goroutine
func (s *CaptureStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("capture stream already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.frames = make(chan types.Frame, s.cfg.BufferFrames)
	s.isRunning = true
	s.startedAt = time.Now()

	s.wg.Add(1)
	go s.run(s.ctx)

	slog.Info("capture stream starting",
		"source", s.source,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
	)
	return nil
}

// Frames returns the frame channel. It is closed when the stream gives
// up after repeated session failures or is stopped.
func (s *CaptureStream) Frames() <-chan types.Frame {
	return s.frames
}

// run owns the session retry loop
func (s *CaptureStream) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		sessionStart := time.Now()
		err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("capture session failed", "source", s.source, "error", err)
		}

		// A session that held for a while earns a fresh backoff budget.
		if time.Since(sessionStart) > 30*time.Second {
			retries = 0
		}

		retries++
		if retries > s.maxRetries {
			slog.Error("capture stream giving up", "attempts", retries-1)
			return
		}

		backoff := time.Duration(1<<uint(retries-1)) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		atomic.AddUint32(&s.reconnects, 1)
		slog.Warn("capture stream reconnecting", "attempt", retries, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// connectAndStream builds the pipeline and blocks until the session ends
func (s *CaptureStream) connectAndStream(ctx context.Context) error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("failed to create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("failed to create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)
	rate.SetProperty("skip-to-first", true)

	capsFilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1",
		s.cfg.Width, s.cfg.Height, s.cfg.FPS,
	))
	capsFilter.SetProperty("caps", caps)

	appSink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	appSink.SetProperty("sync", false)
	appSink.SetProperty("max-buffers", 1)
	appSink.SetProperty("drop", true)

	if s.cfg.Device != "" {
		src, err := gst.NewElement("v4l2src")
		if err != nil {
			return fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", s.cfg.Device)

		if err := pipeline.AddMany(src, convert, scale, rate, capsFilter, appSink.Element); err != nil {
			return fmt.Errorf("failed to assemble pipeline: %w", err)
		}
		if err := src.Link(convert); err != nil {
			return fmt.Errorf("failed to link camera source: %w", err)
		}
	} else {
		src, err := gst.NewElement("rtspsrc")
		if err != nil {
			return fmt.Errorf("failed to create rtspsrc: %w", err)
		}
		src.SetProperty("location", s.cfg.RTSPURL)
		src.SetProperty("latency", 200)

		depay, err := gst.NewElement("rtph264depay")
		if err != nil {
			return fmt.Errorf("failed to create rtph264depay: %w", err)
		}
		decode, err := gst.NewElement("avdec_h264")
		if err != nil {
			return fmt.Errorf("failed to create avdec_h264: %w", err)
		}

		if err := pipeline.AddMany(src, depay, decode, convert, scale, rate, capsFilter, appSink.Element); err != nil {
			return fmt.Errorf("failed to assemble pipeline: %w", err)
		}
		if err := gst.ElementLinkMany(depay, decode, convert); err != nil {
			return fmt.Errorf("failed to link decode chain: %w", err)
		}

		// rtspsrc pads appear once the stream is negotiated.
		src.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
			sinkPad := depay.GetStaticPad("sink")
			if sinkPad == nil || sinkPad.IsLinked() {
				return
			}
			if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
				slog.Error("failed to link rtsp pad", "result", ret)
			}
		})
	}

	if err := gst.ElementLinkMany(convert, scale, rate, capsFilter, appSink.Element); err != nil {
		return fmt.Errorf("failed to link output chain: %w", err)
	}

	appSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	slog.Info("capture pipeline playing", "source", s.source)

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("stream ended")
		case gst.MessageError:
			atomic.AddUint64(&s.errorCount, 1)
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		}
	}
}

// onNewSample copies one decoded frame out of GStreamer memory and hands
// it to the consumer, dropping when the channel is full.
func (s *CaptureStream) onNewSample(sink *app.Sink) gst.FlowReturn {
	if s.ctx.Err() != nil {
		return gst.FlowEOS
	}

	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowError
	}
	defer buffer.Unmap()

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())

	seq := atomic.AddUint64(&s.frameCount, 1)
	atomic.AddUint64(&s.bytesRead, uint64(len(data)))

	frame := types.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        s.cfg.Width,
		Height:       s.cfg.Height,
		Data:         data,
		SourceStream: s.source,
		TraceID:      uuid.NewString(),
	}

	select {
	case s.frames <- frame:
	default:
		// Consumer is behind; freshest frame wins.
	}

	return gst.FlowOK
}

// Stop halts the capture session and waits briefly for the goroutine
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("capture stream stop timed out")
	}

	slog.Info("capture stream stopped",
		"frames", atomic.LoadUint64(&s.frameCount),
		"reconnects", atomic.LoadUint32(&s.reconnects),
	)
	return nil
}

// Stats returns a snapshot of stream health
func (s *CaptureStream) Stats() types.StreamStats {
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
		FPSTarget:    s.cfg.FPS,
		FPSReal:      fpsReal,
		SourceStream: s.source,
		Resolution:   fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		Reconnects:   atomic.LoadUint32(&s.reconnects),
		BytesRead:    atomic.LoadUint64(&s.bytesRead),
		IsConnected:  running,
		Errors:       atomic.LoadUint64(&s.errorCount),
	}
}
