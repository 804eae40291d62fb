package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Youri-program/radarzuyd/internal/config"
	"github.com/Youri-program/radarzuyd/internal/control"
	"github.com/Youri-program/radarzuyd/internal/emitter"
	"github.com/Youri-program/radarzuyd/internal/framebus"
	"github.com/Youri-program/radarzuyd/internal/history"
	"github.com/Youri-program/radarzuyd/internal/servo"
	"github.com/Youri-program/radarzuyd/internal/stream"
	"github.com/Youri-program/radarzuyd/internal/tracking"
	"github.com/Youri-program/radarzuyd/internal/uploader"
	"github.com/Youri-program/radarzuyd/internal/worker"
)

// Radar is the main service orchestrator: it owns the frame source, the
// detector worker, the gimbal tracker, the journal, and the control
// surfaces (HTTP API and MQTT control plane).
type Radar struct {
	cfg *config.Config

	stream         StreamProvider
	frameBus       *framebus.Bus
	detector       *worker.PersonDetector
	servos         *servo.Controller
	mission        *tracking.Mission
	tracker        *tracking.Controller
	journal        *history.Log
	emitter        *emitter.MQTTEmitter
	uploader       *uploader.Client
	controlHandler *control.Handler
	apiServer      *http.Server
	healthServer   *http.Server

	// lastFrame holds the most recent raw frame for snapshots and uploads
	lastFrame atomic.Value

	snapMu       sync.Mutex
	lastSnapshot time.Time
	snapshotSem  chan struct{}

	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context
	cancelCtx context.CancelFunc
}

// NewRadar loads the config and builds all components. The stream is
// selected and started in Run.
func NewRadar(configPath string) (*Radar, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"device_id", cfg.DeviceID,
		"station_id", cfg.StationID,
	)

	detector, err := worker.NewPersonDetector(worker.Config{
		WorkerID:   "person-detector",
		DeviceID:   cfg.DeviceID,
		Script:     cfg.Detector.Script,
		Model:      cfg.Detector.Model,
		Confidence: cfg.Detector.Confidence,
		ClassID:    cfg.Detector.ClassID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create person detector: %w", err)
	}

	journal, err := history.Open(cfg.History.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Falls back to the mock driver on any hardware failure, so this
	// never blocks startup.
	servos := servo.New(servo.Config{
		I2CBus:            cfg.Servo.I2CBus,
		Address:           cfg.Servo.Address,
		ChannelYaw:        cfg.Servo.ChannelYaw,
		ChannelPitch:      cfg.Servo.ChannelPitch,
		FrequencyHz:       cfg.Servo.FrequencyHz,
		MinPulseUS:        cfg.Servo.MinPulseUS,
		MaxPulseUS:        cfg.Servo.MaxPulseUS,
		AngleThresholdDeg: cfg.Servo.AngleThresholdDeg,
		Mock:              cfg.Servo.Mock,
	})

	limits := tracking.Limits{
		Neutral: cfg.Servo.NeutralDeg,
		Min:     cfg.Servo.MinDeg,
		Max:     cfg.Servo.MaxDeg,
	}
	mission := tracking.NewMission()
	tracker := tracking.NewController(tracking.Config{
		Yaw: tracking.AxisSmoother{
			PixelsPerDegree: cfg.Tracking.Yaw.PixelsPerDegree,
			Factor:          cfg.Tracking.Yaw.SmoothingFactor,
			Limits:          limits,
		},
		Pitch: tracking.AxisSmoother{
			PixelsPerDegree: cfg.Tracking.Pitch.PixelsPerDegree,
			Factor:          cfg.Tracking.Pitch.SmoothingFactor,
			Limits:          limits,
		},
		PitchEnabled: *cfg.Tracking.Pitch.Enabled,
		Throttle:     tracking.Throttle{Interval: time.Duration(cfg.Tracking.CommandIntervalMS) * time.Millisecond},
		ReturnSpeed:  cfg.Tracking.ReturnSpeedDegS,
		FramePeriod:  time.Second / time.Duration(cfg.Camera.FPS),
	}, servos, mission)

	r := &Radar{
		cfg:         cfg,
		frameBus:    framebus.New(),
		detector:    detector,
		servos:      servos,
		mission:     mission,
		tracker:     tracker,
		journal:     journal,
		emitter:     emitter.NewMQTTEmitter(cfg.MQTT),
		snapshotSem: make(chan struct{}, 1),
	}
	r.frameBus.Register(detector)

	if cfg.Cloud.Enabled {
		up, err := uploader.New(uploader.Config{
			DeviceID:  cfg.DeviceID,
			PingURL:   cfg.Cloud.PingURL,
			UploadURL: cfg.Cloud.UploadURL,
			DebounceS: cfg.Cloud.DebounceS,
			TimeoutS:  cfg.Cloud.TimeoutS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create uploader: %w", err)
		}
		r.uploader = up
		slog.Info("cloud uploads enabled", "upload_url", cfg.Cloud.UploadURL)
	}

	return r, nil
}

// DisableUploads turns cloud uploads off regardless of config. Used by
// the -no-upload flag.
func (r *Radar) DisableUploads() {
	r.mu.Lock()
	r.uploader = nil
	r.mu.Unlock()
	slog.Info("cloud uploads disabled")
}

// Run starts the service and blocks until the context is cancelled
func (r *Radar) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	r.isRunning = true
	r.started = time.Now()
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.runCtx = ctx
	r.cancelCtx = cancel
	r.mu.Unlock()

	slog.Info("radar service starting", "device_id", r.cfg.DeviceID)

	if err := r.initStream(); err != nil {
		return err
	}
	if err := r.stream.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	r.warmupStream(ctx)

	// Frames are flowing; the tracker may move servos from here on.
	r.mission.SetCameraReady(true)
	slog.Info("camera ready, gimbal motion enabled")

	if err := r.emitter.Connect(); err != nil {
		slog.Warn("mqtt unavailable, continuing without control plane",
			"error", err,
			"broker", r.cfg.MQTT.Broker)
	} else {
		r.controlHandler = control.NewHandler(r.cfg.MQTT, r.emitter.Client, control.CommandCallbacks{
			OnGetStatus:    r.getStatus,
			OnMarkThreat:   r.markThreat,
			OnStopTracking: r.stopTracking,
			OnUpdateConfig: r.updateConfig,
			OnShutdown:     r.shutdownViaControl,
		})
		if err := r.controlHandler.Start(ctx); err != nil {
			slog.Warn("control plane failed to start", "error", err)
			r.controlHandler = nil
		}
	}

	if err := r.frameBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	r.startAPIServer()

	r.wg.Add(1)
	go r.consumeFrames(ctx)

	r.wg.Add(1)
	go r.consumeDetections(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.frameBus.StartStatsLogger(ctx, 10*time.Second)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.watchWorkers(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.publishHealth(ctx)
	}()

	slog.Info("radar service running",
		"api", r.cfg.API.Listen,
		"servo_mode", r.servos.Mode(),
		"uploads", r.uploader != nil,
	)

	<-ctx.Done()

	slog.Info("radar service run loop exiting")
	return nil
}

// initStream picks the frame source from config
func (r *Radar) initStream() error {
	cam := r.cfg.Camera

	if cam.Device == "" && cam.RTSPURL == "" {
		r.stream = stream.NewMockStream(cam.Width, cam.Height, cam.FPS)
		slog.Info("using mock stream (no camera configured)",
			"resolution", fmt.Sprintf("%dx%d", cam.Width, cam.Height),
			"fps", cam.FPS)
		return nil
	}

	capture, err := stream.NewCaptureStream(stream.CaptureConfig{
		Device:  cam.Device,
		RTSPURL: cam.RTSPURL,
		Width:   cam.Width,
		Height:  cam.Height,
		FPS:     cam.FPS,
	})
	if err != nil {
		return fmt.Errorf("failed to create capture stream: %w", err)
	}
	r.stream = capture

	if cam.Device != "" {
		slog.Info("using v4l2 camera", "device", cam.Device)
	} else {
		slog.Info("using rtsp stream", "url", cam.RTSPURL)
	}
	return nil
}

// warmupStream measures the real frame cadence before tracking starts
// and retunes the return easing step when it deviates from the
// configured FPS.
func (r *Radar) warmupStream(ctx context.Context) {
	duration := time.Duration(r.cfg.Camera.WarmupS) * time.Second

	stats, err := stream.Warmup(ctx, r.stream.Frames(), duration)
	if err != nil {
		slog.Warn("stream warm-up failed, continuing with configured fps",
			"error", err)
		return
	}

	if !stats.IsStable {
		slog.Warn("stream fps unstable after warm-up",
			"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
			"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev))
	}

	target := float64(r.cfg.Camera.FPS)
	if stats.FPSMean > 0 && math.Abs(stats.FPSMean-target)/target > 0.2 {
		period := time.Duration(float64(time.Second) / stats.FPSMean)
		r.tracker.SetFramePeriod(period)
		slog.Info("frame period retuned from warm-up",
			"configured_fps", r.cfg.Camera.FPS,
			"measured_fps", fmt.Sprintf("%.2f", stats.FPSMean),
			"frame_period", period)
	}
}

// Shutdown stops all components in dependency order
func (r *Radar) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	slog.Info("shutting down radar service")

	// Close the control surfaces first so no new commands land while
	// the pipeline drains.
	if r.apiServer != nil {
		if err := r.apiServer.Shutdown(ctx); err != nil {
			slog.Error("failed to stop api server", "error", err)
		}
	}
	if r.healthServer != nil {
		if err := r.healthServer.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}
	if r.controlHandler != nil {
		if err := r.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// End an active mission so the journal records how it closed.
	if snap := r.mission.Snapshot(); snap.TrackingOn {
		r.stopTracking()
	}

	if err := r.frameBus.Stop(); err != nil {
		slog.Error("failed to stop framebus", "error", err)
	}
	if r.stream != nil {
		if err := r.stream.Stop(); err != nil {
			slog.Error("failed to stop stream", "error", err)
		}
	}

	slog.Info("waiting for goroutines to finish")
	r.wg.Wait()

	// Park the gimbal before releasing the bus.
	if err := r.tracker.ForceNeutral(); err != nil {
		slog.Error("failed to park gimbal", "error", err)
	}
	if err := r.servos.Close(); err != nil {
		slog.Error("failed to close servo controller", "error", err)
	}

	if err := r.journal.Close(); err != nil {
		slog.Error("failed to close journal", "error", err)
	}
	if err := r.emitter.Disconnect(); err != nil {
		slog.Error("failed to disconnect mqtt", "error", err)
	}

	r.mu.Lock()
	uptime := time.Since(r.started)
	r.isRunning = false
	r.mu.Unlock()

	slog.Info("radar service shutdown complete", "uptime", uptime)
	return nil
}

// watchWorkers restarts a detector that has gone silent. One restart
// attempt per trip; a worker that will not come back needs operator
// attention, not a restart loop.
func (r *Radar) watchWorkers(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const silenceTimeout = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range r.frameBus.Workers() {
				metrics := w.Metrics()
				if metrics.LastSeenAt.IsZero() || time.Since(metrics.LastSeenAt) <= silenceTimeout {
					continue
				}

				slog.Warn("worker appears hung, attempting restart",
					"worker_id", w.ID(),
					"last_seen_ago_s", int(time.Since(metrics.LastSeenAt).Seconds()),
					"frames_processed", metrics.FramesProcessed)

				if err := w.Stop(); err != nil {
					slog.Error("failed to stop hung worker",
						"worker_id", w.ID(), "error", err)
					continue
				}
				if err := w.Start(ctx); err != nil {
					slog.Error("failed to restart worker",
						"worker_id", w.ID(), "error", err)
					continue
				}

				slog.Info("worker restarted", "worker_id", w.ID())
			}
		}
	}
}

// publishHealth sends the health beacon to MQTT on the configured
// interval. Skipped silently while the broker is unreachable.
func (r *Radar) publishHealth(ctx context.Context) {
	interval := time.Duration(r.cfg.MQTT.HealthIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.emitter.Connected() {
				continue
			}
			payload, err := r.HealthCheck().ToJSON()
			if err != nil {
				slog.Error("failed to marshal health beacon", "error", err)
				continue
			}
			if err := r.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health beacon not published", "error", err)
			}
		}
	}
}

// ShutdownTimeout returns the configured graceful shutdown budget
func (r *Radar) ShutdownTimeout() time.Duration {
	if r.cfg.ShutdownTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.cfg.ShutdownTimeoutS) * time.Second
}
