/*
═══════════════════════════════════════════════════════════════════════════
 PERSON DETECTOR WORKER (Python subprocess)
═══════════════════════════════════════════════════════════════════════════

 Frames out, detections back, msgpack over pipes:

   Go                                     Python (YOLO)
   ──                                     ─────────────
   stdin  <── [4-byte BE length][msgpack]
              frame_data, width, height,
              meta{device_id, seq, timestamp, trace_id}

   stdout ──> [4-byte BE length][msgpack]
              data{detections[{x1,y1,x2,y2,confidence,class_id}],
                   person_count, frame_seq, frame_width, frame_height}
              timing{total_ms, inference_ms}

 The worker never blocks the capture path: the input queue drops frames
 when full, and results are dropped when the consumer lags. Detections
 are filtered Go-side to the configured class and confidence before they
 reach the tracking loop.
═══════════════════════════════════════════════════════════════════════════
*/

package worker

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Youri-program/radarzuyd/internal/types"
)

const (
	inputQueueSize  = 5
	resultQueueSize = 10
	writeTimeout    = 2 * time.Second
	maxResultBytes  = 16 << 20
)

// Config configures the detector subprocess
type Config struct {
	WorkerID   string
	DeviceID   string
	Script     string
	Model      string
	Confidence float64
	ClassID    int
}

// Result is one detection pass over a single frame, already filtered to
// the target class at or above the confidence threshold.
type Result struct {
	FrameSeq    uint64
	TraceID     string
	FrameWidth  int
	FrameHeight int
	Detections  []types.Detection
	PersonCount int
	TotalMS     float64
	InferenceMS float64
	At          time.Time
}

// PersonDetector runs the YOLO person model in a Python subprocess and
// exchanges frames and detections over length-prefixed msgpack pipes.
type PersonDetector struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	chanMu  sync.RWMutex
	input   chan types.Frame
	results chan Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	isActive atomic.Bool

	framesProcessed uint64
	framesDropped   uint64
	resultsEmitted  uint64
	latencySumMS    uint64
	lastSeenNano    atomic.Int64
}

// NewPersonDetector validates the config. The subprocess is not spawned
// until Start.
func NewPersonDetector(cfg Config) (*PersonDetector, error) {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "person-detector"
	}
	if cfg.Script == "" {
		return nil, fmt.Errorf("detector script is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("detector model is required")
	}
	if cfg.Confidence <= 0 || cfg.Confidence > 1 {
		cfg.Confidence = 0.5
	}

	return &PersonDetector{cfg: cfg}, nil
}

// ID implements types.DetectionWorker
func (w *PersonDetector) ID() string {
	return w.cfg.WorkerID
}

// Results returns the detection channel. It is closed by Stop; after a
// restart the channel is a fresh one, so consumers should re-acquire it.
func (w *PersonDetector) Results() <-chan Result {
	w.chanMu.RLock()
	defer w.chanMu.RUnlock()
	return w.results
}

// Start spawns the subprocess and the pipe pumps
func (w *PersonDetector) Start(ctx context.Context) error {
	if w.isActive.Load() {
		return fmt.Errorf("worker %s already running", w.cfg.WorkerID)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.chanMu.Lock()
	w.input = make(chan types.Frame, inputQueueSize)
	w.results = make(chan Result, resultQueueSize)
	w.chanMu.Unlock()

	if err := w.spawnProcess(); err != nil {
		return fmt.Errorf("failed to spawn detector: %w", err)
	}

	w.isActive.Store(true)
	w.lastSeenNano.Store(time.Now().UnixNano())

	w.wg.Add(3)
	go w.processFrames()
	go w.readResults()
	go w.logStderr()
	go w.waitProcess()

	slog.Info("person detector started",
		"worker_id", w.cfg.WorkerID,
		"script", w.cfg.Script,
		"model", w.cfg.Model,
		"confidence", w.cfg.Confidence,
	)
	return nil
}

func (w *PersonDetector) spawnProcess() error {
	cmd := exec.CommandContext(w.ctx, w.cfg.Script,
		"--model", w.cfg.Model,
		"--confidence", fmt.Sprintf("%.2f", w.cfg.Confidence),
		"--class-id", fmt.Sprintf("%d", w.cfg.ClassID),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", w.cfg.Script, err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = stdout
	w.stderr = stderr

	slog.Debug("detector subprocess running", "pid", cmd.Process.Pid)
	return nil
}

// SendFrame implements types.DetectionWorker. Never blocks: a full input
// queue drops the frame.
func (w *PersonDetector) SendFrame(frame types.Frame) error {
	if !w.isActive.Load() {
		return fmt.Errorf("worker %s not active", w.cfg.WorkerID)
	}

	w.chanMu.RLock()
	input := w.input
	w.chanMu.RUnlock()

	select {
	case input <- frame:
		return nil
	default:
		atomic.AddUint64(&w.framesDropped, 1)
		return fmt.Errorf("worker %s input queue full", w.cfg.WorkerID)
	}
}

// processFrames pumps frames from the input queue into the subprocess
func (w *PersonDetector) processFrames() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case frame := <-w.input:
			if err := w.sendFrame(frame); err != nil {
				if w.ctx.Err() != nil {
					return
				}
				slog.Error("failed to send frame to detector",
					"worker_id", w.cfg.WorkerID,
					"seq", frame.Seq,
					"error", err,
				)
				continue
			}
			atomic.AddUint64(&w.framesProcessed, 1)
		}
	}
}

// sendFrame writes one length-prefixed msgpack frame to the subprocess.
// A stuck pipe fails the write after a bounded wait instead of hanging
// the pump.
func (w *PersonDetector) sendFrame(frame types.Frame) error {
	payload, err := msgpack.Marshal(frameEnvelope{
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Meta: frameMeta{
			DeviceID:  w.cfg.DeviceID,
			Seq:       frame.Seq,
			Timestamp: frame.Timestamp.UTC().Format(time.RFC3339Nano),
			TraceID:   frame.TraceID,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))

	errCh := make(chan error, 1)
	go func() {
		if _, err := w.stdin.Write(prefix); err != nil {
			errCh <- err
			return
		}
		_, err := w.stdin.Write(payload)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(writeTimeout):
		return fmt.Errorf("write timed out after %v", writeTimeout)
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// readResults pumps length-prefixed msgpack results out of the subprocess
func (w *PersonDetector) readResults() {
	defer w.wg.Done()

	lengthBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(w.stdout, lengthBuf); err != nil {
			if w.ctx.Err() == nil && err != io.EOF {
				slog.Error("failed to read result length",
					"worker_id", w.cfg.WorkerID, "error", err)
			}
			return
		}

		length := binary.BigEndian.Uint32(lengthBuf)
		if length == 0 || length > maxResultBytes {
			slog.Error("detector result length out of range",
				"worker_id", w.cfg.WorkerID, "length", length)
			return
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(w.stdout, body); err != nil {
			if w.ctx.Err() == nil {
				slog.Error("failed to read result body",
					"worker_id", w.cfg.WorkerID, "error", err)
			}
			return
		}

		res, err := decodeResult(body, w.cfg.ClassID, w.cfg.Confidence)
		if err != nil {
			slog.Error("failed to decode detector result",
				"worker_id", w.cfg.WorkerID, "error", err)
			continue
		}
		res.At = time.Now()

		w.lastSeenNano.Store(time.Now().UnixNano())
		atomic.AddUint64(&w.latencySumMS, uint64(res.TotalMS))

		w.chanMu.RLock()
		results := w.results
		w.chanMu.RUnlock()

		select {
		case results <- *res:
			atomic.AddUint64(&w.resultsEmitted, 1)
		default:
			// Consumer behind; this result is stale the moment the
			// next one lands, so drop it.
			slog.Debug("result queue full, dropping",
				"worker_id", w.cfg.WorkerID, "seq", res.FrameSeq)
		}
	}
}

// logStderr forwards subprocess log lines at a level guessed from their
// content.
func (w *PersonDetector) logStderr() {
	defer w.wg.Done()

	scanner := bufio.NewScanner(w.stderr)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "traceback"):
			slog.Error("detector: " + line)
		case strings.Contains(lower, "warn"):
			slog.Warn("detector: " + line)
		default:
			slog.Debug("detector: " + line)
		}
	}
}

// waitProcess reaps the subprocess and marks the worker dead if it
// exits on its own.
func (w *PersonDetector) waitProcess() {
	err := w.cmd.Wait()
	if w.ctx.Err() != nil {
		return
	}
	w.isActive.Store(false)
	if err != nil {
		slog.Error("detector subprocess exited",
			"worker_id", w.cfg.WorkerID, "error", err)
		return
	}
	slog.Warn("detector subprocess exited cleanly before stop",
		"worker_id", w.cfg.WorkerID)
}

// Stop implements types.DetectionWorker. Closes stdin to let the
// subprocess exit on EOF, kills it if it lingers, and closes the result
// channel so consumers see the end.
func (w *PersonDetector) Stop() error {
	if !w.isActive.Swap(false) {
		return nil
	}

	w.cancel()
	if w.stdin != nil {
		w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		slog.Warn("detector slow to stop, killing", "worker_id", w.cfg.WorkerID)
		if w.cmd != nil && w.cmd.Process != nil {
			w.cmd.Process.Kill()
		}
		<-done
	}

	w.chanMu.RLock()
	results := w.results
	w.chanMu.RUnlock()
	safeClose(results)

	slog.Info("person detector stopped",
		"worker_id", w.cfg.WorkerID,
		"frames_processed", atomic.LoadUint64(&w.framesProcessed),
		"results_emitted", atomic.LoadUint64(&w.resultsEmitted),
	)
	return nil
}

// Metrics implements types.DetectionWorker
func (w *PersonDetector) Metrics() types.WorkerMetrics {
	processed := atomic.LoadUint64(&w.framesProcessed)
	avgLatency := 0.0
	if emitted := atomic.LoadUint64(&w.resultsEmitted); emitted > 0 {
		avgLatency = float64(atomic.LoadUint64(&w.latencySumMS)) / float64(emitted)
	}

	return types.WorkerMetrics{
		FramesProcessed: processed,
		FramesDropped:   atomic.LoadUint64(&w.framesDropped),
		ResultsEmitted:  atomic.LoadUint64(&w.resultsEmitted),
		AvgLatencyMS:    avgLatency,
		LastSeenAt:      time.Unix(0, w.lastSeenNano.Load()),
	}
}

// safeClose closes a result channel, tolerating a racing close
func safeClose(ch chan Result) {
	defer func() {
		_ = recover()
	}()
	if ch != nil {
		close(ch)
	}
}
