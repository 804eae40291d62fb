// Package framebus fans captured frames out to detection workers.
// Delivery is best effort: a worker with a full queue loses the frame,
// and sustained loss is surfaced through the stats logger.
package framebus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// dropRateAlarm is the delivery failure ratio that triggers a warning
const dropRateAlarm = 0.80

// Bus distributes frames to registered workers
type Bus struct {
	mu      sync.RWMutex
	workers []types.DetectionWorker
	running bool

	distributed uint64
	dropped     uint64
}

// New creates an empty bus
func New() *Bus {
	return &Bus{}
}

// Register adds a worker to the distribution list
func (b *Bus) Register(w types.DetectionWorker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers = append(b.workers, w)
	slog.Info("worker registered on frame bus", "worker_id", w.ID(), "total", len(b.workers))
}

// Unregister removes a worker by id
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.workers {
		if w.ID() == id {
			b.workers[i] = b.workers[len(b.workers)-1]
			b.workers = b.workers[:len(b.workers)-1]
			slog.Info("worker unregistered from frame bus", "worker_id", id)
			return
		}
	}
}

// Start starts all registered workers
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("frame bus already running")
	}

	for _, w := range b.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker %s: %w", w.ID(), err)
		}
	}
	b.running = true

	slog.Info("frame bus started", "workers", len(b.workers))
	return nil
}

// Stop stops all registered workers
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	var firstErr error
	for _, w := range b.workers {
		if err := w.Stop(); err != nil {
			slog.Error("failed to stop worker", "worker_id", w.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	b.running = false

	slog.Info("frame bus stopped",
		"distributed", atomic.LoadUint64(&b.distributed),
		"dropped", atomic.LoadUint64(&b.dropped),
	)
	return firstErr
}

// Distribute offers a frame to every registered worker. Workers that
// cannot take it right now miss this frame.
func (b *Bus) Distribute(ctx context.Context, frame types.Frame) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.mu.RLock()
	workers := make([]types.DetectionWorker, len(b.workers))
	copy(workers, b.workers)
	b.mu.RUnlock()

	for _, w := range workers {
		if err := w.SendFrame(frame); err != nil {
			atomic.AddUint64(&b.dropped, 1)
			continue
		}
		atomic.AddUint64(&b.distributed, 1)
	}
	return nil
}

// Stats returns cumulative delivery counters
func (b *Bus) Stats() (distributed, dropped uint64) {
	return atomic.LoadUint64(&b.distributed), atomic.LoadUint64(&b.dropped)
}

// Workers returns a snapshot of the registered workers
func (b *Bus) Workers() []types.DetectionWorker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.DetectionWorker, len(b.workers))
	copy(out, b.workers)
	return out
}

// StartStatsLogger periodically logs delivery counters until the context
// ends, warning when most offers in a window were dropped.
func (b *Bus) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDistributed, lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			distributed := atomic.LoadUint64(&b.distributed)
			dropped := atomic.LoadUint64(&b.dropped)

			deltaDist := distributed - lastDistributed
			deltaDrop := dropped - lastDropped
			lastDistributed = distributed
			lastDropped = dropped

			total := deltaDist + deltaDrop
			if total == 0 {
				continue
			}

			dropRate := float64(deltaDrop) / float64(total)
			if dropRate > dropRateAlarm {
				slog.Warn("frame bus dropping most frames",
					"drop_rate", fmt.Sprintf("%.2f", dropRate),
					"distributed", deltaDist,
					"dropped", deltaDrop,
				)
				continue
			}

			slog.Debug("frame bus stats",
				"distributed", deltaDist,
				"dropped", deltaDrop,
			)
		}
	}
}
