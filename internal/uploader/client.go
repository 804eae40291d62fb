// Package uploader pushes detection snapshots to the cloud endpoint.
// Uploads are best effort: the pipeline never blocks on the network,
// and an unreachable endpoint is skipped, not retried.
package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const pingTimeout = 500 * time.Millisecond

// Config configures the upload client
type Config struct {
	DeviceID  string
	PingURL   string
	UploadURL string
	DebounceS float64
	TimeoutS  float64
}

// Client uploads detection snapshots, debounced per object class so a
// person standing in frame produces one upload, not thirty per second.
type Client struct {
	deviceID  string
	pingURL   string
	uploadURL string
	debounce  time.Duration
	httpc     *http.Client

	mu       sync.Mutex
	lastSeen map[string]time.Time

	uploads uint64
	errors  uint64
	skipped uint64
}

// New validates the config and builds a client
func New(cfg Config) (*Client, error) {
	if cfg.PingURL == "" || cfg.UploadURL == "" {
		return nil, fmt.Errorf("uploader requires ping and upload URLs")
	}
	if cfg.DebounceS <= 0 {
		cfg.DebounceS = 3.0
	}
	if cfg.TimeoutS <= 0 {
		cfg.TimeoutS = 5.0
	}

	return &Client{
		deviceID:  cfg.DeviceID,
		pingURL:   cfg.PingURL,
		uploadURL: cfg.UploadURL,
		debounce:  time.Duration(cfg.DebounceS * float64(time.Second)),
		httpc:     &http.Client{Timeout: time.Duration(cfg.TimeoutS * float64(time.Second))},
		lastSeen:  make(map[string]time.Time),
	}, nil
}

// ShouldUpload reports whether a sighting of class at now is a fresh
// appearance. Every call records the sighting; an upload fires when the
// class was never seen before or dropped out of frame for longer than
// the debounce window.
func (c *Client) ShouldUpload(class string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, seen := c.lastSeen[class]
	c.lastSeen[class] = now
	if !seen {
		return true
	}
	return now.Sub(last) > c.debounce
}

// Ping probes the cloud endpoint with a short deadline. A response of
// any kind below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.pingURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// UploadDetection sends one JPEG snapshot. The endpoint is pinged
// first; an unreachable cloud skips the upload silently rather than
// stalling on the full timeout.
func (c *Client) UploadDetection(ctx context.Context, jpegData []byte, objectName string, now time.Time) error {
	if !c.Ping(ctx) {
		atomic.AddUint64(&c.skipped, 1)
		slog.Debug("cloud unreachable, skipping upload", "object", objectName)
		return nil
	}

	payload := map[string]interface{}{
		"jetson_id":    c.deviceID,
		"object_name":  objectName,
		"image_base64": base64.StdEncoding.EncodeToString(jpegData),
		"timestamp":    now.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal upload payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		atomic.AddUint64(&c.errors, 1)
		return fmt.Errorf("upload %s: %w", objectName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		atomic.AddUint64(&c.errors, 1)
		return fmt.Errorf("upload %s: status %d", objectName, resp.StatusCode)
	}

	atomic.AddUint64(&c.uploads, 1)
	slog.Info("detection uploaded", "object", objectName, "bytes", len(jpegData))
	return nil
}

// Stats returns upload counters
func (c *Client) Stats() map[string]uint64 {
	return map[string]uint64{
		"uploads": atomic.LoadUint64(&c.uploads),
		"errors":  atomic.LoadUint64(&c.errors),
		"skipped": atomic.LoadUint64(&c.skipped),
	}
}
