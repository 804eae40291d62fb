package uploader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	c, err := New(Config{
		DeviceID:  "jetson-test-01",
		PingURL:   srvURL + "/ping",
		UploadURL: srvURL + "/upload",
		DebounceS: 3.0,
		TimeoutS:  2.0,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_UploadDetectionPayload(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02, 0x03}
	captured := make(chan map[string]interface{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("upload used method %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("upload body is not JSON: %v", err)
		}
		captured <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := c.UploadDetection(context.Background(), jpegData, "person", now); err != nil {
		t.Fatalf("UploadDetection: %v", err)
	}

	payload := <-captured
	if payload["jetson_id"] != "jetson-test-01" {
		t.Errorf("jetson_id = %v, want jetson-test-01", payload["jetson_id"])
	}
	if payload["object_name"] != "person" {
		t.Errorf("object_name = %v, want person", payload["object_name"])
	}
	if payload["timestamp"] != "2025-06-01T12:00:00Z" {
		t.Errorf("timestamp = %v, want 2025-06-01T12:00:00Z", payload["timestamp"])
	}
	decoded, err := base64.StdEncoding.DecodeString(payload["image_base64"].(string))
	if err != nil {
		t.Fatalf("image_base64 does not decode: %v", err)
	}
	if string(decoded) != string(jpegData) {
		t.Errorf("image round trip = %x, want %x", decoded, jpegData)
	}

	if got := c.Stats()["uploads"]; got != 1 {
		t.Errorf("uploads counter = %d, want 1", got)
	}
}

// Property: a class sighted continuously uploads once; it must leave
// the frame for longer than the debounce window before the next
// sighting uploads again.
func TestClient_ShouldUploadDebounce(t *testing.T) {
	c := testClient(t, "http://unused.invalid")
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if !c.ShouldUpload("person", t0) {
		t.Error("first sighting should upload")
	}
	if c.ShouldUpload("person", t0.Add(1*time.Second)) {
		t.Error("sighting 1s later should be debounced")
	}
	if c.ShouldUpload("person", t0.Add(2*time.Second)) {
		t.Error("continuous sighting should stay debounced")
	}
	// Last sighting at t0+2s; 4s of absence exceeds the 3s window.
	if !c.ShouldUpload("person", t0.Add(6*time.Second)) {
		t.Error("sighting after absence should upload")
	}

	// Classes debounce independently.
	if !c.ShouldUpload("car", t0.Add(6*time.Second)) {
		t.Error("first sighting of another class should upload")
	}
}

func TestClient_UploadSkippedWhenCloudDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := testClient(t, srv.URL)
	err := c.UploadDetection(context.Background(), []byte{0xFF, 0xD8}, "person", time.Now())
	if err != nil {
		t.Fatalf("unreachable cloud should skip, not fail: %v", err)
	}
	if got := c.Stats()["skipped"]; got != 1 {
		t.Errorf("skipped counter = %d, want 1", got)
	}
	if got := c.Stats()["uploads"]; got != 0 {
		t.Errorf("uploads counter = %d, want 0", got)
	}
}

func TestClient_UploadErrorStatus(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.UploadDetection(context.Background(), []byte{0xFF, 0xD8}, "person", time.Now())
	if err == nil {
		t.Fatal("upload with 500 response should fail")
	}
	if posts.Load() != 1 {
		t.Errorf("POST count = %d, want 1", posts.Load())
	}
	if got := c.Stats()["errors"]; got != 1 {
		t.Errorf("errors counter = %d, want 1", got)
	}
}

func TestNew_RequiresURLs(t *testing.T) {
	if _, err := New(Config{UploadURL: "http://x/upload"}); err == nil {
		t.Error("missing ping URL accepted")
	}
	if _, err := New(Config{PingURL: "http://x/ping"}); err == nil {
		t.Error("missing upload URL accepted")
	}
}
