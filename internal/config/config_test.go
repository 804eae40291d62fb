package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "radar.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
device_id: jetson-nano-01
detector:
  model: models/yolov8n.onnx
mqtt:
  broker: tcp://localhost:1883
`

// TestLoad_MinimalConfigFillsDefaults verifies that a config carrying
// only the required fields is usable after validation.
func TestLoad_MinimalConfigFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"camera width", cfg.Camera.Width, 1280},
		{"camera height", cfg.Camera.Height, 720},
		{"camera fps", cfg.Camera.FPS, 30},
		{"warmup seconds", cfg.Camera.WarmupS, 5},
		{"detector confidence", cfg.Detector.Confidence, 0.5},
		{"detector class name", cfg.Detector.ClassName, "person"},
		{"i2c bus", cfg.Servo.I2CBus, 7},
		{"pca address", cfg.Servo.Address, 0x40},
		{"yaw channel", cfg.Servo.ChannelYaw, 0},
		{"pitch channel", cfg.Servo.ChannelPitch, 1},
		{"pwm frequency", cfg.Servo.FrequencyHz, 50},
		{"min pulse", cfg.Servo.MinPulseUS, 500},
		{"max pulse", cfg.Servo.MaxPulseUS, 2500},
		{"neutral angle", cfg.Servo.NeutralDeg, 90.0},
		{"min angle", cfg.Servo.MinDeg, 30.0},
		{"max angle", cfg.Servo.MaxDeg, 150.0},
		{"angle threshold", cfg.Servo.AngleThresholdDeg, 0.1},
		{"yaw pixels per degree", cfg.Tracking.Yaw.PixelsPerDegree, 15.0},
		{"yaw smoothing", cfg.Tracking.Yaw.SmoothingFactor, 0.3},
		{"pitch pixels per degree", cfg.Tracking.Pitch.PixelsPerDegree, 30.0},
		{"pitch smoothing", cfg.Tracking.Pitch.SmoothingFactor, 0.1},
		{"command interval", cfg.Tracking.CommandIntervalMS, 33},
		{"return speed", cfg.Tracking.ReturnSpeedDegS, 30.0},
		{"history dir", cfg.History.Dir, "./history"},
		{"track snapshot interval", cfg.History.TrackSnapshotEveryS, 1.0},
		{"scan snapshot interval", cfg.History.ScanSnapshotEveryS, 8.0},
		{"api listen", cfg.API.Listen, ":8080"},
		{"cloud debounce", cfg.Cloud.DebounceS, 3.0},
		{"cloud timeout", cfg.Cloud.TimeoutS, 5.0},
		{"mqtt client id", cfg.MQTT.ClientID, "radar-jetson-nano-01"},
		{"control topic", cfg.MQTT.Topics.Control, "radar/control/jetson-nano-01"},
		{"events topic", cfg.MQTT.Topics.Events, "radar/events/jetson-nano-01"},
		{"health topic", cfg.MQTT.Topics.Health, "radar/health/jetson-nano-01"},
		{"health interval", cfg.MQTT.HealthIntervalS, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if cfg.Tracking.Pitch.Enabled == nil || !*cfg.Tracking.Pitch.Enabled {
		t.Errorf("pitch should default to enabled")
	}
	if cfg.Cloud.Enabled {
		t.Errorf("cloud uploads should default to disabled")
	}
}

// TestLoad_RejectsInvalidConfigs verifies that broken configs fail
// validation with a useful message instead of half-working.
func TestLoad_RejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing device id",
			body:    "detector:\n  model: m.onnx\nmqtt:\n  broker: tcp://localhost:1883\n",
			wantErr: "device_id",
		},
		{
			name:    "bad device id characters",
			body:    "device_id: Jetson_01\ndetector:\n  model: m.onnx\nmqtt:\n  broker: tcp://localhost:1883\n",
			wantErr: "pattern",
		},
		{
			name:    "missing detector model",
			body:    "device_id: jetson-01\nmqtt:\n  broker: tcp://localhost:1883\n",
			wantErr: "detector.model",
		},
		{
			name:    "missing broker",
			body:    "device_id: jetson-01\ndetector:\n  model: m.onnx\n",
			wantErr: "mqtt.broker",
		},
		{
			name:    "cloud enabled without urls",
			body:    "device_id: jetson-01\ndetector:\n  model: m.onnx\nmqtt:\n  broker: tcp://localhost:1883\ncloud:\n  enabled: true\n",
			wantErr: "cloud",
		},
		{
			name:    "same servo channel twice",
			body:    "device_id: jetson-01\ndetector:\n  model: m.onnx\nmqtt:\n  broker: tcp://localhost:1883\nservo:\n  channel_yaw: 3\n  channel_pitch: 3\n",
			wantErr: "must differ",
		},
		{
			name:    "inverted servo limits",
			body:    "device_id: jetson-01\ndetector:\n  model: m.onnx\nmqtt:\n  broker: tcp://localhost:1883\nservo:\n  min_deg: 100\n  max_deg: 120\n",
			wantErr: "min_deg < neutral_deg < max_deg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoad_ExplicitValuesSurvive verifies that validation does not
// overwrite values the operator set.
func TestLoad_ExplicitValuesSurvive(t *testing.T) {
	body := `
device_id: roof-cam-2
station_id: north
detector:
  model: models/yolov8s.onnx
  confidence: 0.7
camera:
  device: /dev/video0
  width: 1920
  height: 1080
  fps: 25
servo:
  i2c_bus: 1
  neutral_deg: 95
  min_deg: 40
  max_deg: 140
tracking:
  pitch:
    enabled: false
  command_interval_ms: 50
mqtt:
  broker: tcp://broker.local:1883
  client_id: custom-client
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Device != "/dev/video0" {
		t.Errorf("camera device = %q, want /dev/video0", cfg.Camera.Device)
	}
	if cfg.Camera.FPS != 25 {
		t.Errorf("fps = %d, want 25", cfg.Camera.FPS)
	}
	if cfg.Servo.I2CBus != 1 {
		t.Errorf("i2c bus = %d, want 1", cfg.Servo.I2CBus)
	}
	if cfg.Servo.NeutralDeg != 95 {
		t.Errorf("neutral = %v, want 95", cfg.Servo.NeutralDeg)
	}
	if cfg.Tracking.Pitch.Enabled == nil || *cfg.Tracking.Pitch.Enabled {
		t.Errorf("pitch enabled should stay false when set explicitly")
	}
	if cfg.Tracking.CommandIntervalMS != 50 {
		t.Errorf("command interval = %d, want 50", cfg.Tracking.CommandIntervalMS)
	}
	if cfg.MQTT.ClientID != "custom-client" {
		t.Errorf("client id = %q, want custom-client", cfg.MQTT.ClientID)
	}
}
