package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete radard configuration
type Config struct {
	DeviceID         string `yaml:"device_id"`
	StationID        string `yaml:"station_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`

	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Servo    ServoConfig    `yaml:"servo"`
	Tracking TrackingConfig `yaml:"tracking"`
	History  HistoryConfig  `yaml:"history"`
	API      APIConfig      `yaml:"api"`
	Cloud    CloudConfig    `yaml:"cloud"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// CameraConfig selects and shapes the frame source. When both device
// and rtsp_url are empty the daemon runs on the mock stream.
type CameraConfig struct {
	Device  string `yaml:"device"`
	RTSPURL string `yaml:"rtsp_url"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	FPS     int    `yaml:"fps"`
	WarmupS int    `yaml:"warmup_s"`
}

// DetectorConfig configures the person detector subprocess
type DetectorConfig struct {
	Script     string  `yaml:"script"`
	Model      string  `yaml:"model"`
	Confidence float64 `yaml:"confidence"`
	ClassID    int     `yaml:"class_id"`
	ClassName  string  `yaml:"class_name"`
}

// ServoConfig configures the PCA9685 gimbal driver and travel limits
type ServoConfig struct {
	I2CBus            int     `yaml:"i2c_bus"`
	Address           int     `yaml:"address"`
	ChannelYaw        int     `yaml:"channel_yaw"`
	ChannelPitch      int     `yaml:"channel_pitch"`
	FrequencyHz       int     `yaml:"frequency_hz"`
	MinPulseUS        int     `yaml:"min_pulse_us"`
	MaxPulseUS        int     `yaml:"max_pulse_us"`
	NeutralDeg        float64 `yaml:"neutral_deg"`
	MinDeg            float64 `yaml:"min_deg"`
	MaxDeg            float64 `yaml:"max_deg"`
	AngleThresholdDeg float64 `yaml:"angle_threshold_deg"`
	Mock              bool    `yaml:"mock"`
}

// AxisConfig tunes one tracking axis. Enabled is only honored for the
// pitch axis; yaw cannot be disabled.
type AxisConfig struct {
	PixelsPerDegree float64 `yaml:"pixels_per_degree"`
	SmoothingFactor float64 `yaml:"smoothing_factor"`
	Enabled         *bool   `yaml:"enabled,omitempty"`
}

// TrackingConfig tunes the tracking control law
type TrackingConfig struct {
	Yaw               AxisConfig `yaml:"yaw"`
	Pitch             AxisConfig `yaml:"pitch"`
	CommandIntervalMS int        `yaml:"command_interval_ms"`
	ReturnSpeedDegS   float64    `yaml:"return_speed_deg_s"`
}

// HistoryConfig configures the on-disk journal and snapshot cadence
type HistoryConfig struct {
	Dir                 string  `yaml:"dir"`
	TrackSnapshotEveryS float64 `yaml:"track_snapshot_every_s"`
	ScanSnapshotEveryS  float64 `yaml:"scan_snapshot_every_s"`
}

// APIConfig configures the HTTP control API used by the browser panel
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// CloudConfig configures detection uploads to the ingestion endpoint
type CloudConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PingURL   string  `yaml:"ping_url"`
	UploadURL string  `yaml:"upload_url"`
	DebounceS float64 `yaml:"debounce_s"`
	TimeoutS  float64 `yaml:"timeout_s"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker          string          `yaml:"broker"`
	ClientID        string          `yaml:"client_id"`
	Topics          MQTTTopics      `yaml:"topics"`
	QoS             map[string]byte `yaml:"qos"`
	HealthIntervalS int             `yaml:"health_interval_s"`
}

// MQTTTopics contains the topic roots used by the daemon
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Health  string `yaml:"health"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
