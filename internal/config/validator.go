package config

import (
	"fmt"
	"regexp"
)

var deviceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults for omitted fields
func Validate(cfg *Config) error {
	if cfg.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id %q must match pattern [a-z0-9-]+", cfg.DeviceID)
	}
	if cfg.StationID == "" {
		cfg.StationID = "default"
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 10
	}

	if cfg.Camera.Width <= 0 {
		cfg.Camera.Width = 1280
	}
	if cfg.Camera.Height <= 0 {
		cfg.Camera.Height = 720
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.WarmupS <= 0 {
		cfg.Camera.WarmupS = 5
	}

	if err := validateDetector(&cfg.Detector); err != nil {
		return err
	}
	if err := validateServo(&cfg.Servo); err != nil {
		return err
	}
	if err := validateTracking(&cfg.Tracking); err != nil {
		return err
	}

	if cfg.History.Dir == "" {
		cfg.History.Dir = "./history"
	}
	if cfg.History.TrackSnapshotEveryS <= 0 {
		cfg.History.TrackSnapshotEveryS = 1.0
	}
	if cfg.History.ScanSnapshotEveryS <= 0 {
		cfg.History.ScanSnapshotEveryS = 8.0
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}

	if cfg.Cloud.Enabled && (cfg.Cloud.PingURL == "" || cfg.Cloud.UploadURL == "") {
		return fmt.Errorf("cloud.enabled requires cloud.ping_url and cloud.upload_url")
	}
	if cfg.Cloud.DebounceS <= 0 {
		cfg.Cloud.DebounceS = 3.0
	}
	if cfg.Cloud.TimeoutS <= 0 {
		cfg.Cloud.TimeoutS = 5.0
	}

	return validateMQTT(cfg)
}

func validateDetector(d *DetectorConfig) error {
	if d.Model == "" {
		return fmt.Errorf("detector.model is required")
	}
	if d.Script == "" {
		d.Script = "models/run_worker.sh"
	}
	if d.Confidence <= 0 || d.Confidence > 1 {
		d.Confidence = 0.5
	}
	if d.ClassName == "" {
		d.ClassName = "person"
	}
	// ClassID zero value is the person class, keep as-is.
	return nil
}

func validateServo(s *ServoConfig) error {
	if s.I2CBus < 0 {
		return fmt.Errorf("servo.i2c_bus must be >= 0")
	}
	if s.I2CBus == 0 {
		// The Jetson carrier board exposes the header bus as i2c-7.
		s.I2CBus = 7
	}
	if s.Address <= 0 {
		s.Address = 0x40
	}
	if s.ChannelYaw == 0 && s.ChannelPitch == 0 {
		s.ChannelPitch = 1
	}
	if s.ChannelYaw == s.ChannelPitch {
		return fmt.Errorf("servo.channel_yaw and servo.channel_pitch must differ")
	}
	if s.ChannelYaw < 0 || s.ChannelYaw > 15 || s.ChannelPitch < 0 || s.ChannelPitch > 15 {
		return fmt.Errorf("servo channels must be in range 0-15")
	}
	if s.FrequencyHz <= 0 {
		s.FrequencyHz = 50
	}
	if s.MinPulseUS <= 0 {
		s.MinPulseUS = 500
	}
	if s.MaxPulseUS <= 0 {
		s.MaxPulseUS = 2500
	}
	if s.MaxPulseUS <= s.MinPulseUS {
		return fmt.Errorf("servo.max_pulse_us must be greater than servo.min_pulse_us")
	}
	if s.NeutralDeg == 0 {
		s.NeutralDeg = 90
	}
	if s.MinDeg == 0 {
		s.MinDeg = 30
	}
	if s.MaxDeg == 0 {
		s.MaxDeg = 150
	}
	if s.MinDeg >= s.NeutralDeg || s.NeutralDeg >= s.MaxDeg {
		return fmt.Errorf("servo limits must satisfy min_deg < neutral_deg < max_deg")
	}
	if s.AngleThresholdDeg <= 0 {
		s.AngleThresholdDeg = 0.1
	}
	return nil
}

func validateTracking(t *TrackingConfig) error {
	if t.Yaw.PixelsPerDegree <= 0 {
		t.Yaw.PixelsPerDegree = 15.0
	}
	if t.Yaw.SmoothingFactor <= 0 || t.Yaw.SmoothingFactor > 1 {
		t.Yaw.SmoothingFactor = 0.3
	}
	if t.Pitch.PixelsPerDegree <= 0 {
		t.Pitch.PixelsPerDegree = 30.0
	}
	if t.Pitch.SmoothingFactor <= 0 || t.Pitch.SmoothingFactor > 1 {
		t.Pitch.SmoothingFactor = 0.1
	}
	if t.Pitch.Enabled == nil {
		enabled := true
		t.Pitch.Enabled = &enabled
	}
	if t.CommandIntervalMS <= 0 {
		t.CommandIntervalMS = 33
	}
	if t.ReturnSpeedDegS <= 0 {
		t.ReturnSpeedDegS = 30.0
	}
	return nil
}

func validateMQTT(cfg *Config) error {
	m := &cfg.MQTT
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if m.ClientID == "" {
		m.ClientID = fmt.Sprintf("radar-%s", cfg.DeviceID)
	}
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("radar/control/%s", cfg.DeviceID)
	}
	if m.Topics.Events == "" {
		m.Topics.Events = fmt.Sprintf("radar/events/%s", cfg.DeviceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("radar/health/%s", cfg.DeviceID)
	}
	if m.QoS == nil {
		m.QoS = map[string]byte{"control": 1, "events": 1, "health": 0}
	}
	if m.HealthIntervalS <= 0 {
		m.HealthIntervalS = 30
	}
	return nil
}
