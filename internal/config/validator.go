package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Defaults applied by Validate. The loop parameters mirror the reference
// frontend: 500 ms sampling, JPEG quality 0.7, 10 s dispatch timeout,
// decay 0.97.
const (
	DefaultPeriodMS          = 500
	DefaultJPEGQuality       = 0.7
	DefaultDispatchTimeoutMS = 10000
	DefaultDecay             = 0.97
	DefaultSampleEveryMS     = 2000
)

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug|info|warn|error, got %q", cfg.LogLevel)
	}

	// Camera
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}

	// Capture loop
	if cfg.Capture.PeriodMS == 0 {
		cfg.Capture.PeriodMS = DefaultPeriodMS
	}
	if cfg.Capture.PeriodMS < 0 {
		return fmt.Errorf("capture.period_ms must be > 0")
	}
	if cfg.Capture.JPEGQuality == 0 {
		cfg.Capture.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Capture.JPEGQuality < 0 || cfg.Capture.JPEGQuality > 1 {
		return fmt.Errorf("capture.jpeg_quality must be in (0,1], got %g", cfg.Capture.JPEGQuality)
	}
	if cfg.Capture.DispatchTimeoutMS == 0 {
		cfg.Capture.DispatchTimeoutMS = DefaultDispatchTimeoutMS
	}
	if cfg.Capture.DispatchTimeoutMS < 0 {
		return fmt.Errorf("capture.dispatch_timeout_ms must be > 0")
	}
	if cfg.Capture.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("capture.max_consecutive_failures must be >= 0")
	}

	// Aggregation
	if cfg.Stats.Decay == 0 {
		cfg.Stats.Decay = DefaultDecay
	}
	if cfg.Stats.Decay < 0 || cfg.Stats.Decay > 1 {
		return fmt.Errorf("stats.decay must be in (0,1], got %g", cfg.Stats.Decay)
	}

	// Classifier boundary
	switch cfg.Classifier.Kind {
	case "":
		cfg.Classifier.Kind = "http"
	case "http", "python", "mock":
	default:
		return fmt.Errorf("classifier.kind must be http|python|mock, got %q", cfg.Classifier.Kind)
	}
	if cfg.Classifier.Kind == "http" {
		if cfg.Classifier.HTTP.BaseURL == "" {
			return fmt.Errorf("classifier.http.base_url is required for kind http")
		}
		if cfg.Classifier.HTTP.Endpoint == "" {
			cfg.Classifier.HTTP.Endpoint = "/api/v1/analyze"
		}
	}
	if cfg.Classifier.Kind == "python" {
		if cfg.Classifier.Python.Script == "" {
			return fmt.Errorf("classifier.python.script is required for kind python")
		}
		if cfg.Classifier.Python.PythonBin == "" {
			cfg.Classifier.Python.PythonBin = "python3"
		}
	}

	// MQTT
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("emotiscan/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Detections == "" {
		cfg.MQTT.Topics.Detections = fmt.Sprintf("emotiscan/detections/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Summary == "" {
		cfg.MQTT.Topics.Summary = fmt.Sprintf("emotiscan/summary/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("emotiscan/health/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":    1,
			"detections": 0,
			"summary":    0,
			"health":     0,
		}
	}

	// Monitor
	if cfg.Monitor.Addr == "" {
		cfg.Monitor.Addr = ":8081"
	}

	// Offline video analysis
	if cfg.Video.SampleEveryMS == 0 {
		cfg.Video.SampleEveryMS = DefaultSampleEveryMS
	}
	if cfg.Video.SampleEveryMS < 0 {
		return fmt.Errorf("video.sample_every_ms must be > 0")
	}
	if cfg.Video.Workdir == "" {
		cfg.Video.Workdir = "/tmp/emotiscan"
	}
	if cfg.Video.FFmpegBin == "" {
		cfg.Video.FFmpegBin = "ffmpeg"
	}
	if cfg.Video.YTDLPBin == "" {
		cfg.Video.YTDLPBin = "yt-dlp"
	}

	// Upload
	if cfg.Upload.URLTTLHours == 0 {
		cfg.Upload.URLTTLHours = 24
	}
	if cfg.Upload.URLTTLHours < 0 {
		return fmt.Errorf("upload.url_ttl_hours must be > 0")
	}

	return nil
}
