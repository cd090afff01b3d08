package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration, loaded from YAML.
type Config struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`

	Camera     CameraConfig     `yaml:"camera"`
	Capture    CaptureConfig    `yaml:"capture"`
	Stats      StatsConfig      `yaml:"stats"`
	Classifier ClassifierConfig `yaml:"classifier"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Video      VideoConfig      `yaml:"video"`
	Upload     UploadConfig     `yaml:"upload"`
}

// CameraConfig selects the live capture device and its resolution.
type CameraConfig struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// CaptureConfig drives the sampling loop.
type CaptureConfig struct {
	PeriodMS          int     `yaml:"period_ms"`
	JPEGQuality       float64 `yaml:"jpeg_quality"`
	DispatchTimeoutMS int     `yaml:"dispatch_timeout_ms"`

	// MaxConsecutiveFailures is the escalation threshold for dispatch
	// failures. 0 disables escalation: misses are absorbed forever.
	MaxConsecutiveFailures int  `yaml:"max_consecutive_failures"`
	StopOnFailures         bool `yaml:"stop_on_failures"`
}

// Period returns the sampling period as a duration.
func (c CaptureConfig) Period() time.Duration {
	return time.Duration(c.PeriodMS) * time.Millisecond
}

// DispatchTimeout returns the per-dispatch deadline as a duration.
func (c CaptureConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMS) * time.Millisecond
}

// StatsConfig tunes the emotion aggregator.
type StatsConfig struct {
	Decay float64 `yaml:"decay"`
}

// ClassifierConfig selects and configures the classifier boundary.
type ClassifierConfig struct {
	Kind   string                 `yaml:"kind"` // http | python | mock
	HTTP   HTTPClassifierConfig   `yaml:"http"`
	Python PythonClassifierConfig `yaml:"python"`
}

// HTTPClassifierConfig points at an EmotiScan analysis backend.
type HTTPClassifierConfig struct {
	BaseURL  string `yaml:"base_url"`
	Endpoint string `yaml:"endpoint"`
}

// PythonClassifierConfig points at a local subprocess worker script.
type PythonClassifierConfig struct {
	Script    string `yaml:"script"`
	PythonBin string `yaml:"python_bin"`
}

// MQTTConfig configures the summary emitter and the control plane.
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled"`
	Broker  string          `yaml:"broker"`
	Topics  TopicsConfig    `yaml:"topics"`
	QoS     map[string]byte `yaml:"qos"`
}

// TopicsConfig names the MQTT topics. Empty entries are derived from the
// instance id during validation.
type TopicsConfig struct {
	Control    string `yaml:"control"`
	Detections string `yaml:"detections"`
	Summary    string `yaml:"summary"`
	Health     string `yaml:"health"`
}

// MonitorConfig configures the embedded HTTP monitor (MJPEG, SSE,
// snapshot, health, metrics).
type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

// VideoConfig tunes offline video analysis.
type VideoConfig struct {
	SampleEveryMS int    `yaml:"sample_every_ms"`
	Workdir       string `yaml:"workdir"`
	FFmpegBin     string `yaml:"ffmpeg_bin"`
	YTDLPBin      string `yaml:"ytdlp_bin"`
}

// SampleEvery returns the video sampling interval as a duration.
func (c VideoConfig) SampleEvery() time.Duration {
	return time.Duration(c.SampleEveryMS) * time.Millisecond
}

// UploadConfig configures the optional GCS result upload. An empty bucket
// disables uploads.
type UploadConfig struct {
	Bucket      string `yaml:"bucket"`
	URLTTLHours int    `yaml:"url_ttl_hours"`
}

// URLTTL returns the signed URL lifetime as a duration.
func (c UploadConfig) URLTTL() time.Duration {
	return time.Duration(c.URLTTLHours) * time.Hour
}

// ParseLevel maps a log level name to a slog level. The empty string
// means info.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SlogLevel returns the configured log level. The value is checked
// during validation, so parsing cannot fail here.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

// Load reads, parses and validates a configuration file. Validation fills
// derived defaults in place, so the returned Config is ready to use.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
