package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/config"
)

func minimal() *config.Config {
	return &config.Config{
		InstanceID: "emotiscan-01",
		Classifier: config.ClassifierConfig{
			Kind: "http",
			HTTP: config.HTTPClassifierConfig{BaseURL: "http://localhost:8000"},
		},
	}
}

// TestValidateFillsDefaults validates that a minimal config comes out of
// validation with the documented loop defaults in place.
func TestValidateFillsDefaults(t *testing.T) {
	cfg := minimal()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Capture.PeriodMS != 500 {
		t.Errorf("period_ms default = %d, want 500", cfg.Capture.PeriodMS)
	}
	if cfg.Capture.JPEGQuality != 0.7 {
		t.Errorf("jpeg_quality default = %g, want 0.7", cfg.Capture.JPEGQuality)
	}
	if cfg.Capture.DispatchTimeoutMS != 10000 {
		t.Errorf("dispatch_timeout_ms default = %d, want 10000", cfg.Capture.DispatchTimeoutMS)
	}
	if cfg.Stats.Decay != 0.97 {
		t.Errorf("decay default = %g, want 0.97", cfg.Stats.Decay)
	}
	if cfg.Camera.Device != "/dev/video0" || cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("camera defaults = %+v", cfg.Camera)
	}
	if cfg.Classifier.HTTP.Endpoint != "/api/v1/analyze" {
		t.Errorf("endpoint default = %q", cfg.Classifier.HTTP.Endpoint)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default = %q, want info", cfg.LogLevel)
	}
	if cfg.Video.SampleEveryMS != 2000 {
		t.Errorf("sample_every_ms default = %d, want 2000", cfg.Video.SampleEveryMS)
	}
	if cfg.Upload.URLTTLHours != 24 {
		t.Errorf("url_ttl_hours default = %d, want 24", cfg.Upload.URLTTLHours)
	}
}

// TestValidateDerivesTopics validates the MQTT topic and QoS defaults are
// derived from the instance id.
func TestValidateDerivesTopics(t *testing.T) {
	cfg := minimal()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "tcp://localhost:1883"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.MQTT.Topics.Control != "emotiscan/control/emotiscan-01" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.Summary != "emotiscan/summary/emotiscan-01" {
		t.Errorf("summary topic = %q", cfg.MQTT.Topics.Summary)
	}
	if cfg.MQTT.QoS["control"] != 1 {
		t.Errorf("control QoS = %d, want 1", cfg.MQTT.QoS["control"])
	}
	if cfg.MQTT.QoS["summary"] != 0 {
		t.Errorf("summary QoS = %d, want 0", cfg.MQTT.QoS["summary"])
	}
}

// TestValidateRejections walks the hard validation failures.
func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing instance id", func(c *config.Config) { c.InstanceID = "" }, "instance_id"},
		{"bad instance id", func(c *config.Config) { c.InstanceID = "EmotiScan_01" }, "instance_id"},
		{"bad log level", func(c *config.Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad quality", func(c *config.Config) { c.Capture.JPEGQuality = 1.5 }, "jpeg_quality"},
		{"negative period", func(c *config.Config) { c.Capture.PeriodMS = -10 }, "period_ms"},
		{"bad decay", func(c *config.Config) { c.Stats.Decay = 1.2 }, "decay"},
		{"bad classifier kind", func(c *config.Config) { c.Classifier.Kind = "grpc" }, "classifier.kind"},
		{"http without base url", func(c *config.Config) { c.Classifier.HTTP.BaseURL = "" }, "base_url"},
		{"python without script", func(c *config.Config) {
			c.Classifier.Kind = "python"
			c.Classifier.Python.Script = ""
		}, "script"},
		{"mqtt without broker", func(c *config.Config) { c.MQTT.Enabled = true }, "broker"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := minimal()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

// TestLoadRoundTrip validates Load parses a real YAML file and applies
// validation defaults.
func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
instance_id: bench-cam
log_level: debug
camera:
  device: /dev/video2
  width: 1280
  height: 720
capture:
  period_ms: 250
classifier:
  kind: mock
mqtt:
  enabled: false
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Device != "/dev/video2" {
		t.Errorf("device = %q", cfg.Camera.Device)
	}
	if cfg.Capture.PeriodMS != 250 {
		t.Errorf("period_ms = %d, want 250", cfg.Capture.PeriodMS)
	}
	// Unset fields picked up defaults.
	if cfg.Capture.JPEGQuality != 0.7 {
		t.Errorf("jpeg_quality = %g, want default 0.7", cfg.Capture.JPEGQuality)
	}
	if cfg.MQTT.Topics.Control != "emotiscan/control/bench-cam" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
}

// TestLoadErrors validates missing files and malformed YAML are wrapped
// distinctly.
func TestLoadErrors(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("instance_id: [unclosed"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("Load of malformed YAML should fail")
	}
}

// TestDurationHelpers validates the millisecond fields convert cleanly.
func TestDurationHelpers(t *testing.T) {
	c := config.CaptureConfig{PeriodMS: 500, DispatchTimeoutMS: 10000}
	if c.Period().Milliseconds() != 500 {
		t.Errorf("Period() = %v", c.Period())
	}
	if c.DispatchTimeout().Seconds() != 10 {
		t.Errorf("DispatchTimeout() = %v", c.DispatchTimeout())
	}
}
