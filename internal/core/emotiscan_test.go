package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/classify"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// writeTestConfig drops a mock-everything configuration and returns its
// path: synthetic camera, scripted classifier, no broker, monitor on a
// random port.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	cfgYAML := fmt.Sprintf(`
instance_id: test-core
camera:
  device: mock
  width: 64
  height: 48
capture:
  period_ms: 30
  dispatch_timeout_ms: 500
classifier:
  kind: mock
stats:
  decay: 0.9
mqtt:
  enabled: false
monitor:
  addr: "127.0.0.1:0"
video:
  workdir: %q
`, filepath.Join(dir, "work"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for " + msg)
}

func TestNewEmotiScanMissingConfig(t *testing.T) {
	if _, err := NewEmotiScan("/nonexistent/config.yaml", false); err == nil {
		t.Error("expected error for missing config file")
	}
}

// TestServiceLifecycle runs the whole daemon against mock components:
// autostart without a broker, live tuning, stop/restart and shutdown
// through the control path.
func TestServiceLifecycle(t *testing.T) {
	e, err := NewEmotiScan(writeTestConfig(t), false)
	if err != nil {
		t.Fatalf("NewEmotiScan failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	// MQTT is disabled, so detection starts by itself.
	waitFor(t, 3*time.Second, func() bool {
		return e.controller.IsRunning()
	}, "detection session to autostart")

	if err := e.Run(context.Background()); err == nil {
		t.Error("second Run should fail while running")
	}

	// Drive a scripted face through the loop and watch the table move.
	mock := e.classifier.(*classify.Mock)
	mock.Set(types.DetectionResult{
		NumSubjects: 1,
		Subjects: []types.Subject{{
			Box:        types.Rect{X: 4, Y: 4, W: 16, H: 16},
			Emotion:    types.EmotionHappy,
			Confidence: 0.9,
		}},
	}, nil)

	waitFor(t, 3*time.Second, func() bool {
		return e.stats.Table().Total > 0
	}, "aggregator to absorb detections")

	status := e.getStatus()
	if status["instance_id"] != "test-core" {
		t.Errorf("status instance_id = %v", status["instance_id"])
	}
	session, ok := status["session"].(map[string]interface{})
	if !ok || session["running"] != true {
		t.Errorf("status session = %v", status["session"])
	}

	summary := e.getSummary()
	if summary["running"] != true {
		t.Errorf("summary running = %v", summary["running"])
	}
	if summary["dominant"] != types.EmotionHappy {
		t.Errorf("summary dominant = %v, want happy", summary["dominant"])
	}

	// Live tuning via the control callbacks.
	if err := e.setPeriod(100); err != nil {
		t.Fatalf("setPeriod failed: %v", err)
	}
	if err := e.setQuality(0.9); err != nil {
		t.Fatalf("setQuality failed: %v", err)
	}
	snap := e.controller.Snapshot()
	if snap.PeriodMS != 100 || snap.Quality != 0.9 {
		t.Errorf("tuning not applied: period=%d quality=%g", snap.PeriodMS, snap.Quality)
	}

	// Swap back to empty results, let the in-flight ones drain, then
	// reset and verify the table stays empty.
	mock.Set(types.DetectionResult{}, nil)
	base := mock.Calls()
	waitFor(t, 3*time.Second, func() bool {
		return mock.Calls() >= base+2
	}, "empty results to flow")

	if err := e.resetStats(); err != nil {
		t.Fatalf("resetStats failed: %v", err)
	}
	if total := e.stats.Table().Total; total != 0 {
		t.Errorf("table total = %g after reset", total)
	}

	if err := e.stopDetection(); err != nil {
		t.Fatalf("stopDetection failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return !e.controller.IsRunning()
	}, "session to stop")

	if err := e.startDetection(250, 0.8); err != nil {
		t.Fatalf("startDetection failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return e.controller.IsRunning()
	}, "session to restart")
	if snap := e.controller.Snapshot(); snap.PeriodMS != 250 {
		t.Errorf("restarted period = %d, want 250", snap.PeriodMS)
	}

	// Readiness holds once the source has produced a frame.
	rec := httptest.NewRecorder()
	e.ReadinessHandler(rec, httptest.NewRequest("GET", "/readiness", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readiness = %d, want 200", rec.Code)
	}

	// Shutdown through the control path: Run returns, Shutdown cleans up.
	if err := e.shutdownViaControl(); err != nil {
		t.Fatalf("shutdownViaControl failed: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after control shutdown")
	}

	sdCtx, sdCancel := context.WithTimeout(context.Background(), e.ShutdownTimeout())
	defer sdCancel()
	if err := e.Shutdown(sdCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	t.Log("✅ lifecycle: autostart, tuning, restart, control shutdown")
}

func TestHealthWhenIdle(t *testing.T) {
	e, err := NewEmotiScan(writeTestConfig(t), false)
	if err != nil {
		t.Fatalf("NewEmotiScan failed: %v", err)
	}

	if health := e.HealthCheck(); health.Status != "unhealthy" {
		t.Errorf("idle service health = %s, want unhealthy", health.Status)
	}

	rec := httptest.NewRecorder()
	e.LivenessHandler(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"alive"`) {
		t.Errorf("liveness body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ReadinessHandler(rec, httptest.NewRequest("GET", "/readiness", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness = %d, want 503 before start", rec.Code)
	}
}

func TestAnalyzeVideoValidation(t *testing.T) {
	e, err := NewEmotiScan(writeTestConfig(t), false)
	if err != nil {
		t.Fatalf("NewEmotiScan failed: %v", err)
	}

	// Not running yet: no run context to attach jobs to.
	if _, err := e.analyzeVideo(map[string]interface{}{"path": "/tmp/x.mp4"}); err == nil {
		t.Error("analyzeVideo should fail when service is not running")
	}

	// Fake a run context so parameter validation is reachable.
	e.mu.Lock()
	e.runCtx = context.Background()
	e.mu.Unlock()

	bad := []map[string]interface{}{
		{},
		{"path": "/a.mp4", "url": "https://youtu.be/x"},
		{"path": "/a.mp4", "upload": true}, // no bucket configured
	}
	for _, params := range bad {
		if _, err := e.analyzeVideo(params); err == nil {
			t.Errorf("analyzeVideo(%v) should fail", params)
		}
	}
}

// TestVideoJobFailureRecorded accepts a job for a missing file and
// verifies the async failure lands in the job list.
func TestVideoJobFailureRecorded(t *testing.T) {
	e, err := NewEmotiScan(writeTestConfig(t), false)
	if err != nil {
		t.Fatalf("NewEmotiScan failed: %v", err)
	}

	e.mu.Lock()
	e.runCtx = context.Background()
	e.mu.Unlock()

	resp, err := e.analyzeVideo(map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "missing.mp4"),
	})
	if err != nil {
		t.Fatalf("analyzeVideo failed: %v", err)
	}

	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatalf("no job id in response: %v", resp)
	}
	if resp["state"] != jobStateRunning {
		t.Errorf("accepted state = %v, want %s", resp["state"], jobStateRunning)
	}

	waitFor(t, 3*time.Second, func() bool {
		for _, j := range e.jobList() {
			if j["job_id"] == jobID && j["state"] == jobStateFailed {
				return true
			}
		}
		return false
	}, "job to fail on missing input")

	var errText string
	for _, j := range e.jobList() {
		if j["job_id"] == jobID {
			errText, _ = j["error"].(string)
		}
	}
	if !strings.Contains(errText, "input video") {
		t.Errorf("job error = %q, want the missing input cause", errText)
	}
}
