package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/capture"
)

// startDetection begins a live detection session. Zero params keep the
// configured defaults.
func (e *EmotiScan) startDetection(periodMS, quality float64) error {
	e.mu.RLock()
	ctx := e.runCtx
	e.mu.RUnlock()

	if ctx == nil {
		return fmt.Errorf("service not running")
	}

	opts := capture.Options{}
	if periodMS > 0 {
		opts.Period = time.Duration(periodMS) * time.Millisecond
	}
	if quality > 0 {
		opts.Quality = quality
	}

	if err := e.controller.Start(ctx, opts); err != nil {
		return err
	}

	slog.Info("detection started via control plane",
		"period_ms", periodMS,
		"quality", quality,
	)
	return nil
}

// stopDetection ends the live session. Statistics are cleared as part
// of the stop.
func (e *EmotiScan) stopDetection() error {
	if err := e.controller.Stop(); err != nil {
		return err
	}
	slog.Info("detection stopped via control plane")
	return nil
}

// resetStats clears the statistic table without touching the session.
func (e *EmotiScan) resetStats() error {
	e.stats.Reset()
	slog.Info("statistics reset via control plane")
	return nil
}

// setPeriod changes the sampling period, live when a session is running.
func (e *EmotiScan) setPeriod(periodMS float64) error {
	return e.controller.SetPeriod(time.Duration(periodMS) * time.Millisecond)
}

// setQuality changes the dispatch JPEG quality, live when a session is
// running.
func (e *EmotiScan) setQuality(quality float64) error {
	return e.controller.SetQuality(quality)
}

// getStatus returns the full service status tree.
func (e *EmotiScan) getStatus() map[string]interface{} {
	e.mu.RLock()
	started := e.started
	running := e.isRunning
	e.mu.RUnlock()

	sess := e.controller.Snapshot()
	src := e.source.Stats()
	emit := e.emitter.Stats()
	table := e.stats.Table()

	return map[string]interface{}{
		"instance_id": e.cfg.InstanceID,
		"uptime_s":    time.Since(started).Seconds(),
		"running":     running,
		"session": map[string]interface{}{
			"running":              sess.Running,
			"period_ms":            sess.PeriodMS,
			"quality":              sess.Quality,
			"ticks":                sess.Ticks,
			"skipped_busy":         sess.SkippedBusy,
			"dispatched":           sess.Dispatched,
			"succeeded":            sess.Succeeded,
			"failed":               sess.Failed,
			"discarded_late":       sess.DiscardedLate,
			"consecutive_failures": sess.ConsecutiveFailures,
			"degraded":             sess.Degraded,
		},
		"stream": map[string]interface{}{
			"connected":   src.Connected,
			"fps_real":    src.FPSReal,
			"frame_count": src.FrameCount,
			"resolution":  src.Resolution,
			"restarts":    src.Restarts,
		},
		"emitter": map[string]interface{}{
			"connected": emit.Connected,
			"published": emit.Published,
			"errors":    emit.Errors,
		},
		"stats": map[string]interface{}{
			"dominant": table.Dominant,
			"total":    table.Total,
			"updates":  table.Updates,
		},
		"video_jobs": e.jobList(),
		"config": map[string]interface{}{
			"camera": map[string]interface{}{
				"device":     e.cfg.Camera.Device,
				"resolution": fmt.Sprintf("%dx%d", e.cfg.Camera.Width, e.cfg.Camera.Height),
			},
			"classifier": map[string]interface{}{
				"kind": e.cfg.Classifier.Kind,
			},
			"mqtt": map[string]interface{}{
				"broker":        e.cfg.MQTT.Broker,
				"control_topic": e.cfg.MQTT.Topics.Control,
				"summary_topic": e.cfg.MQTT.Topics.Summary,
			},
		},
	}
}

// getSummary returns the statistic table in the summary wire shape.
func (e *EmotiScan) getSummary() map[string]interface{} {
	table := e.stats.Table()

	rows := make([]map[string]interface{}, 0, len(table.Rows))
	for _, row := range table.Rows {
		rows = append(rows, map[string]interface{}{
			"emotion":        row.Emotion,
			"weighted_count": row.WeightedCount,
			"percentage":     row.Percentage,
			"avg_confidence": row.AvgConfidence,
		})
	}

	return map[string]interface{}{
		"instance_id": e.cfg.InstanceID,
		"ts":          time.Now().UTC().Format(time.RFC3339),
		"running":     e.controller.IsRunning(),
		"dominant":    table.Dominant,
		"total":       table.Total,
		"updates":     table.Updates,
		"table":       rows,
	}
}

// shutdownViaControl initiates graceful shutdown via the MQTT shutdown
// command.
func (e *EmotiScan) shutdownViaControl() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.isRunning {
		return fmt.Errorf("service not running")
	}
	if e.cancelCtx == nil {
		return fmt.Errorf("shutdown not available")
	}

	// Cancelling the run context makes Run return; main handles the
	// shutdown sequence.
	e.cancelCtx()
	return nil
}
