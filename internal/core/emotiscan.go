// Package core wires the EmotiScan daemon together: video source,
// classifier, capture loop, statistics, MQTT emitter, control plane and
// the embedded web monitor.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/capture"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/classify"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/config"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/control"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/emitter"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/emostats"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/metrics"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/stream"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/upload"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/webmonitor"
)

const (
	// summaryInterval is the cadence of the MQTT summary topic and the
	// metrics gauge refresh.
	summaryInterval = 5 * time.Second

	// monitorJPEGQuality is used for frames pushed to the web monitor.
	monitorJPEGQuality = 80
)

// EmotiScan is the main service orchestrator.
type EmotiScan struct {
	cfg *config.Config

	// Core components
	source         stream.Source
	classifier     classify.Classifier
	stats          *emostats.Aggregator
	controller     *capture.Controller
	emitter        Emitter
	controlHandler *control.Handler
	uploader       upload.Uploader

	// Monitor surface
	frames  *webmonitor.FrameBroadcaster
	events  *webmonitor.EventBroadcaster
	monitor *webmonitor.Server

	// Video analysis jobs
	jobsMu sync.Mutex
	jobs   map[string]*videoJob

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context    // for detection sessions started via control plane
	cancelCtx context.CancelFunc // for the MQTT shutdown command
}

// NewEmotiScan creates a service instance from a configuration file.
// useMock replaces the camera with a synthetic source for broker-less
// development runs.
func NewEmotiScan(configPath string, useMock bool) (*EmotiScan, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"classifier", cfg.Classifier.Kind,
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	return New(cfg, useMock)
}

// New creates a service instance from an already loaded configuration.
func New(cfg *config.Config, useMock bool) (*EmotiScan, error) {
	metrics.Init()

	agg, err := emostats.New(cfg.Stats.Decay)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	classifier, err := buildClassifier(cfg, useMock)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	source, err := buildSource(cfg, useMock)
	if err != nil {
		return nil, fmt.Errorf("failed to create video source: %w", err)
	}

	e := &EmotiScan{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		stats:      agg,
		frames:     webmonitor.NewFrameBroadcaster(),
		events:     webmonitor.NewEventBroadcaster(),
		jobs:       make(map[string]*videoJob),
	}

	if cfg.MQTT.Enabled {
		e.emitter = emitter.NewMQTTEmitter(cfg)
	} else {
		e.emitter = emitter.NewNoopEmitter()
	}

	if cfg.Upload.Bucket != "" {
		e.uploader = upload.NewGCS(upload.GCSConfig{
			Bucket: cfg.Upload.Bucket,
			URLTTL: cfg.Upload.URLTTL(),
		})
	} else {
		e.uploader = upload.NewNoop()
	}

	e.controller, err = capture.New(capture.Config{
		Source:     source,
		Classifier: classifier,
		Stats:      agg,
		Defaults: capture.Options{
			Period:                 cfg.Capture.Period(),
			Quality:                cfg.Capture.JPEGQuality,
			DispatchTimeout:        cfg.Capture.DispatchTimeout(),
			MaxConsecutiveFailures: cfg.Capture.MaxConsecutiveFailures,
			StopOnFailures:         cfg.Capture.StopOnFailures,
		},
		OnResult: e.onResult,
		OnHealth: e.onHealth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create capture controller: %w", err)
	}

	e.monitor = webmonitor.NewServer(webmonitor.ServerOptions{
		Addr:      cfg.Monitor.Addr,
		Frames:    e.frames,
		Events:    e.events,
		Health:    e.LivenessHandler,
		Readiness: e.ReadinessHandler,
		Metrics:   metrics.Handler(),
	})

	return e, nil
}

func buildClassifier(cfg *config.Config, useMock bool) (classify.Classifier, error) {
	// Mock runs need no backend at all.
	if useMock {
		return &classify.Mock{}, nil
	}

	switch cfg.Classifier.Kind {
	case "http":
		return classify.NewHTTP(classify.HTTPConfig{
			BaseURL:  cfg.Classifier.HTTP.BaseURL,
			Endpoint: cfg.Classifier.HTTP.Endpoint,
		})
	case "python":
		return classify.NewPythonWorker(classify.PythonWorkerConfig{
			Script:    cfg.Classifier.Python.Script,
			PythonBin: cfg.Classifier.Python.PythonBin,
		})
	case "mock":
		// Empty scripted result: zero faces on every frame.
		return &classify.Mock{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier kind: %s", cfg.Classifier.Kind)
	}
}

func buildSource(cfg *config.Config, useMock bool) (stream.Source, error) {
	if useMock || cfg.Camera.Device == "mock" {
		slog.Info("using mock video source",
			"resolution", fmt.Sprintf("%dx%d", cfg.Camera.Width, cfg.Camera.Height),
		)
		return stream.NewMock(cfg.Camera.Width, cfg.Camera.Height, 15), nil
	}

	slog.Info("using webcam source",
		"device", cfg.Camera.Device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Camera.Width, cfg.Camera.Height),
	)
	return stream.NewWebcam(stream.WebcamConfig{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	})
}

// Run starts the service and blocks until the context is cancelled.
func (e *EmotiScan) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	e.isRunning = true
	e.started = time.Now()
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.runCtx = ctx
	e.cancelCtx = cancel
	e.mu.Unlock()

	slog.Info("emotiscan service starting", "instance_id", e.cfg.InstanceID)

	// The python worker is a subprocess that must be up before the first
	// dispatch.
	if pw, ok := e.classifier.(*classify.PythonWorker); ok {
		if err := pw.Start(ctx); err != nil {
			return fmt.Errorf("failed to start python worker: %w", err)
		}
	}

	if err := e.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start video source: %w", err)
	}

	if e.cfg.MQTT.Enabled {
		if err := e.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		mq := e.emitter.(*emitter.MQTTEmitter)
		e.controlHandler = control.NewHandler(e.cfg, mq.Client, control.CommandCallbacks{
			OnStart:        e.startDetection,
			OnStop:         e.stopDetection,
			OnStatus:       e.getStatus,
			OnResetStats:   e.resetStats,
			OnSetPeriod:    e.setPeriod,
			OnSetQuality:   e.setQuality,
			OnGetSummary:   e.getSummary,
			OnAnalyzeVideo: e.analyzeVideo,
			OnShutdown:     e.shutdownViaControl,
		})
		if err := e.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}

	if err := e.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start web monitor: %w", err)
	}

	e.wg.Add(1)
	go e.summaryLoop(ctx)

	// Without a control plane there is nothing to send the start
	// command, so detection begins immediately.
	if !e.cfg.MQTT.Enabled {
		slog.Info("mqtt disabled, starting detection immediately")
		if err := e.controller.Start(ctx, capture.Options{}); err != nil {
			return fmt.Errorf("failed to start detection: %w", err)
		}
	}

	slog.Info("emotiscan service running",
		"monitor_addr", e.cfg.Monitor.Addr,
		"control_plane", e.cfg.MQTT.Enabled,
	)

	<-ctx.Done()

	slog.Info("emotiscan service run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown of all components.
func (e *EmotiScan) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	slog.Info("shutting down emotiscan service")

	// Order matters: stop producing before tearing down consumers.
	if e.controller != nil {
		slog.Info("stopping detection session")
		if err := e.controller.Stop(); err != nil {
			slog.Error("failed to stop detection", "error", err)
		}
	}

	if e.source != nil {
		slog.Info("stopping video source")
		if err := e.source.Stop(); err != nil {
			slog.Error("failed to stop video source", "error", err)
		}
	}

	if e.controlHandler != nil {
		slog.Info("stopping control handler")
		if err := e.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if e.monitor != nil {
		slog.Info("stopping web monitor")
		if err := e.monitor.Shutdown(ctx); err != nil {
			slog.Error("failed to stop web monitor", "error", err)
		}
	}

	slog.Info("waiting for goroutines to finish")
	e.wg.Wait()
	slog.Info("all goroutines finished")

	if e.classifier != nil {
		if err := e.classifier.Close(); err != nil {
			slog.Error("failed to close classifier", "error", err)
		}
	}

	if e.emitter != nil {
		if err := e.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	e.mu.Lock()
	uptime := time.Since(e.started)
	e.isRunning = false
	e.mu.Unlock()

	slog.Info("emotiscan service shutdown complete", "uptime", uptime)

	return nil
}

// onResult handles each applied classification: push the annotated
// frame to the monitor, publish the detection event and refresh the SSE
// summary.
func (e *EmotiScan) onResult(annotated *image.RGBA, frame types.Frame, result types.DetectionResult) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: monitorJPEGQuality}); err != nil {
		slog.Warn("failed to encode monitor frame", "trace_id", frame.TraceID, "error", err)
	} else {
		e.frames.Publish(buf.Bytes())
	}

	emotions := make([]string, 0, len(result.Subjects))
	for _, s := range result.Subjects {
		emotions = append(emotions, string(s.Emotion))
	}
	metrics.RecordResult(emotions)

	event := map[string]interface{}{
		"instance_id": e.cfg.InstanceID,
		"trace_id":    frame.TraceID,
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"num_faces":   result.NumSubjects,
		"results":     result.Subjects,
	}
	if payload, err := json.Marshal(event); err == nil {
		if err := e.emitter.PublishDetections(payload); err != nil {
			slog.Debug("detection publish skipped", "error", err)
		}
	}

	if payload, err := json.Marshal(e.summaryEvent()); err == nil {
		e.events.Publish(payload)
	}
}

// onHealth publishes classifier degradation transitions on the health
// topic.
func (e *EmotiScan) onHealth(degraded bool) {
	event := "classifier_recovered"
	if degraded {
		event = "classifier_degraded"
	}

	payload, err := json.Marshal(map[string]interface{}{
		"instance_id": e.cfg.InstanceID,
		"event":       event,
		"ts":          time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := e.emitter.PublishHealth(payload); err != nil {
		slog.Debug("health publish skipped", "error", err)
	}
}

// summaryLoop publishes the statistic summary on MQTT and refreshes the
// metric gauges.
func (e *EmotiScan) summaryLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if payload, err := json.Marshal(e.summaryEvent()); err == nil {
				if err := e.emitter.PublishSummary(payload); err != nil {
					slog.Debug("summary publish skipped", "error", err)
				}
			}

			metrics.Update(e.metricsSnapshot())
			metrics.SetMonitorClients(e.frames.ClientCount() + e.events.ClientCount())
		}
	}
}

// summaryEvent is the wire form of the statistic table, shared by the
// MQTT summary topic, the SSE feed and the get_summary command.
type summaryEvent struct {
	InstanceID string `json:"instance_id"`
	Timestamp  string `json:"ts"`
	Running    bool   `json:"running"`
	emostats.Snapshot
}

func (e *EmotiScan) summaryEvent() summaryEvent {
	return summaryEvent{
		InstanceID: e.cfg.InstanceID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Running:    e.controller.IsRunning(),
		Snapshot:   e.stats.Table(),
	}
}

func (e *EmotiScan) metricsSnapshot() metrics.Snapshot {
	sess := e.controller.Snapshot()
	src := e.source.Stats()
	emit := e.emitter.Stats()

	var published float64
	for _, n := range emit.Published {
		published += float64(n)
	}

	return metrics.Snapshot{
		SessionRunning: sess.Running,
		PeriodSeconds:  float64(sess.PeriodMS) / 1000,
		Quality:        sess.Quality,
		Ticks:          float64(sess.Ticks),
		SkippedBusy:    float64(sess.SkippedBusy),
		Dispatched:     float64(sess.Dispatched),
		Succeeded:      float64(sess.Succeeded),
		Failed:         float64(sess.Failed),
		DiscardedLate:  float64(sess.DiscardedLate),

		StreamFPS:       src.FPSReal,
		StreamConnected: src.Connected,
		StreamFrames:    float64(src.FrameCount),

		MQTTConnected: emit.Connected,
		MQTTPublished: published,
		MQTTErrors:    float64(emit.Errors),

		Observations: e.stats.Table().Total,
	}
}

// ShutdownTimeout returns the graceful shutdown budget.
func (e *EmotiScan) ShutdownTimeout() time.Duration {
	return 5 * time.Second
}
