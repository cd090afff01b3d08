package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// startWait bounds how long Start waits for the device to either fail
// or come up before declaring the launch good enough.
const startWait = 5 * time.Second

// frameBuffer is the live-feed channel capacity. Slow consumers drop
// frames beyond this, they never stall the pipeline.
const frameBuffer = 10

// Webcam captures frames from a local V4L2 device using GStreamer.
type Webcam struct {
	// Configuration
	device string
	width  int
	height int

	// GStreamer pipeline
	pipeline *gst.Pipeline
	appsink  *app.Sink

	// Frame output
	frames chan types.Frame
	mu     sync.RWMutex

	// Snapshot cache: latest decoded frame, replaced wholesale each
	// sample so readers never see a partially written frame.
	latest    types.Frame
	latestSet bool

	// Readiness: closed on the first decoded frame, recreated on Stop.
	ready     chan struct{}
	readyOnce *sync.Once

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	frameCount    uint64
	bytesRead     uint64
	restarts      uint32
	lastFrameNano int64
	started       time.Time

	// Recovery after a mid-session pipeline drop
	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// WebcamConfig contains webcam capture configuration.
type WebcamConfig struct {
	Device string // e.g. /dev/video0
	Width  int
	Height int
}

// NewWebcam creates a webcam source. The device is not opened until Start.
func NewWebcam(cfg WebcamConfig) (*Webcam, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("camera device is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}

	return &Webcam{
		device:        cfg.Device,
		width:         cfg.Width,
		height:        cfg.Height,
		frames:        make(chan types.Frame, frameBuffer),
		ready:         make(chan struct{}),
		readyOnce:     &sync.Once{},
		maxRetries:    5,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 30 * time.Second,
	}, nil
}

// Start opens the device and launches the pipeline. It fails fast with
// ErrDeviceUnavailable or ErrDeviceBusy when the device cannot be
// opened, and otherwise returns once the pipeline is up (readiness is
// signalled separately through Ready).
func (w *Webcam) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("stream already started")
	}

	gst.Init(nil)

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.started = time.Now()

	first := make(chan error, 1)
	report := func(err error) {
		select {
		case first <- err:
		default:
		}
	}

	w.wg.Add(1)
	go w.runPipeline(report)

	ready := w.ready
	w.mu.Unlock()

	slog.Info("webcam starting",
		"device", w.device,
		"resolution", fmt.Sprintf("%dx%d", w.width, w.height),
	)

	select {
	case err := <-first:
		if err != nil {
			// Device never opened; the pipeline goroutine has already
			// exited. Reset so a later Start can retry.
			w.wg.Wait()
			w.mu.Lock()
			w.resetLocked()
			w.mu.Unlock()
			return err
		}
		return nil
	case <-ready:
		return nil
	case <-time.After(startWait):
		slog.Warn("webcam still negotiating after start wait", "device", w.device)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPipeline runs the capture pipeline, recovering from mid-session
// drops with exponential backoff. A failure on the very first attempt,
// before any frame was decoded, is surfaced to Start instead.
func (w *Webcam) runPipeline(report func(error)) {
	defer w.wg.Done()

	w.mu.RLock()
	frames := w.frames
	w.mu.RUnlock()
	defer close(frames)

	for attempt := 0; ; attempt++ {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		err := w.connectAndStream(report)
		if err != nil {
			slog.Error("webcam pipeline error", "device", w.device, "error", err)
		}

		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if attempt == 0 && atomic.LoadUint64(&w.frameCount) == 0 {
			if err == nil {
				err = fmt.Errorf("pipeline stopped before first frame")
			}
			report(err)
			return
		}

		atomic.AddUint32(&w.restarts, 1)
		if attempt+1 > w.maxRetries {
			slog.Error("webcam retries exhausted, giving up",
				"device", w.device,
				"attempts", attempt+1,
			)
			return
		}

		delay := w.retryDelay * time.Duration(1<<uint(attempt))
		if delay > w.maxRetryDelay {
			delay = w.maxRetryDelay
		}

		slog.Warn("reopening webcam", "device", w.device, "delay", delay)

		select {
		case <-time.After(delay):
		case <-w.ctx.Done():
			return
		}
	}
}

// connectAndStream builds the v4l2src pipeline and pumps it until the
// context is cancelled or the pipeline dies.
func (w *Webcam) connectAndStream(report func(error)) error {
	// Safe to call multiple times.
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	w.pipeline = pipeline

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("failed to create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", w.device)

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	capsfilter, _ := gst.NewElement("capsfilter")
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d",
		w.width, w.height,
	))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	w.appsink = appsink

	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return w.onNewSample(sink)
		},
	})

	pipeline.AddMany(v4l2src, videoconvert, videoscale, capsfilter, appsink.Element)
	gst.ElementLinkMany(v4l2src, videoconvert, videoscale, capsfilter, appsink.Element)

	slog.Debug("setting webcam pipeline to playing", "device", w.device)
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-w.ctx.Done():
			slog.Debug("context cancelled, stopping webcam pipeline")
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		// Poll with a short timeout for responsive shutdown.
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("webcam end of stream", "device", w.device)
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("webcam pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			if sentinel := classifyDeviceError(gerr.Error()); sentinel != nil {
				return fmt.Errorf("%w: %s", sentinel, gerr.Error())
			}
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("webcam pipeline state changed", "from", old, "to", new)

				if new == gst.StatePlaying {
					report(nil)
					slog.Info("webcam capturing", "device", w.device)
				}
			}
		}
	}
}

// onNewSample is called by GStreamer for each decoded frame.
func (w *Webcam) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Data:      frameData,
		Width:     w.width,
		Height:    w.height,
		Timestamp: time.Now(),
		Seq:       atomic.AddUint64(&w.frameCount, 1),
		TraceID:   uuid.New().String(),
	}

	atomic.StoreInt64(&w.lastFrameNano, frame.Timestamp.UnixNano())
	atomic.AddUint64(&w.bytesRead, uint64(len(data)))

	w.mu.Lock()
	if w.ctx == nil || w.ctx.Err() != nil {
		w.mu.Unlock()
		return gst.FlowEOS
	}
	w.latest = frame
	w.latestSet = true
	once := w.readyOnce
	ready := w.ready
	frames := w.frames
	w.mu.Unlock()

	once.Do(func() { close(ready) })

	select {
	case frames <- frame:
	default:
		slog.Debug("dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}

// Ready is closed once the first frame has been decoded.
func (w *Webcam) Ready() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Snapshot returns the most recent decoded frame.
func (w *Webcam) Snapshot() (types.Frame, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.latestSet {
		return types.Frame{}, ErrNotReady
	}
	return w.latest, nil
}

// Frames returns the live frame feed.
func (w *Webcam) Frames() <-chan types.Frame {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.frames
}

// Stop releases the device. Idempotent; internal state is reset so the
// webcam can be started again.
func (w *Webcam) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.mu.Unlock()

	slog.Info("webcam stopping", "device", w.device)

	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("webcam stopped",
			"device", w.device,
			"frames_captured", atomic.LoadUint64(&w.frameCount),
			"restarts", atomic.LoadUint32(&w.restarts),
			"uptime", time.Since(w.started),
		)
	case <-time.After(3 * time.Second):
		slog.Warn("webcam stop timeout, pipeline may still be running",
			"device", w.device,
			"frames_captured", atomic.LoadUint64(&w.frameCount),
		)
	}

	w.mu.Lock()
	w.resetLocked()
	w.mu.Unlock()

	return nil
}

// resetLocked clears run state so the source can be restarted. Safe to
// call twice; callers hold w.mu.
func (w *Webcam) resetLocked() {
	if w.cancel == nil {
		return
	}

	w.cancel = nil
	w.ctx = nil
	w.pipeline = nil
	w.appsink = nil
	w.latestSet = false

	// Recreate channels for restart (frames is closed by runPipeline).
	w.frames = make(chan types.Frame, frameBuffer)
	w.ready = make(chan struct{})
	w.readyOnce = &sync.Once{}

	slog.Debug("webcam state reset, ready for restart", "device", w.device)
}

// Stats returns current capture statistics.
func (w *Webcam) Stats() types.StreamStats {
	w.mu.RLock()
	running := w.cancel != nil
	started := w.started
	w.mu.RUnlock()

	frameCount := atomic.LoadUint64(&w.frameCount)

	var fpsReal float64
	if uptime := time.Since(started).Seconds(); running && uptime > 0 {
		fpsReal = float64(frameCount) / uptime
	}

	var lastAgeMS int64
	connected := false
	if nano := atomic.LoadInt64(&w.lastFrameNano); nano > 0 {
		lastAgeMS = time.Since(time.Unix(0, nano)).Milliseconds()
		connected = running && lastAgeMS < 5000
	}

	return types.StreamStats{
		Connected:      connected,
		FPSReal:        fpsReal,
		FrameCount:     frameCount,
		LastFrameAgeMS: lastAgeMS,
		Resolution:     fmt.Sprintf("%dx%d", w.width, w.height),
		Restarts:       atomic.LoadUint32(&w.restarts),
		BytesRead:      atomic.LoadUint64(&w.bytesRead),
	}
}

var _ Source = (*Webcam)(nil)
