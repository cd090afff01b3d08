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

// File decodes a local video file into RGB frames at native resolution.
//
// Unlike the live sources it delivers every frame: sends block until
// the consumer keeps up, which throttles the decoder instead of
// dropping frames. The frames channel closes at end of stream, so
// ranging over Frames() walks the whole file exactly once.
type File struct {
	path string

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan types.Frame
	mu     sync.RWMutex

	latest    types.Frame
	latestSet bool

	ready     chan struct{}
	readyOnce *sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Native geometry, read from the negotiated caps on first sample.
	width  int
	height int
	fps    int

	frameCount uint64
	bytesRead  uint64
	started    time.Time
}

// NewFile creates a file source for the given video path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("video path is required")
	}
	return &File{
		path:      path,
		frames:    make(chan types.Frame, frameBuffer),
		ready:     make(chan struct{}),
		readyOnce: &sync.Once{},
	}, nil
}

// Start launches the decode pipeline. Fails fast when the file does not
// exist or cannot be demuxed.
func (f *File) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.cancel != nil {
		f.mu.Unlock()
		return fmt.Errorf("stream already started")
	}

	gst.Init(nil)

	f.ctx, f.cancel = context.WithCancel(ctx)
	f.started = time.Now()

	first := make(chan error, 1)
	report := func(err error) {
		select {
		case first <- err:
		default:
		}
	}

	f.wg.Add(1)
	go f.runPipeline(report)

	ready := f.ready
	f.mu.Unlock()

	slog.Info("video file opening", "path", f.path)

	select {
	case err := <-first:
		if err != nil {
			f.wg.Wait()
			f.mu.Lock()
			f.resetLocked()
			f.mu.Unlock()
			return err
		}
		return nil
	case <-ready:
		return nil
	case <-time.After(startWait):
		slog.Warn("video file still negotiating after start wait", "path", f.path)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPipeline decodes the file once. No retries: a file that failed
// will fail again.
func (f *File) runPipeline(report func(error)) {
	defer f.wg.Done()

	f.mu.RLock()
	frames := f.frames
	f.mu.RUnlock()
	defer close(frames)

	err := f.connectAndStream(report)
	if err != nil {
		slog.Error("video decode error", "path", f.path, "error", err)
		if atomic.LoadUint64(&f.frameCount) == 0 {
			report(err)
		}
	}
}

func (f *File) connectAndStream(report func(error)) error {
	// Safe to call multiple times.
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	f.pipeline = pipeline

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return fmt.Errorf("failed to create filesrc: %w", err)
	}
	filesrc.SetProperty("location", f.path)

	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return fmt.Errorf("failed to create decodebin: %w", err)
	}

	videoconvert, _ := gst.NewElement("videoconvert")

	capsfilter, _ := gst.NewElement("capsfilter")
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGB"))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	f.appsink = appsink

	appsink.SetProperty("sync", false)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return f.onNewSample(sink)
		},
	})

	pipeline.AddMany(filesrc, decodebin, videoconvert, capsfilter, appsink.Element)
	gst.ElementLinkMany(filesrc, decodebin)
	gst.ElementLinkMany(videoconvert, capsfilter, appsink.Element)

	// decodebin exposes pads only after demuxing starts.
	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		slog.Debug("decodebin pad added", "pad", srcPad.GetName())
		sinkPad := videoconvert.GetStaticPad("sink")
		if sinkPad != nil && !sinkPad.IsLinked() {
			srcPad.Link(sinkPad)
		}
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-f.ctx.Done():
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("video file fully decoded",
				"path", f.path,
				"frames", atomic.LoadUint64(&f.frameCount),
			)
			pipeline.SetState(gst.StateNull)
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("video pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			pipeline.SetState(gst.StateNull)
			if sentinel := classifyDeviceError(gerr.Error()); sentinel != nil {
				return fmt.Errorf("%w: %s", sentinel, gerr.Error())
			}
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, state := msg.ParseStateChanged()
				if state == gst.StatePlaying {
					report(nil)
				}
			}
		}
	}
}

// onNewSample delivers one decoded frame. Sends block so the decoder
// never outruns the consumer.
func (f *File) onNewSample(sink *app.Sink) gst.FlowReturn {
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

	f.mu.RLock()
	width, height := f.width, f.height
	f.mu.RUnlock()
	if width == 0 {
		width, height = f.readGeometry()
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Data:      frameData,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
		Seq:       atomic.AddUint64(&f.frameCount, 1),
		TraceID:   uuid.New().String(),
	}

	atomic.AddUint64(&f.bytesRead, uint64(len(data)))

	f.mu.Lock()
	if f.ctx == nil || f.ctx.Err() != nil {
		f.mu.Unlock()
		return gst.FlowEOS
	}
	f.latest = frame
	f.latestSet = true
	once := f.readyOnce
	ready := f.ready
	frames := f.frames
	ctx := f.ctx
	f.mu.Unlock()

	once.Do(func() { close(ready) })

	select {
	case frames <- frame:
		return gst.FlowOK
	case <-ctx.Done():
		return gst.FlowEOS
	}
}

// readGeometry extracts width, height and framerate from the caps
// negotiated on the appsink pad, caching them for subsequent frames.
func (f *File) readGeometry() (int, int) {
	pad := f.appsink.Element.GetStaticPad("sink")
	if pad == nil {
		return 0, 0
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	structure := caps.GetStructureAt(0)

	width, height, fps := 0, 0, 0
	if val, err := structure.GetValue("width"); err == nil {
		if v, ok := val.(int); ok {
			width = v
		}
	}
	if val, err := structure.GetValue("height"); err == nil {
		if v, ok := val.(int); ok {
			height = v
		}
	}
	if val, err := structure.GetValue("framerate"); err == nil {
		fps = parseFPS(fmt.Sprintf("%v", val))
	}

	f.mu.Lock()
	f.width, f.height, f.fps = width, height, fps
	f.mu.Unlock()

	slog.Debug("video geometry negotiated",
		"path", f.path,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"fps", fps,
	)

	return width, height
}

// FPS returns the file's frame rate, or 0 when unknown. Valid after the
// first frame has been decoded.
func (f *File) FPS() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fps
}

// Ready is closed once the first frame has been decoded.
func (f *File) Ready() <-chan struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ready
}

// Snapshot returns the most recent decoded frame.
func (f *File) Snapshot() (types.Frame, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.latestSet {
		return types.Frame{}, ErrNotReady
	}
	return f.latest, nil
}

// Frames returns the decoded frame feed. Closed at end of stream.
func (f *File) Frames() <-chan types.Frame {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frames
}

// Stop aborts decoding. Idempotent.
func (f *File) Stop() error {
	f.mu.Lock()
	if f.cancel == nil {
		f.mu.Unlock()
		return nil
	}
	cancel := f.cancel
	f.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("video file closed",
			"path", f.path,
			"frames_decoded", atomic.LoadUint64(&f.frameCount),
			"elapsed", time.Since(f.started),
		)
	case <-time.After(3 * time.Second):
		slog.Warn("video stop timeout, pipeline may still be running", "path", f.path)
	}

	f.mu.Lock()
	f.resetLocked()
	f.mu.Unlock()

	return nil
}

func (f *File) resetLocked() {
	if f.cancel == nil {
		return
	}

	f.cancel = nil
	f.ctx = nil
	f.pipeline = nil
	f.appsink = nil
	f.latestSet = false
	f.width, f.height, f.fps = 0, 0, 0

	f.frames = make(chan types.Frame, frameBuffer)
	f.ready = make(chan struct{})
	f.readyOnce = &sync.Once{}
}

// Stats returns decode statistics.
func (f *File) Stats() types.StreamStats {
	f.mu.RLock()
	running := f.cancel != nil
	started := f.started
	width, height := f.width, f.height
	f.mu.RUnlock()

	frameCount := atomic.LoadUint64(&f.frameCount)

	var fpsReal float64
	if uptime := time.Since(started).Seconds(); running && uptime > 0 {
		fpsReal = float64(frameCount) / uptime
	}

	return types.StreamStats{
		Connected:  running,
		FPSReal:    fpsReal,
		FrameCount: frameCount,
		Resolution: fmt.Sprintf("%dx%d", width, height),
		BytesRead:  atomic.LoadUint64(&f.bytesRead),
	}
}

// parseFPS converts a framerate fraction like "30/1" or "30000/1001"
// into integer frames per second.
func parseFPS(framerate string) int {
	var numerator, denominator int
	if _, err := fmt.Sscanf(framerate, "%d/%d", &numerator, &denominator); err == nil {
		if denominator > 0 {
			return numerator / denominator
		}
	}

	var fps int
	if _, err := fmt.Sscanf(framerate, "%d", &fps); err == nil {
		return fps
	}

	return 0
}

var _ Source = (*File)(nil)
