// Package capture drives periodic frame sampling against a slow
// external classifier.
//
// The loop holds a single in-flight slot: when a tick fires while a
// classification is still outstanding, the tick is skipped entirely.
// Drop, never queue, never cancel-and-replace. The classifier is slower
// than the sampling period under load; queuing would grow staleness
// without bound and cancellation would throw away partially completed
// remote work.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/classify"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/emostats"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/overlay"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// sourceDownLimit is how many consecutive ticks the frame source may
// report disconnected before the session is stopped.
const sourceDownLimit = 10

// FrameSource is the slice of the stream contract the controller needs.
type FrameSource interface {
	Ready() <-chan struct{}
	Snapshot() (types.Frame, error)
	Stats() types.StreamStats
}

// ResultFunc receives each applied classification: the annotated frame,
// the raw frame it was drawn from and the detection result. Called
// after the result has been rendered and folded into statistics.
type ResultFunc func(annotated *image.RGBA, frame types.Frame, result types.DetectionResult)

// HealthFunc is notified when the classifier degrades (true) after the
// configured failure threshold and when it recovers (false).
type HealthFunc func(degraded bool)

// Options are the per-session tunables. Zero values fall back to the
// controller's configured defaults.
type Options struct {
	Period          time.Duration
	Quality         float64
	DispatchTimeout time.Duration
	ReadyWait       time.Duration

	// MaxConsecutiveFailures escalates after N dispatch failures in a
	// row; 0 disables escalation.
	MaxConsecutiveFailures int
	// StopOnFailures stops the session when the threshold is hit.
	StopOnFailures bool
}

func (o Options) withDefaults() Options {
	if o.Period <= 0 {
		o.Period = 500 * time.Millisecond
	}
	if o.Quality <= 0 {
		o.Quality = 0.7
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 10 * time.Second
	}
	if o.ReadyWait <= 0 {
		o.ReadyWait = 5 * time.Second
	}
	return o
}

// merge overlays the non-zero fields of other onto o.
func (o Options) merge(other Options) Options {
	if other.Period > 0 {
		o.Period = other.Period
	}
	if other.Quality > 0 {
		o.Quality = other.Quality
	}
	if other.DispatchTimeout > 0 {
		o.DispatchTimeout = other.DispatchTimeout
	}
	if other.ReadyWait > 0 {
		o.ReadyWait = other.ReadyWait
	}
	if other.MaxConsecutiveFailures > 0 {
		o.MaxConsecutiveFailures = other.MaxConsecutiveFailures
	}
	if other.StopOnFailures {
		o.StopOnFailures = true
	}
	return o
}

// Config wires the controller's collaborators.
type Config struct {
	Source     FrameSource
	Classifier classify.Classifier
	Stats      *emostats.Aggregator
	Defaults   Options
	OnResult   ResultFunc
	OnHealth   HealthFunc
}

// Stats is a point-in-time view of the controller's counters.
type Stats struct {
	Running             bool    `json:"running"`
	PeriodMS            int64   `json:"period_ms"`
	Quality             float64 `json:"quality"`
	Ticks               uint64  `json:"ticks"`
	SkippedBusy         uint64  `json:"skipped_busy"`
	Dispatched          uint64  `json:"dispatched"`
	Succeeded           uint64  `json:"succeeded"`
	Failed              uint64  `json:"failed"`
	DiscardedLate       uint64  `json:"discarded_late"`
	ConsecutiveFailures int64   `json:"consecutive_failures"`
	Degraded            bool    `json:"degraded"`
}

// Controller runs the sampling loop. Idle until Start, back to Idle on
// Stop or fatal source failure; nothing persists across sessions.
type Controller struct {
	source     FrameSource
	classifier classify.Classifier
	stats      *emostats.Aggregator
	onResult   ResultFunc
	onHealth   HealthFunc

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	parent   context.Context
	reconfig chan Options
	opts     Options
	wg       sync.WaitGroup

	// Capacity-1 request slot: taken for the whole life of a dispatch.
	inFlight atomic.Bool
	// Session generation: late results from a previous session fail
	// the generation check and are discarded.
	generation atomic.Uint64

	ticks      atomic.Uint64
	skipped    atomic.Uint64
	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	discarded  atomic.Uint64

	consecutiveFailures atomic.Int64
	degraded            atomic.Bool
	sourceDown          atomic.Int64
}

// New creates a controller. The session starts Idle.
func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("frame source is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("aggregator is required")
	}

	return &Controller{
		source:     cfg.Source,
		classifier: cfg.Classifier,
		stats:      cfg.Stats,
		onResult:   cfg.OnResult,
		onHealth:   cfg.OnHealth,
		opts:       cfg.Defaults.withDefaults(),
	}, nil
}

// Start transitions Idle to Running. Non-zero fields in opts override
// the configured defaults for this and later sessions. Start waits for
// the frame source to be ready, bounded by ReadyWait; a source that
// never readies leaves the controller Idle.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	if opts.Quality > 1 {
		return fmt.Errorf("invalid quality %.2f: must be in (0, 1]", opts.Quality)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("capture already running")
	}
	c.opts = c.opts.merge(opts)
	effective := c.opts
	c.running = true
	c.mu.Unlock()

	select {
	case <-c.source.Ready():
	case <-time.After(effective.ReadyWait):
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("frame source not ready after %v", effective.ReadyWait)
	case <-ctx.Done():
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}

	gen := c.generation.Add(1)
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.parent = ctx
	c.cancel = cancel
	c.reconfig = make(chan Options, 1)
	reconfig := c.reconfig
	c.mu.Unlock()

	c.sourceDown.Store(0)
	c.consecutiveFailures.Store(0)

	c.wg.Add(1)
	go c.run(runCtx, gen, effective, reconfig)

	slog.Info("capture started",
		"period", effective.Period,
		"quality", effective.Quality,
		"dispatch_timeout", effective.DispatchTimeout,
		"generation", gen,
	)

	return nil
}

// Stop transitions Running to Idle: the ticker stops immediately, the
// statistic table resets, and an in-flight dispatch is left to finish
// on its own — its late result fails the generation check and is
// discarded. Idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.reconfig = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	c.stats.Reset()

	slog.Info("capture stopped",
		"ticks", c.ticks.Load(),
		"skipped_busy", c.skipped.Load(),
		"succeeded", c.succeeded.Load(),
		"failed", c.failed.Load(),
		"discarded_late", c.discarded.Load(),
	)

	return nil
}

// IsRunning reports whether a session is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetPeriod updates the sampling period. A running session picks the
// change up on its next tick.
func (c *Controller) SetPeriod(d time.Duration) error {
	if d < 50*time.Millisecond || d > time.Hour {
		return fmt.Errorf("invalid period %v: must be between 50ms and 1h", d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Period = d
	c.pushReconfigLocked()
	return nil
}

// SetQuality updates the JPEG encode quality in (0, 1]. A running
// session picks the change up on its next encode.
func (c *Controller) SetQuality(q float64) error {
	if q <= 0 || q > 1 {
		return fmt.Errorf("invalid quality %.2f: must be in (0, 1]", q)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Quality = q
	c.pushReconfigLocked()
	return nil
}

func (c *Controller) pushReconfigLocked() {
	if !c.running || c.reconfig == nil {
		return
	}
	select {
	case <-c.reconfig:
	default:
	}
	c.reconfig <- c.opts
}

// Snapshot returns current controller counters.
func (c *Controller) Snapshot() Stats {
	c.mu.Lock()
	running := c.running
	opts := c.opts
	c.mu.Unlock()

	return Stats{
		Running:             running,
		PeriodMS:            opts.Period.Milliseconds(),
		Quality:             opts.Quality,
		Ticks:               c.ticks.Load(),
		SkippedBusy:         c.skipped.Load(),
		Dispatched:          c.dispatched.Load(),
		Succeeded:           c.succeeded.Load(),
		Failed:              c.failed.Load(),
		DiscardedLate:       c.discarded.Load(),
		ConsecutiveFailures: c.consecutiveFailures.Load(),
		Degraded:            c.degraded.Load(),
	}
}

// run owns the ticker until the session context is cancelled.
func (c *Controller) run(ctx context.Context, gen uint64, opts Options, reconfig <-chan Options) {
	defer c.wg.Done()

	ticker := time.NewTicker(opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("capture loop exiting", "generation", gen)
			return
		case next := <-reconfig:
			if next.Period != opts.Period {
				ticker.Reset(next.Period)
				slog.Info("capture period updated", "old", opts.Period, "new", next.Period)
			}
			if next.Quality != opts.Quality {
				slog.Info("capture quality updated", "old", opts.Quality, "new", next.Quality)
			}
			opts = next
		case <-ticker.C:
			c.tick(gen, opts)
		}
	}
}

// tick runs one sampling step: slot check, snapshot, encode, dispatch.
func (c *Controller) tick(gen uint64, opts Options) {
	c.ticks.Add(1)

	if !c.inFlight.CompareAndSwap(false, true) {
		n := c.skipped.Add(1)
		slog.Debug("dispatch in flight, tick skipped", "skipped_total", n)
		return
	}

	if stats := c.source.Stats(); !stats.Connected {
		c.inFlight.Store(false)
		down := c.sourceDown.Add(1)
		slog.Warn("frame source disconnected", "ticks_down", down)
		if down == sourceDownLimit {
			slog.Error("frame source lost, stopping capture", "ticks_down", down)
			go c.Stop()
		}
		return
	}
	c.sourceDown.Store(0)

	frame, err := c.source.Snapshot()
	if err != nil {
		c.inFlight.Store(false)
		slog.Debug("no frame for tick", "error", err)
		return
	}

	img, err := frame.RGBA()
	if err != nil {
		c.inFlight.Store(false)
		slog.Warn("frame unusable, tick discarded", "error", err)
		return
	}

	var buf bytes.Buffer
	q := int(math.Round(opts.Quality * 100))
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		c.inFlight.Store(false)
		slog.Warn("jpeg encode failed, tick discarded", "error", err, "seq", frame.Seq)
		return
	}

	c.dispatched.Add(1)
	go c.dispatch(gen, frame, img, buf.Bytes(), opts)
}

// dispatch sends one frame to the classifier and applies the result if
// the session it belongs to is still the current one.
func (c *Controller) dispatch(gen uint64, frame types.Frame, img *image.RGBA, jpegData []byte, opts Options) {
	defer c.inFlight.Store(false)

	// The timeout derives from the process context, not the session:
	// stopping the session must not cancel remote work already paid for.
	c.mu.Lock()
	parent := c.parent
	c.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.DispatchTimeout)
	defer cancel()

	started := time.Now()
	result, err := c.classifier.Classify(ctx, jpegData)
	if err != nil {
		c.dispatchFailed(err, frame, opts)
		return
	}

	if c.generation.Load() != gen || !c.IsRunning() {
		n := c.discarded.Add(1)
		slog.Debug("late result discarded", "seq", frame.Seq, "discarded_total", n)
		return
	}

	c.succeeded.Add(1)
	if c.consecutiveFailures.Swap(0) > 0 && c.degraded.CompareAndSwap(true, false) {
		slog.Info("classifier recovered")
		if c.onHealth != nil {
			c.onHealth(false)
		}
	}

	// Render first, then fold into statistics.
	annotated := overlay.Render(img, result.Subjects)
	c.stats.Update(result.Subjects)

	if c.onResult != nil {
		c.onResult(annotated, frame, result)
	}

	slog.Debug("frame classified",
		"seq", frame.Seq,
		"subjects", result.NumSubjects,
		"elapsed", time.Since(started),
		"trace_id", frame.TraceID,
	)
}

func (c *Controller) dispatchFailed(err error, frame types.Frame, opts Options) {
	c.failed.Add(1)
	consecutive := c.consecutiveFailures.Add(1)

	slog.Warn("classification failed, tick discarded",
		"error", err,
		"seq", frame.Seq,
		"consecutive", consecutive,
	)

	if opts.MaxConsecutiveFailures > 0 && consecutive == int64(opts.MaxConsecutiveFailures) {
		slog.Error("classifier failing repeatedly",
			"consecutive", consecutive,
			"stop_on_failures", opts.StopOnFailures,
		)
		if c.degraded.CompareAndSwap(false, true) && c.onHealth != nil {
			c.onHealth(true)
		}
		if opts.StopOnFailures {
			go c.Stop()
		}
	}
}
