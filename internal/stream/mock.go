package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
	"github.com/google/uuid"
)

// Mock generates synthetic RGB frames for tests and --mock runs.
type Mock struct {
	width  int
	height int
	fps    int

	mu        sync.RWMutex
	frames    chan types.Frame
	stopCh    chan struct{}
	ready     chan struct{}
	readyOnce *sync.Once
	wg        sync.WaitGroup

	latest    types.Frame
	latestSet bool

	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMock creates a mock source emitting fps synthetic frames per second.
func NewMock(width, height, fps int) *Mock {
	if fps <= 0 {
		fps = 15
	}
	return &Mock{
		width:     width,
		height:    height,
		fps:       fps,
		frames:    make(chan types.Frame, frameBuffer),
		stopCh:    make(chan struct{}),
		ready:     make(chan struct{}),
		readyOnce: &sync.Once{},
	}
}

// Start begins generating frames.
func (m *Mock) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("stream already started")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("mock stream starting",
		"resolution", fmt.Sprintf("%dx%d", m.width, m.height),
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)

	return nil
}

// Ready is closed once the first frame has been generated.
func (m *Mock) Ready() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Snapshot returns the most recent generated frame.
func (m *Mock) Snapshot() (types.Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.latestSet {
		return types.Frame{}, ErrNotReady
	}
	return m.latest, nil
}

// Frames returns the frames channel.
func (m *Mock) Frames() <-chan types.Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames
}

// Stop stops frame generation. Idempotent and restartable.
func (m *Mock) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()

	m.mu.Lock()
	close(m.frames)
	m.isRunning = false
	m.latestSet = false
	m.frames = make(chan types.Frame, frameBuffer)
	m.stopCh = make(chan struct{})
	m.ready = make(chan struct{})
	m.readyOnce = &sync.Once{}
	emitted := m.framesEmitted
	startTime := m.startTime
	m.mu.Unlock()

	slog.Info("mock stream stopped",
		"frames_emitted", emitted,
		"duration", time.Since(startTime),
	)

	return nil
}

// Stats returns stream statistics.
func (m *Mock) Stats() types.StreamStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.isRunning && m.framesEmitted > 0 {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return types.StreamStats{
		Connected:  m.isRunning,
		FPSReal:    fpsReal,
		FrameCount: m.framesEmitted,
		Resolution: fmt.Sprintf("%dx%d", m.width, m.height),
	}
}

// generateFrames emits synthetic frames at the target rate.
func (m *Mock) generateFrames(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(m.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame()

			m.mu.Lock()
			m.latest = frame
			m.latestSet = true
			m.framesEmitted++
			once := m.readyOnce
			ready := m.ready
			frames := m.frames
			m.mu.Unlock()

			once.Do(func() { close(ready) })

			select {
			case frames <- frame:
			default:
			}
		}
	}
}

// createFrame builds a synthetic RGB frame with a moving gradient so
// consumers exercise real pixel data rather than a black rectangle.
func (m *Mock) createFrame() types.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	data := make([]byte, m.width*m.height*3)
	shift := byte(seq % 256)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			i := (y*m.width + x) * 3
			data[i] = byte(x) + shift
			data[i+1] = byte(y)
			data[i+2] = shift
		}
	}

	return types.Frame{
		Data:      data,
		Width:     m.width,
		Height:    m.height,
		Timestamp: time.Now(),
		Seq:       seq,
		TraceID:   uuid.New().String(),
	}
}

var _ Source = (*Mock)(nil)
