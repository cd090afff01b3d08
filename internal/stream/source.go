// Package stream provides video frame sources: a live V4L2 webcam, a
// local video file, and a synthetic mock. All sources decode to packed
// RGB frames and share the same lifecycle contract so the rest of the
// pipeline never cares where pixels come from.
package stream

import (
	"context"
	"errors"
	"strings"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// Source is a video frame provider.
//
// Acquisition and readiness are distinct: Start returns once the
// pipeline is launched (or fails fast when the device cannot be
// opened), while Ready closes only after the first frame has been
// decoded. Snapshot returns ErrNotReady in between.
type Source interface {
	// Start launches the pipeline. Fails with ErrDeviceUnavailable or
	// ErrDeviceBusy when the device cannot be opened.
	Start(ctx context.Context) error
	// Ready is closed once the first frame has been decoded.
	Ready() <-chan struct{}
	// Snapshot returns the most recent decoded frame.
	Snapshot() (types.Frame, error)
	// Frames returns the live feed. Sends are non-blocking; slow
	// consumers lose frames, they never stall the pipeline.
	Frames() <-chan types.Frame
	// Stop releases the device. Idempotent; the source can be
	// restarted afterwards.
	Stop() error
	// Stats returns operational counters.
	Stats() types.StreamStats
}

var (
	// ErrDeviceUnavailable means the device node does not exist or
	// cannot be opened at all.
	ErrDeviceUnavailable = errors.New("stream: device unavailable")
	// ErrDeviceBusy means the device exists but another process holds it.
	ErrDeviceBusy = errors.New("stream: device busy")
	// ErrNotReady means no frame has been decoded yet.
	ErrNotReady = errors.New("stream: no frame decoded yet")
)

// classifyDeviceError maps a GStreamer error message onto the device
// sentinels. Returns nil for errors that are not about opening the
// device (those stay generic pipeline errors).
func classifyDeviceError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "busy"):
		return ErrDeviceBusy
	case strings.Contains(lower, "cannot identify"),
		strings.Contains(lower, "no such file"),
		strings.Contains(lower, "not found"),
		strings.Contains(lower, "could not open"):
		return ErrDeviceUnavailable
	}
	return nil
}
