// Package classify is the boundary to the emotion classifier. The
// classifier is a black box that accepts one encoded image per call and
// returns subject boxes with emotion labels; everything behind the
// boundary (model choice, face filtering, thresholds) is authoritative
// and never second-guessed on this side.
package classify

import (
	"context"
	"errors"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

var (
	// ErrDispatchTimeout marks a dispatch that exceeded its deadline.
	ErrDispatchTimeout = errors.New("classify: dispatch timeout")

	// ErrDispatchFailed wraps transport, protocol and parse failures.
	ErrDispatchFailed = errors.New("classify: dispatch failed")
)

// Classifier turns one JPEG-encoded frame into a DetectionResult. The
// context carries the per-dispatch deadline; implementations map deadline
// expiry to ErrDispatchTimeout and everything else to ErrDispatchFailed.
// Must tolerate zero subjects. Latency is unbounded except for the
// caller's deadline.
type Classifier interface {
	Classify(ctx context.Context, jpeg []byte) (types.DetectionResult, error)
	Close() error
}
