package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// Mock is a scripted classifier for tests and --mock runs. The zero
// value returns an empty result instantly; fields shape the behavior:
// a fixed result, a fixed error, simulated latency, or never resolving
// at all (the caller's deadline becomes the only way out).
type Mock struct {
	mu      sync.Mutex
	Result  types.DetectionResult
	Err     error
	Latency time.Duration
	Never   bool

	calls atomic.Int64
}

// Classify returns the scripted response after the scripted latency.
func (m *Mock) Classify(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	m.calls.Add(1)

	m.mu.Lock()
	result, scriptedErr := m.Result, m.Err
	latency, never := m.Latency, m.Never
	m.mu.Unlock()

	var zero types.DetectionResult

	if never {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", ErrDispatchTimeout, ctx.Err())
		}
		return zero, fmt.Errorf("%w: %v", ErrDispatchFailed, ctx.Err())
	}

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w: %v", ErrDispatchTimeout, ctx.Err())
			}
			return zero, fmt.Errorf("%w: %v", ErrDispatchFailed, ctx.Err())
		}
	}

	if scriptedErr != nil {
		return zero, scriptedErr
	}
	return result, nil
}

// Set swaps the scripted result/error mid-test.
func (m *Mock) Set(result types.DetectionResult, err error) {
	m.mu.Lock()
	m.Result, m.Err = result, err
	m.mu.Unlock()
}

// Calls reports how many dispatches reached the mock.
func (m *Mock) Calls() int64 { return m.calls.Load() }

// Close implements Classifier.
func (m *Mock) Close() error { return nil }
