package classify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// PythonWorkerConfig configures a local subprocess classifier.
type PythonWorkerConfig struct {
	Script    string
	PythonBin string
}

// PythonWorker runs the emotion model in a Python subprocess and speaks
// length-prefixed msgpack over stdin/stdout. One request carries one JPEG
// frame; responses are matched back to callers by request id, so the
// worker itself imposes no ordering on dispatches (the capture loop's
// one-in-flight discipline lives upstream).
type PythonWorker struct {
	script    string
	pythonBin string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	writeMu sync.Mutex // serializes stdin frames

	pendingMu sync.Mutex
	pending   map[uint64]chan workerResponse

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool
	nextID atomic.Uint64

	// Stats
	requests uint64
	failures uint64

	log *slog.Logger
}

// Wire messages. The Python side mirrors these field names.
type workerRequest struct {
	ID   uint64 `msgpack:"id"`
	JPEG []byte `msgpack:"jpeg"`
}

type workerFace struct {
	ID         int                `msgpack:"id"`
	BBox       [4]int             `msgpack:"bbox"`
	Emotion    string             `msgpack:"emotion"`
	Confidence float64            `msgpack:"confidence"`
	AllProbs   map[string]float64 `msgpack:"all_probs"`
}

type workerResponse struct {
	ID       uint64       `msgpack:"id"`
	NumFaces int          `msgpack:"num_faces"`
	Results  []workerFace `msgpack:"results"`
	Error    string       `msgpack:"error"`
}

// NewPythonWorker creates a subprocess classifier. Start must be called
// before Classify.
func NewPythonWorker(cfg PythonWorkerConfig) (*PythonWorker, error) {
	if cfg.Script == "" {
		return nil, fmt.Errorf("worker script is required")
	}
	bin := cfg.PythonBin
	if bin == "" {
		bin = "python3"
	}

	return &PythonWorker{
		script:    cfg.Script,
		pythonBin: bin,
		pending:   make(map[uint64]chan workerResponse),
		log:       slog.With("component", "classifier", "kind", "python"),
	}, nil
}

// Start spawns the worker process and its reader goroutines.
func (w *PythonWorker) Start(ctx context.Context) error {
	if w.active.Load() {
		return fmt.Errorf("worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.cmd = exec.CommandContext(w.ctx, w.pythonBin, w.script)

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	w.stdin = stdin

	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	w.stdout = stdout

	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	w.stderr = stderr

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("spawn worker process: %w", err)
	}

	w.active.Store(true)

	w.wg.Add(3)
	go w.readResponses()
	go w.logStderr()
	go w.waitProcess()

	w.log.Info("python worker started",
		"script", w.script,
		"pid", w.cmd.Process.Pid,
	)

	return nil
}

// Classify sends one frame and blocks until its response, the context
// deadline, or worker shutdown.
func (w *PythonWorker) Classify(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	var zero types.DetectionResult

	if !w.active.Load() {
		return zero, fmt.Errorf("%w: worker not running", ErrDispatchFailed)
	}

	atomic.AddUint64(&w.requests, 1)

	id := w.nextID.Add(1)
	respCh := make(chan workerResponse, 1)

	w.pendingMu.Lock()
	w.pending[id] = respCh
	w.pendingMu.Unlock()
	defer func() {
		w.pendingMu.Lock()
		delete(w.pending, id)
		w.pendingMu.Unlock()
	}()

	payload, err := msgpack.Marshal(workerRequest{ID: id, JPEG: jpeg})
	if err != nil {
		atomic.AddUint64(&w.failures, 1)
		return zero, fmt.Errorf("%w: marshal request: %v", ErrDispatchFailed, err)
	}

	w.writeMu.Lock()
	err = writeWireFrame(w.stdin, payload)
	w.writeMu.Unlock()
	if err != nil {
		atomic.AddUint64(&w.failures, 1)
		return zero, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			atomic.AddUint64(&w.failures, 1)
			return zero, fmt.Errorf("%w: worker: %s", ErrDispatchFailed, resp.Error)
		}
		return resp.toResult(), nil

	case <-ctx.Done():
		atomic.AddUint64(&w.failures, 1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", ErrDispatchTimeout, ctx.Err())
		}
		return zero, fmt.Errorf("%w: %v", ErrDispatchFailed, ctx.Err())

	case <-w.ctx.Done():
		atomic.AddUint64(&w.failures, 1)
		return zero, fmt.Errorf("%w: worker shutting down", ErrDispatchFailed)
	}
}

func (r workerResponse) toResult() types.DetectionResult {
	out := types.DetectionResult{
		NumSubjects: r.NumFaces,
		Subjects:    make([]types.Subject, 0, len(r.Results)),
	}
	for _, f := range r.Results {
		out.Subjects = append(out.Subjects, types.Subject{
			ID:            f.ID,
			Box:           types.Rect{X: f.BBox[0], Y: f.BBox[1], W: f.BBox[2], H: f.BBox[3]},
			Emotion:       types.Emotion(f.Emotion),
			Confidence:    f.Confidence,
			Probabilities: f.AllProbs,
		})
	}
	return out
}

// readResponses routes worker responses back to waiting callers by id.
func (w *PythonWorker) readResponses() {
	defer w.wg.Done()

	reader := bufio.NewReader(w.stdout)
	for {
		payload, err := readWireFrame(reader)
		if err != nil {
			if err == io.EOF {
				w.log.Debug("worker stdout closed")
			} else {
				w.log.Error("worker stream broken", "error", err)
			}
			w.failAllPending()
			return
		}

		var resp workerResponse
		if err := msgpack.Unmarshal(payload, &resp); err != nil {
			w.log.Error("undecodable worker response",
				"error", err,
				"payload_bytes", len(payload),
			)
			continue
		}

		w.pendingMu.Lock()
		ch, ok := w.pending[resp.ID]
		w.pendingMu.Unlock()
		if !ok {
			// Caller gave up (deadline) before the response arrived.
			w.log.Debug("dropping response for abandoned request", "request_id", resp.ID)
			continue
		}
		ch <- resp
	}
}

// failAllPending releases every in-flight caller after the stream dies.
// Callers see the worker-shutdown error via w.ctx, so closing the worker
// context is the actual wake-up.
func (w *PythonWorker) failAllPending() {
	if w.cancel != nil {
		w.cancel()
	}
}

// logStderr relays the worker's stderr into slog, mapping Python logging
// levels onto ours.
func (w *PythonWorker) logStderr() {
	defer w.wg.Done()

	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			w.log.Error("worker log", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			w.log.Warn("worker log", "log", line)
		default:
			w.log.Debug("worker log", "log", line)
		}
	}
}

// waitProcess reaps the subprocess so it never lingers as a zombie.
func (w *PythonWorker) waitProcess() {
	defer w.wg.Done()

	if w.cmd == nil || w.cmd.Process == nil {
		return
	}

	err := w.cmd.Wait()
	if err == nil {
		w.log.Info("worker exited cleanly")
		return
	}

	// Close() flips active before cancelling, so a true flag here means
	// the process died on its own.
	if w.active.CompareAndSwap(true, false) {
		w.log.Error("worker exited unexpectedly", "error", err)
		return
	}
	w.log.Debug("worker exited on shutdown")
}

// Stats returns request/failure counters.
func (w *PythonWorker) Stats() (requests, failures uint64) {
	return atomic.LoadUint64(&w.requests), atomic.LoadUint64(&w.failures)
}

// Close stops the worker: close stdin so the script can exit on its own,
// wait briefly, then force kill. Idempotent.
func (w *PythonWorker) Close() error {
	if !w.active.CompareAndSwap(true, false) {
		return nil
	}

	w.log.Info("stopping python worker")

	if w.cancel != nil {
		w.cancel()
	}
	if w.stdin != nil {
		w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		w.log.Warn("worker stop timeout, force killing")
		if w.cmd != nil && w.cmd.Process != nil {
			if err := w.cmd.Process.Kill(); err != nil {
				w.log.Error("failed to kill worker process", "error", err)
			}
		}
	}

	requests, failures := w.Stats()
	w.log.Info("python worker stopped",
		"requests", requests,
		"failures", failures,
	)

	return nil
}
