package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/metrics"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/video"
)

// Video job states.
const (
	jobStateRunning   = "running"
	jobStateCompleted = "completed"
	jobStateFailed    = "failed"
)

// videoJob tracks one offline analysis request from acceptance to
// completion. Mutations happen under jobsMu; the running goroutine is
// the only writer.
type videoJob struct {
	ID         string
	Source     string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
	SignedURL  string
	Report     *video.Report
}

// jobSpec carries the resolved analyze_video parameters.
type jobSpec struct {
	Path        string
	URL         string
	SampleEvery time.Duration
	KeepAudio   bool
	Upload      bool
}

// analyzeVideo accepts an offline analysis request and runs it in the
// background. The response carries the job id; the outcome is published
// on the health topic when the job finishes.
func (e *EmotiScan) analyzeVideo(params map[string]interface{}) (map[string]interface{}, error) {
	e.mu.RLock()
	ctx := e.runCtx
	e.mu.RUnlock()
	if ctx == nil {
		return nil, fmt.Errorf("service not running")
	}

	path, _ := params["path"].(string)
	url, _ := params["url"].(string)
	if path == "" && url == "" {
		return nil, fmt.Errorf("missing path or url parameter")
	}
	if path != "" && url != "" {
		return nil, fmt.Errorf("path and url are mutually exclusive")
	}

	spec := jobSpec{
		Path:        path,
		URL:         url,
		SampleEvery: e.cfg.Video.SampleEvery(),
		KeepAudio:   true,
	}
	if v, ok := params["sample_every_ms"].(float64); ok && v > 0 {
		spec.SampleEvery = time.Duration(v) * time.Millisecond
	}
	if v, ok := params["keep_audio"].(bool); ok {
		spec.KeepAudio = v
	}
	if v, ok := params["upload"].(bool); ok {
		spec.Upload = v
	}
	if spec.Upload && !e.uploader.Enabled() {
		return nil, fmt.Errorf("upload requested but no bucket configured")
	}

	source := path
	if source == "" {
		source = url
	}

	job := &videoJob{
		ID:        uuid.New().String()[:8],
		Source:    source,
		State:     jobStateRunning,
		StartedAt: time.Now(),
	}

	e.jobsMu.Lock()
	e.jobs[job.ID] = job
	e.jobsMu.Unlock()

	e.wg.Add(1)
	go e.runVideoJob(ctx, job, spec)

	slog.Info("video job accepted", "job_id", job.ID, "source", source)

	return map[string]interface{}{
		"job_id": job.ID,
		"state":  job.State,
	}, nil
}

// runVideoJob executes one job end to end and records its outcome.
func (e *EmotiScan) runVideoJob(ctx context.Context, job *videoJob, spec jobSpec) {
	defer e.wg.Done()

	report, signedURL, err := e.executeVideoJob(ctx, job.ID, spec)

	e.jobsMu.Lock()
	job.FinishedAt = time.Now()
	if err != nil {
		job.State = jobStateFailed
		job.Error = err.Error()
	} else {
		job.State = jobStateCompleted
		job.Report = report
		job.SignedURL = signedURL
	}
	state := job.State
	e.jobsMu.Unlock()

	metrics.RecordVideoJob(state)

	if err != nil {
		slog.Error("video job failed", "job_id", job.ID, "error", err)
	} else {
		slog.Info("video job completed",
			"job_id", job.ID,
			"output", report.OutputPath,
			"frames_sampled", report.FramesSampled,
			"dominant", report.Dominant,
		)
	}

	e.publishJobResult(job, report, signedURL, err)
}

// executeVideoJob resolves the input, processes it and optionally
// uploads the annotated result.
func (e *EmotiScan) executeVideoJob(ctx context.Context, id string, spec jobSpec) (*video.Report, string, error) {
	if err := os.MkdirAll(e.cfg.Video.Workdir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create workdir: %w", err)
	}

	inputPath := spec.Path
	if spec.URL != "" {
		downloaded, err := video.DownloadYouTube(ctx, spec.URL, video.DownloadOptions{
			Workdir:  e.cfg.Video.Workdir,
			YTDLPBin: e.cfg.Video.YTDLPBin,
		})
		if err != nil {
			return nil, "", fmt.Errorf("download: %w", err)
		}
		defer os.Remove(downloaded)
		inputPath = downloaded
	}

	outputPath := filepath.Join(e.cfg.Video.Workdir, "processed_"+id+".mp4")

	proc := video.NewProcessor(video.ProcessorConfig{
		Classifier:  e.classifier,
		FFmpegBin:   e.cfg.Video.FFmpegBin,
		SampleEvery: spec.SampleEvery,
	})

	report, err := proc.Process(ctx, inputPath, outputPath, spec.KeepAudio)
	if err != nil {
		return nil, "", err
	}

	var signedURL string
	if spec.Upload {
		signedURL, err = e.uploader.Upload(ctx, report.OutputPath)
		if err != nil {
			// The analysis itself succeeded; report it without a link.
			slog.Error("result upload failed", "job_id", id, "error", err)
		} else if err := os.Remove(report.OutputPath); err == nil {
			slog.Debug("local result removed after upload", "path", report.OutputPath)
		}
	}

	return report, signedURL, nil
}

// publishJobResult announces the job outcome on the health topic.
func (e *EmotiScan) publishJobResult(job *videoJob, report *video.Report, signedURL string, jobErr error) {
	event := map[string]interface{}{
		"instance_id": e.cfg.InstanceID,
		"event":       "video_job_finished",
		"job_id":      job.ID,
		"state":       job.State,
		"ts":          time.Now().UTC().Format(time.RFC3339),
	}
	if jobErr != nil {
		event["error"] = jobErr.Error()
	} else {
		event["summary"] = report.Summary
		event["dominant"] = report.Dominant
		event["frames_analyzed"] = report.FramesSampled
		event["duration_s"] = round2(report.Elapsed.Seconds())
		if signedURL != "" {
			event["url"] = signedURL
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := e.emitter.PublishHealth(payload); err != nil {
		slog.Debug("job result publish skipped", "error", err)
	}
}

// jobList snapshots all jobs for the status tree, newest first.
func (e *EmotiScan) jobList() []map[string]interface{} {
	e.jobsMu.Lock()
	defer e.jobsMu.Unlock()

	jobs := make([]*videoJob, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartedAt.After(jobs[k].StartedAt) })

	out := make([]map[string]interface{}, 0, len(jobs))
	for _, j := range jobs {
		m := map[string]interface{}{
			"job_id":     j.ID,
			"source":     j.Source,
			"state":      j.State,
			"started_at": j.StartedAt.UTC().Format(time.RFC3339),
		}
		if !j.FinishedAt.IsZero() {
			m["duration_s"] = round2(j.FinishedAt.Sub(j.StartedAt).Seconds())
		}
		if j.Error != "" {
			m["error"] = j.Error
		}
		if j.SignedURL != "" {
			m["url"] = j.SignedURL
		}
		if j.Report != nil {
			m["summary"] = j.Report.Summary
			m["dominant"] = j.Report.Dominant
			m["frames_sampled"] = j.Report.FramesSampled
		}
		out = append(out, m)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
