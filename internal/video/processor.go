// Package video runs offline emotion analysis: decode a local file,
// classify sampled frames, annotate every frame with the latest known
// detections and re-encode the result through an ffmpeg subprocess.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/classify"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/overlay"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/stream"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

const (
	defaultSampleEvery = 2 * time.Second
	defaultFPS         = 25

	// sampleTimeout bounds one offline classification. Offline runs
	// tolerate far more latency than the live loop.
	sampleTimeout = 30 * time.Second

	dispatchJPEGQuality = 90
)

// ProcessorConfig configures offline analysis.
type ProcessorConfig struct {
	Classifier  classify.Classifier
	FFmpegBin   string
	SampleEvery time.Duration
}

// Processor analyzes one video file at a time. Safe to use for
// multiple sequential runs; concurrent Process calls need separate
// instances only for distinct output paths.
type Processor struct {
	cfg ProcessorConfig
}

// Report is the outcome of one processed video.
type Report struct {
	OutputPath    string                    `json:"output_path"`
	FramesTotal   int                       `json:"frames_total"`
	FramesSampled int                       `json:"frames_sampled"`
	Counts        map[types.Emotion]int     `json:"counts"`
	Summary       map[types.Emotion]float64 `json:"summary"`
	Dominant      types.Emotion             `json:"dominant"`
	AudioMerged   bool                      `json:"audio_merged"`
	Elapsed       time.Duration             `json:"-"`
}

// NewProcessor creates a processor. Zero config fields fall back to
// ffmpeg on PATH and one sample every two seconds.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = defaultSampleEvery
	}
	return &Processor{cfg: cfg}
}

// Process decodes inputPath, classifies one frame per sampling interval
// and writes the annotated result to outputPath. Frames between samples
// carry the last known detections. With keepAudio the source audio
// track is merged into the output when one exists.
func (p *Processor) Process(ctx context.Context, inputPath, outputPath string, keepAudio bool) (*Report, error) {
	start := time.Now()

	if _, err := os.Stat(inputPath); err != nil {
		return nil, fmt.Errorf("input video: %w", err)
	}

	src, err := stream.NewFile(inputPath)
	if err != nil {
		return nil, err
	}
	if err := src.Start(ctx); err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer src.Stop()

	frames := src.Frames()

	var firstFrame types.Frame
	var ok bool
	select {
	case firstFrame, ok = <-frames:
		if !ok {
			return nil, fmt.Errorf("no frames decoded from %s", inputPath)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	width, height := firstFrame.Width, firstFrame.Height
	fps := src.FPS()
	if fps <= 0 {
		fps = defaultFPS
	}
	stride := int(float64(fps) * p.cfg.SampleEvery.Seconds())
	if stride < 1 {
		stride = 1
	}

	slog.Info("video processing started",
		"input", inputPath,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"fps", fps,
		"sample_stride", stride,
	)

	enc, err := startEncoder(ctx, p.cfg.FFmpegBin, outputPath, width, height, fps)
	if err != nil {
		return nil, err
	}

	var (
		framesTotal   int
		framesSampled int
		lastSubjects  []types.Subject
	)
	counts := make(map[types.Emotion]int, types.NumEmotions)
	for _, e := range types.Emotions() {
		counts[e] = 0
	}

	handleFrame := func(frame types.Frame) error {
		framesTotal++

		img, err := frame.RGBA()
		if err != nil {
			slog.Warn("skipping undecodable frame", "seq", frame.Seq, "error", err)
			return nil
		}
		if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
			slog.Warn("skipping frame with unexpected geometry", "seq", frame.Seq)
			return nil
		}

		// Intermediate frames reuse the last detections; sampled frames
		// show exactly what the classifier returned for them.
		subjects := lastSubjects
		if framesTotal%stride == 0 {
			framesSampled++
			subjects = nil

			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: dispatchJPEGQuality}); err != nil {
				slog.Warn("failed to encode sample", "seq", frame.Seq, "error", err)
			} else {
				cctx, cancel := context.WithTimeout(ctx, sampleTimeout)
				result, err := p.cfg.Classifier.Classify(cctx, buf.Bytes())
				cancel()
				if err != nil {
					slog.Warn("sample classification failed", "seq", frame.Seq, "error", err)
				} else {
					subjects = result.Subjects
					if len(result.Subjects) > 0 {
						lastSubjects = result.Subjects
					}
					for _, s := range result.Subjects {
						if s.Emotion.Valid() {
							counts[s.Emotion]++
						}
					}
				}
			}
		}

		out := img
		if len(subjects) > 0 {
			out = overlay.Render(img, subjects)
		}
		return enc.writeFrame(out.Pix)
	}

	if err := handleFrame(firstFrame); err != nil {
		enc.abort()
		return nil, fmt.Errorf("%w: %s", err, tailOf(enc.stderr.String(), 512))
	}

loop:
	for {
		select {
		case frame, more := <-frames:
			if !more {
				break loop
			}
			if err := handleFrame(frame); err != nil {
				enc.abort()
				return nil, fmt.Errorf("%w: %s", err, tailOf(enc.stderr.String(), 512))
			}
		case <-ctx.Done():
			enc.abort()
			return nil, ctx.Err()
		}
	}

	if err := enc.finish(); err != nil {
		return nil, err
	}

	outPath := outputPath
	audioMerged := false
	if keepAudio {
		merged, err := p.mergeAudio(ctx, inputPath, outputPath)
		if err != nil {
			slog.Warn("audio merge failed, keeping silent output", "error", err)
		} else {
			if err := os.Remove(outputPath); err == nil {
				slog.Debug("intermediate video removed", "path", outputPath)
			}
			outPath = merged
			audioMerged = true
		}
	}

	summary, dominant := summarize(counts)

	report := &Report{
		OutputPath:    outPath,
		FramesTotal:   framesTotal,
		FramesSampled: framesSampled,
		Counts:        counts,
		Summary:       summary,
		Dominant:      dominant,
		AudioMerged:   audioMerged,
		Elapsed:       time.Since(start),
	}

	slog.Info("video processing complete",
		"output", outPath,
		"frames_total", framesTotal,
		"frames_sampled", framesSampled,
		"dominant", dominant,
		"elapsed", report.Elapsed,
	)

	return report, nil
}

// summarize turns raw per-emotion counts into percentages rounded to
// two decimals and the dominant emotion. Ties resolve to the earliest
// emotion in canonical order; all-zero counts yield EmotionNone.
func summarize(counts map[types.Emotion]int) (map[types.Emotion]float64, types.Emotion) {
	total := 0
	for _, n := range counts {
		total += n
	}
	denominator := total
	if denominator == 0 {
		denominator = 1
	}

	summary := make(map[types.Emotion]float64, types.NumEmotions)
	dominant := types.EmotionNone
	best := 0
	for _, e := range types.Emotions() {
		n := counts[e]
		summary[e] = math.Round(float64(n)/float64(denominator)*10000) / 100
		if n > best {
			best = n
			dominant = e
		}
	}
	return summary, dominant
}

// mergeAudio copies the processed video stream and transcodes the
// source audio into it. The optional stream map tolerates sources
// without any audio track.
func (p *Processor) mergeAudio(ctx context.Context, originalPath, processedPath string) (string, error) {
	finalPath := strings.TrimSuffix(processedPath, ".mp4") + "_with_audio.mp4"

	args := []string{
		"-y",
		"-i", processedPath,
		"-i", originalPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v:0",
		"-map", "1:a:0?",
		"-shortest",
		finalPath,
	}

	cmd := exec.CommandContext(ctx, p.cfg.FFmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg audio merge: %w: %s", err, tailOf(stderr.String(), 512))
	}
	return finalPath, nil
}

// encoder pipes raw RGBA frames into an ffmpeg subprocess producing an
// H.264 MP4.
type encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
}

func startEncoder(ctx context.Context, bin, outputPath string, width, height, fps int) (*encoder, error) {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		outputPath,
	}

	enc := &encoder{cmd: exec.CommandContext(ctx, bin, args...)}
	enc.cmd.Stderr = &enc.stderr

	stdin, err := enc.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	enc.stdin = stdin

	if err := enc.cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffmpeg binary not found (install ffmpeg or set video.ffmpeg_bin): %w", err)
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return enc, nil
}

func (e *encoder) writeFrame(pix []byte) error {
	if _, err := e.stdin.Write(pix); err != nil {
		return fmt.Errorf("write frame to ffmpeg: %w", err)
	}
	return nil
}

// finish closes the input stream and waits for the encode to complete.
func (e *encoder) finish() error {
	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encode failed: %w: %s", err, tailOf(e.stderr.String(), 512))
	}
	return nil
}

// abort kills the encode and reaps the process.
func (e *encoder) abort() {
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
}

// tailOf returns at most the last n bytes of s; ffmpeg puts the useful
// part of an error at the end of its output.
func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
