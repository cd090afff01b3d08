package video

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/classify"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

func TestNewProcessorDefaults(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Classifier: &classify.Mock{}})

	if p.cfg.FFmpegBin != "ffmpeg" {
		t.Errorf("default ffmpeg bin = %q, want ffmpeg", p.cfg.FFmpegBin)
	}
	if p.cfg.SampleEvery != 2*time.Second {
		t.Errorf("default sample interval = %v, want 2s", p.cfg.SampleEvery)
	}
}

// TestSummarize validates the percentage rounding and the dominant
// tie-break toward canonical order.
func TestSummarize(t *testing.T) {
	counts := map[types.Emotion]int{
		types.EmotionHappy:   2,
		types.EmotionSad:     1,
		types.EmotionNeutral: 0,
	}

	summary, dominant := summarize(counts)

	if dominant != types.EmotionHappy {
		t.Errorf("dominant = %s, want happy", dominant)
	}
	if got := summary[types.EmotionHappy]; got != 66.67 {
		t.Errorf("happy = %v, want 66.67", got)
	}
	if got := summary[types.EmotionSad]; got != 33.33 {
		t.Errorf("sad = %v, want 33.33", got)
	}
	if got := summary[types.EmotionNeutral]; got != 0 {
		t.Errorf("neutral = %v, want 0", got)
	}
	if len(summary) != types.NumEmotions {
		t.Errorf("summary has %d rows, want %d", len(summary), types.NumEmotions)
	}
}

func TestSummarizeTieBreak(t *testing.T) {
	// surprise precedes fear in canonical order; equal counts must
	// resolve to surprise.
	counts := map[types.Emotion]int{
		types.EmotionSurprise: 3,
		types.EmotionFear:     3,
	}

	_, dominant := summarize(counts)
	if dominant != types.EmotionSurprise {
		t.Errorf("dominant = %s, want surprise on tie", dominant)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary, dominant := summarize(map[types.Emotion]int{})

	if dominant != types.EmotionNone {
		t.Errorf("dominant = %s, want none", dominant)
	}
	for e, pct := range summary {
		if pct != 0 {
			t.Errorf("%s = %v, want 0 with no observations", e, pct)
		}
	}
}

func TestValidateYouTubeURL(t *testing.T) {
	valid := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=abc123",
		"https://m.youtube.com/watch?v=abc123",
		"https://youtu.be/dQw4w9WgXcQ",
	}
	for _, u := range valid {
		if err := ValidateYouTubeURL(u); err != nil {
			t.Errorf("ValidateYouTubeURL(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"",
		"not a url",
		"ftp://youtube.com/watch",
		"https://vimeo.com/12345",
		"https://youtube.com.evil.example/watch?v=abc",
	}
	for _, u := range invalid {
		if err := ValidateYouTubeURL(u); err == nil {
			t.Errorf("ValidateYouTubeURL(%q) should fail", u)
		}
	}
}

func TestDownloadRejectsBadURL(t *testing.T) {
	_, err := DownloadYouTube(context.Background(), "https://vimeo.com/12345", DownloadOptions{
		Workdir: t.TempDir(),
	})
	if err == nil || !strings.Contains(err.Error(), "invalid youtube url") {
		t.Errorf("expected url validation error, got %v", err)
	}
}

func TestDownloadMissingBinary(t *testing.T) {
	_, err := DownloadYouTube(context.Background(), "https://youtu.be/dQw4w9WgXcQ", DownloadOptions{
		Workdir:  t.TempDir(),
		YTDLPBin: "definitely-not-a-real-binary",
	})
	if err == nil || !strings.Contains(err.Error(), "yt-dlp binary not found") {
		t.Errorf("expected missing binary error, got %v", err)
	}
}

func TestProcessMissingInput(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Classifier: &classify.Mock{}})

	dir := t.TempDir()
	_, err := p.Process(context.Background(),
		filepath.Join(dir, "missing.mp4"),
		filepath.Join(dir, "out.mp4"),
		false,
	)
	if err == nil || !strings.Contains(err.Error(), "input video") {
		t.Errorf("expected missing input error, got %v", err)
	}
}

func TestTailOf(t *testing.T) {
	if got := tailOf("short", 512); got != "short" {
		t.Errorf("tailOf(short) = %q", got)
	}

	long := strings.Repeat("x", 600) + "ERROR AT END"
	got := tailOf(long, 100)
	if !strings.HasPrefix(got, "...") {
		t.Errorf("long tail should be marked truncated: %q", got)
	}
	if !strings.HasSuffix(got, "ERROR AT END") {
		t.Errorf("tail lost the end of the output: %q", got)
	}
}
