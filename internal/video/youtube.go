package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Download limits keep offline jobs bounded: anything above 480p adds
// classifier latency without adding detectable faces.
const (
	downloadFormat  = "bestvideo[height<=480]+bestaudio/best[height<=480]"
	maxDownloadSize = "500m"
)

// DownloadOptions configures the yt-dlp intake.
type DownloadOptions struct {
	Workdir  string
	YTDLPBin string
}

// DownloadYouTube fetches a video with yt-dlp into the workdir and
// returns the local path. The caller owns the file.
func DownloadYouTube(ctx context.Context, rawURL string, opts DownloadOptions) (string, error) {
	if err := ValidateYouTubeURL(rawURL); err != nil {
		return "", err
	}

	bin := opts.YTDLPBin
	if bin == "" {
		bin = "yt-dlp"
	}
	workdir := opts.Workdir
	if workdir == "" {
		workdir = os.TempDir()
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}

	outputPath := filepath.Join(workdir, fmt.Sprintf("yt_%s.mp4", uuid.New().String()[:8]))

	args := []string{
		"--format", downloadFormat,
		"--merge-output-format", "mp4",
		"--max-filesize", maxDownloadSize,
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--output", outputPath,
		rawURL,
	}

	slog.Info("youtube download starting", "url", rawURL, "path", outputPath)

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("yt-dlp binary not found (install yt-dlp or set video.ytdlp_bin): %w", err)
		}
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, tailOf(string(out), 512))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		// Oversize downloads exit zero without producing the file.
		return "", fmt.Errorf("download produced no file at %s (size limit is %s)", outputPath, maxDownloadSize)
	}

	slog.Info("youtube download complete",
		"path", outputPath,
		"size_mb", fmt.Sprintf("%.2f", float64(info.Size())/(1024*1024)),
	)
	return outputPath, nil
}

// ValidateYouTubeURL accepts only plausible YouTube links.
func ValidateYouTubeURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http") {
		return fmt.Errorf("invalid youtube url: %q", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid youtube url: %w", err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "youtu.be":
		return nil
	}
	return fmt.Errorf("invalid youtube url: host %q is not youtube", u.Hostname())
}
