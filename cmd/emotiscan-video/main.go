// Command emotiscan-video runs emotion analysis over a recorded video:
// local file or YouTube URL in, annotated MP4 plus a JSON report out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/classify"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/config"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/upload"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/video"
)

const defaultConfigPath = "config/emotiscan.yaml"

// result is the report printed to stdout, extended with the upload link
// when one was produced.
type result struct {
	video.Report
	DurationS float64 `json:"duration_s"`
	URL       string  `json:"url,omitempty"`
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	input := flag.String("in", "", "Input video: local path or YouTube URL")
	output := flag.String("out", "", "Output path (default <input>_analyzed.mp4)")
	keepAudio := flag.Bool("keep-audio", true, "Copy the original audio track onto the output")
	doUpload := flag.Bool("upload", false, "Upload the result to the configured bucket")
	flag.Parse()

	// Logs on stderr, report on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: emotiscan-video -in <path|url> [-out <path>] [-keep-audio] [-upload]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if *doUpload && cfg.Upload.Bucket == "" {
		slog.Error("upload requested but no bucket configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("interrupted, stopping", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, *input, *output, *keepAudio, *doUpload); err != nil {
		slog.Error("analysis failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, input, output string, keepAudio, doUpload bool) error {
	classifier, err := buildClassifier(ctx, cfg)
	if err != nil {
		return err
	}
	defer classifier.Close()

	inputPath := input
	if strings.HasPrefix(input, "http") {
		slog.Info("downloading video", "url", input)
		inputPath, err = video.DownloadYouTube(ctx, input, video.DownloadOptions{
			Workdir:  cfg.Video.Workdir,
			YTDLPBin: cfg.Video.YTDLPBin,
		})
		if err != nil {
			return err
		}
		defer os.Remove(inputPath)
	}

	if output == "" {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		output = base + "_analyzed.mp4"
	}

	proc := video.NewProcessor(video.ProcessorConfig{
		Classifier:  classifier,
		FFmpegBin:   cfg.Video.FFmpegBin,
		SampleEvery: cfg.Video.SampleEvery(),
	})

	report, err := proc.Process(ctx, inputPath, output, keepAudio)
	if err != nil {
		return err
	}

	res := result{
		Report:    *report,
		DurationS: math.Round(report.Elapsed.Seconds()*100) / 100,
	}

	if doUpload {
		uploader := upload.NewGCS(upload.GCSConfig{
			Bucket: cfg.Upload.Bucket,
			URLTTL: cfg.Upload.URLTTL(),
		})
		url, err := uploader.Upload(ctx, report.OutputPath)
		if err != nil {
			// The local file is still there; report it without a link.
			slog.Warn("upload failed", "error", err)
		} else {
			res.URL = url
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func buildClassifier(ctx context.Context, cfg *config.Config) (classify.Classifier, error) {
	switch cfg.Classifier.Kind {
	case "http":
		return classify.NewHTTP(classify.HTTPConfig{
			BaseURL:  cfg.Classifier.HTTP.BaseURL,
			Endpoint: cfg.Classifier.HTTP.Endpoint,
		})
	case "python":
		pw, err := classify.NewPythonWorker(classify.PythonWorkerConfig{
			Script:    cfg.Classifier.Python.Script,
			PythonBin: cfg.Classifier.Python.PythonBin,
		})
		if err != nil {
			return nil, err
		}
		if err := pw.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start python worker: %w", err)
		}
		return pw, nil
	case "mock":
		return &classify.Mock{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier kind: %s", cfg.Classifier.Kind)
	}
}
