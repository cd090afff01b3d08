package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/config"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/core"
)

const defaultConfigPath = "config/emotiscan.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useMock := flag.Bool("mock", false, "Use a synthetic source and classifier instead of the camera")
	logLevelName := flag.String("log-level", "", "Log level override (debug|info|warn|error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logLevel := cfg.SlogLevel()
	if *logLevelName != "" {
		logLevel, err = config.ParseLevel(*logLevelName)
		if err != nil {
			slog.Error("invalid log level", "error", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting emotiscan service",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"mock", *useMock,
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := core.New(cfg, *useMock)
	if err != nil {
		slog.Error("failed to create emotiscan service", "error", err)
		os.Exit(1)
	}

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("service error", "error", err)
		} else {
			slog.Info("service stopped (via MQTT shutdown command)")
		}
	}

	// Graceful shutdown
	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("emotiscan service stopped successfully")
}
