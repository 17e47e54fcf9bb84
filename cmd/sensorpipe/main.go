// Package main implements the sensorpipe entry point: it loads the YAML
// configuration, registers the builtin stage catalog, and drives the
// engine until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sensorpipe/sensorpipe/builtin"
	"github.com/sensorpipe/sensorpipe/config"
	"github.com/sensorpipe/sensorpipe/engine"
	"github.com/sensorpipe/sensorpipe/metric"
	"github.com/sensorpipe/sensorpipe/monitor"
	"github.com/sensorpipe/sensorpipe/plugin"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sensorpipe"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags and env vars override the config's logging section.
	level := cliCfg.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	format := cliCfg.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	logger := setupLogger(level, format)
	slog.SetDefault(logger)
	slog.Info("starting sensorpipe",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"pipelines", len(cfg.Pipelines))

	registry := plugin.NewRegistry(logger)
	if err := builtin.Register(registry); err != nil {
		return fmt.Errorf("register builtin stages: %w", err)
	}

	eng, metricServer, err := buildEngine(cfg, registry, logger)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		if result := eng.Validate(); !result.OK() {
			for _, issue := range result.Errors {
				slog.Error("validation error",
					"pipeline", issue.PipelineID, "kind", issue.Kind, "type", issue.Type, "message", issue.Message)
			}
			return fmt.Errorf("configuration invalid: %d errors", len(result.Errors))
		}
		slog.Info("configuration is valid")
		return nil
	}

	if metricServer != nil {
		if err := metricServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricServer.Stop() }()
		slog.Info("metrics server listening", "url", metricServer.Address())
	}

	return runWithSignalHandling(eng)
}

// buildEngine assembles the engine and its optional metrics listener.
func buildEngine(cfg *config.Config, registry *plugin.Registry, logger *slog.Logger) (*engine.Engine, *metric.Server, error) {
	if cfg.System.DataDir != "" {
		if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	metrics := metric.NewRegistry()
	mon := monitor.New(cfg.System.MonitorInterval.Std(), logger)

	eng, err := engine.New(cfg, engine.Deps{
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
		Monitor:  mon,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}

	var metricServer *metric.Server
	if cfg.System.MetricsAddr != "" {
		metricServer = metric.NewServer(cfg.System.MetricsAddr, "", metrics)
	}
	return eng, metricServer, nil
}

// runWithSignalHandling runs the engine until SIGINT or SIGTERM.
func runWithSignalHandling(eng *engine.Engine) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := eng.Setup(); err != nil {
		return fmt.Errorf("engine setup: %w", err)
	}
	if err := eng.Start(signalCtx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	slog.Info("sensorpipe started")

	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	if err := eng.Stop(); err != nil {
		return fmt.Errorf("engine stop: %w", err)
	}
	slog.Info("sensorpipe shutdown complete")
	return nil
}
