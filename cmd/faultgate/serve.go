package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/faultgate"
	"github.com/loykin/faultgate/internal/logger"
	"github.com/loykin/faultgate/internal/store/factory"
)

func createServeCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon with its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), global.ConfigPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg := faultgate.DefaultConfig()
	if configPath != "" {
		loaded, err := faultgate.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logCfg := logger.Config{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	if closer := logCfg.Setup(); closer != nil {
		defer func() { _ = closer.Close() }()
	}

	if cfg.Server.Metrics {
		if err := faultgate.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	// Open the configured store; degrade to in-memory rather than refuse
	// to start. Losing durability is acceptable, losing availability is not.
	st, err := factory.New(cfg.StoreSettings())
	if err != nil {
		slog.Warn("durable store unavailable; running with in-memory store", "error", err)
		st = faultgate.NewMemoryStore()
	}

	sup, err := faultgate.NewWithStore(ctx, st, probeFromConfig(cfg), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	if err := attachArchives(sup, cfg); err != nil {
		return err
	}

	sup.Start(ctx)
	srv, err := faultgate.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
	if err != nil {
		return err
	}
	slog.Info("faultgate daemon started", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		slog.Info("shutting down", "signal", s)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("server shutdown", "error", err)
	}
	return nil
}

// probeFromConfig builds the cheap health probe the daemon runs: a short
// external command such as a version query against the protected
// subsystem. Embedding applications inject their own ProbeFunc instead.
func probeFromConfig(cfg faultgate.Config) faultgate.ProbeFunc {
	probeCmd := strings.TrimSpace(cfg.Health.ProbeCommand)
	if probeCmd == "" {
		probeCmd = "systemctl --version"
	}
	return func(ctx context.Context) error {
		// #nosec G204 -- operator-supplied probe command from the config file
		return exec.CommandContext(ctx, "sh", "-c", probeCmd).Run()
	}
}

func attachArchives(sup *faultgate.Supervisor, cfg faultgate.Config) error {
	if len(cfg.Archives) == 0 {
		return nil
	}
	sinks := make([]faultgate.ArchiveSink, 0, len(cfg.Archives))
	for _, a := range cfg.Archives {
		switch a.Type {
		case "clickhouse":
			s, err := faultgate.NewClickHouseSink(a.DSN, a.Table)
			if err != nil {
				return fmt.Errorf("clickhouse archive: %w", err)
			}
			sinks = append(sinks, s)
		case "opensearch":
			sinks = append(sinks, faultgate.NewOpenSearchSink(a.DSN, a.Table))
		default:
			return fmt.Errorf("unknown archive type %q", a.Type)
		}
	}
	sup.SetArchiveSinks(sinks...)
	return nil
}
