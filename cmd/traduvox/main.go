// Command traduvox is a measurement harness for speech translation gateways:
// it streams a source recording (or live capture) to the gateway as fixed
// PCM frames, plays the translated audio back gaplessly, and reports how far
// the translation lags behind the source.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/traduvox/internal/app"
	"github.com/MrWong99/traduvox/internal/config"
	"github.com/MrWong99/traduvox/internal/drift"
	"github.com/MrWong99/traduvox/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "", "override the configured input (WAV file path or \"live\")")
	duration := flag.Duration("duration", 0, "override the configured maximum run duration")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "traduvox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "traduvox: %v\n", err)
		}
		return 1
	}
	if *input != "" {
		cfg.Test.Input = *input
	}
	if *duration > 0 {
		cfg.Test.MaxDuration = *duration
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("traduvox starting",
		"config", *configPath,
		"input", cfg.Test.Input,
		"target_language", cfg.Gateway.TargetLanguage,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Before app.New so metric instruments bind to the real provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg,
		app.WithConfigPath(*configPath),
		app.WithLogLevelVar(levelVar),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("run starting — press Ctrl+C to stop early")

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}

	slog.Info("goodbye")
	if application.Result().Verdict == drift.VerdictDanger {
		return 2
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         traduvox — drift check        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Input", cfg.Test.Input)
	printField("Language", cfg.Gateway.TargetLanguage)
	printField("Gateway", cfg.Gateway.URL)
	printField("Audio", fmt.Sprintf("%d Hz / %d ms", cfg.Audio.SampleRate, cfg.Audio.FrameMS))
	printField("Muted", fmt.Sprintf("%t", cfg.Test.Muted))
	printField("Export dir", cfg.Export.Dir)
	if cfg.Export.StorePath != "" {
		printField("Run store", cfg.Export.StorePath)
	}
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
