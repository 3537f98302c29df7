// Package app wires all traduvox subsystems into a running application:
// the gateway session, playback chain, frame source, run store, drift
// monitor, and the optional debug HTTP server. It owns component lifecycle
// end to end — main only parses flags, loads config, and hands over.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/traduvox/internal/config"
	"github.com/MrWong99/traduvox/internal/drift"
	"github.com/MrWong99/traduvox/internal/health"
	"github.com/MrWong99/traduvox/internal/observe"
	"github.com/MrWong99/traduvox/internal/timing"
	"github.com/MrWong99/traduvox/pkg/audio"
	"github.com/MrWong99/traduvox/pkg/audio/frameclock"
	"github.com/MrWong99/traduvox/pkg/audio/playback"
	"github.com/MrWong99/traduvox/pkg/translate"
	"github.com/MrWong99/traduvox/pkg/translate/gateway"
)

// App holds every long-lived component of a traduvox process. Construct it
// with New, drive a measurement with Run, and release everything with
// Shutdown.
type App struct {
	cfg *config.Config

	session translate.Session
	backend drift.BackendControl
	sink    audio.Sink
	player  *playback.Scheduler
	source  audio.CaptureSource
	clock   frameclock.Clock
	store   *timing.RunStore
	tracker *timing.Tracker
	metrics *observe.Metrics
	monitor *drift.Monitor
	watcher *config.Watcher

	configPath     string
	levelVar       *slog.LevelVar
	sourceDuration time.Duration

	closers  []func() error
	stopOnce sync.Once
}

// Option adjusts how New assembles the application. Primarily used in tests
// to swap real components for mocks.
type Option func(*App)

// WithSession replaces the gateway-backed translation session.
func WithSession(s translate.Session) Option {
	return func(a *App) { a.session = s }
}

// WithSink replaces the playback output sink.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithClock replaces the frame source entirely, bypassing both WAV decoding
// and live capture.
func WithClock(c frameclock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithCaptureSource provides the device-backed source used when the
// configured input is "live".
func WithCaptureSource(s audio.CaptureSource) Option {
	return func(a *App) { a.source = s }
}

// WithStore replaces the run store.
func WithStore(s *timing.RunStore) Option {
	return func(a *App) { a.store = s }
}

// WithConfigPath enables hot reload: the file at path is watched and
// hot-appliable changes (log level, mute, target language) take effect
// without a restart.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevelVar hands the app the level var backing the process logger so
// config reloads can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// New assembles an App from cfg. Components are constructed but idle; no
// gateway connection is made until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: cfg must not be nil")
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	// ── 1. Gateway session ──
	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init gateway session: %w", err)
	}

	// ── 2. Playback chain ──
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 3. Frame source ──
	if err := a.initFrameSource(); err != nil {
		return nil, fmt.Errorf("app: init frame source: %w", err)
	}

	// ── 4. Run store ──
	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init run store: %w", err)
	}

	// ── 5. Drift monitor ──
	if err := a.initMonitor(); err != nil {
		return nil, fmt.Errorf("app: init drift monitor: %w", err)
	}

	// ── 6. Config watcher ──
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	return a, nil
}

func (a *App) initSession() error {
	if a.session != nil {
		// Injected sessions that also speak the REST control API get the
		// backend role too.
		if bc, ok := a.session.(drift.BackendControl); ok {
			a.backend = bc
		}
		return nil
	}

	gw := a.cfg.Gateway
	client, err := gateway.New(gw.URL,
		gateway.WithPingInterval(gw.PingInterval),
		gateway.WithReconnectPolicy(gateway.ReconnectPolicy{
			InitialDelay: gw.Reconnect.InitialDelay,
			MaxDelay:     gw.Reconnect.MaxDelay,
			Factor:       gw.Reconnect.Factor,
			MaxAttempts:  gw.Reconnect.MaxAttempts,
		}),
	)
	if err != nil {
		return err
	}
	a.session = client
	a.backend = client
	a.closers = append(a.closers, client.Disconnect)
	slog.Info("gateway client ready", "url", gw.URL, "ping_interval", gw.PingInterval)
	return nil
}

func (a *App) initPlayback() error {
	if a.sink == nil {
		a.sink = playback.NewClockSink(a.cfg.Audio.SampleRate)
	}
	a.player = playback.New(a.sink, playback.WithSampleRate(a.cfg.Audio.SampleRate))
	a.player.SetMuted(a.cfg.Test.Muted)
	if err := a.player.Start(); err != nil {
		return err
	}
	a.closers = append(a.closers, a.player.Close)
	return nil
}

func (a *App) initFrameSource() error {
	if a.clock != nil {
		return nil
	}

	fcfg := frameclock.Config{
		SampleRate:         a.cfg.Audio.SampleRate,
		FrameDuration:      a.cfg.Audio.FrameDuration(),
		Limit:              a.cfg.Test.MaxDuration,
		FlushPartialOnStop: a.cfg.Audio.FlushPartialOnStop,
	}

	if a.cfg.Test.Input == config.InputLive {
		if a.source == nil {
			return errors.New("no capture source available for live input; stream a file instead")
		}
		a.clock = frameclock.NewLiveClock(a.source, fcfg)
		slog.Info("live capture source ready", "frame", fcfg.FrameDuration)
		return nil
	}

	samples, duration, err := audio.DecodeWAVFile(a.cfg.Test.Input, a.cfg.Audio.SampleRate)
	if err != nil {
		return err
	}
	a.sourceDuration = duration
	a.clock = frameclock.NewFileClock(samples, fcfg)
	slog.Info("source file decoded",
		"path", a.cfg.Test.Input,
		"duration", duration.Round(time.Millisecond),
		"sample_rate", a.cfg.Audio.SampleRate,
		"frame", fcfg.FrameDuration)
	return nil
}

func (a *App) initStore() error {
	if a.store != nil {
		return nil
	}
	store, err := timing.OpenStore(context.Background(), a.cfg.Export.StorePath, slog.Default())
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	if store.Enabled() {
		slog.Info("run store open", "path", a.cfg.Export.StorePath)
	}
	return nil
}

func (a *App) initMonitor() error {
	a.tracker = timing.New(timing.WithSampleRate(a.cfg.Audio.SampleRate))
	a.metrics = observe.DefaultMetrics()

	monitor, err := drift.NewMonitor(drift.Config{
		Session:        a.session,
		Backend:        a.backend,
		Clock:          a.clock,
		Player:         a.player,
		Tracker:        a.tracker,
		Metrics:        a.metrics,
		TargetLanguage: a.cfg.Gateway.TargetLanguage,
		SilenceTimeout: a.cfg.Test.SilenceTimeout,
		DrainMaxWait:   a.cfg.Test.DrainMaxWait,
	})
	if err != nil {
		return err
	}
	a.monitor = monitor
	return nil
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	watcher, err := config.NewWatcher(a.configPath, a.applyConfigChange)
	if err != nil {
		return err
	}
	a.watcher = watcher
	a.closers = append(a.closers, func() error {
		watcher.Stop()
		return nil
	})
	slog.Info("config hot reload enabled", "path", a.configPath)
	return nil
}

// applyConfigChange is the watcher callback. Only hot-appliable fields are
// acted on; everything else needs a restart and is ignored by Compare.
func (a *App) applyConfigChange(old, updated *config.Config) {
	d := config.Compare(old, updated)
	if d.Empty() {
		slog.Debug("config reloaded, no hot-appliable changes")
		return
	}
	if d.LogLevelChanged {
		if a.levelVar != nil {
			a.levelVar.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level changed in config but logger is not adjustable at runtime",
				"level", d.NewLogLevel)
		}
	}
	if d.MutedChanged {
		a.player.SetMuted(d.NewMuted)
		slog.Info("playback mute changed", "muted", d.NewMuted)
	}
	if d.TargetLanguageChanged {
		slog.Info("target language changed, takes effect on the next run",
			"target_language", d.NewTargetLanguage)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes one measurement: it starts the debug server (if configured),
// runs the monitor until the source drains or ctx is cancelled, then exports
// CSVs, persists the run, and prints a results summary. The app stays
// shutdown-ready afterwards; call Shutdown to release components.
func (a *App) Run(ctx context.Context) error {
	var srvErr chan error
	if a.cfg.Server.ListenAddr != "" {
		srv := a.debugServer()
		srvErr = make(chan error, 1)
		go func() { srvErr <- a.serveDebug(srv) }()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	slog.Info("measurement starting",
		"input", a.cfg.Test.Input,
		"target_language", a.cfg.Gateway.TargetLanguage,
		"gateway", a.cfg.Gateway.URL)

	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("app: start run: %w", err)
	}

	running := true
	for running {
		select {
		case <-ctx.Done():
			slog.Info("interrupt received, stopping run")
			a.monitor.Stop()
			running = false
		case <-a.monitor.Done():
			running = false
		case err := <-srvErr:
			// A dead debug server should not kill the measurement.
			slog.Error("debug server failed", "err", err)
			srvErr = nil
		}
	}

	result := a.monitor.Result()
	if err := a.exportResults(result); err != nil {
		return err
	}
	a.printResults(result)
	return nil
}

// Result returns the outcome of the most recently finished run.
func (a *App) Result() drift.Result {
	return a.monitor.Result()
}

func (a *App) debugServer() *http.Server {
	mux := http.NewServeMux()
	checker := health.New(
		health.GatewayChecker(a.session),
		health.StoreChecker(a.store),
	)
	checker.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *App) serveDebug(srv *http.Server) error {
	tls := a.cfg.Server.TLS
	slog.Info("debug server listening", "addr", srv.Addr, "tls", tls != nil)

	var err error
	if tls != nil {
		err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ─── Results ─────────────────────────────────────────────────────────────────

func (a *App) exportResults(result drift.Result) error {
	stamp := a.tracker.StartedAt().Format("20060102_150405")
	eventsPath := filepath.Join(a.cfg.Export.Dir, "run_"+stamp+"_events.csv")
	driftPath := filepath.Join(a.cfg.Export.Dir, "run_"+stamp+"_drift.csv")

	events := a.tracker.Events()
	samples := a.monitor.Samples()

	var g errgroup.Group
	g.Go(func() error {
		if err := timing.WriteCSVFile(eventsPath, events, result.BackendEvents); err != nil {
			return fmt.Errorf("app: export events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := timing.WriteDriftCSVFile(driftPath, samples); err != nil {
			return fmt.Errorf("app: export drift: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("run exported", "events", eventsPath, "drift", driftPath)

	if !a.store.Enabled() {
		return nil
	}

	received := 0
	for _, e := range events {
		if e.Stage == timing.StageAudioReceived {
			received += e.AudioBytes
		}
	}
	run := timing.Run{
		StartedAt:      a.tracker.StartedAt(),
		Input:          a.cfg.Test.Input,
		TargetLanguage: result.TargetLanguage,
		Duration:       result.Duration,
		ChunksSent:     result.FramesSent,
		AudioReceived:  received,
		FinalDrift:     result.FinalDrift,
		Verdict:        result.Verdict,
	}

	// The run context may already be cancelled; give persistence its own
	// deadline.
	storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := a.store.SaveRun(storeCtx, run, events, result.BackendEvents, samples)
	if err != nil {
		slog.Warn("failed to persist run", "err", err)
		return nil
	}
	slog.Info("run persisted", "run_id", id)
	return nil
}

func (a *App) printResults(result drift.Result) {
	row := func(label, value string) string {
		return fmt.Sprintf("║  %-16s: %-19s ║", label, value)
	}
	seconds := func(d time.Duration) string {
		return fmt.Sprintf("%.2f s", d.Seconds())
	}

	lines := []string{
		"╔" + strings.Repeat("═", 40) + "╗",
		"║     traduvox — measurement results     ║",
		"╠" + strings.Repeat("═", 40) + "╣",
		row("Verdict", result.Verdict),
		row("Reason", result.Reason),
		row("Final drift", seconds(result.FinalDrift)),
		row("Max drift", seconds(result.MaxDrift)),
		row("First audio", seconds(result.FirstAudioDelay)),
		row("Frames sent", fmt.Sprintf("%d", result.FramesSent)),
		row("Segments", fmt.Sprintf("%d", result.SegmentsReceived)),
		row("Source audio", seconds(result.SourceDuration)),
		row("Output audio", seconds(result.OutputDuration)),
		row("Run duration", seconds(result.Duration)),
		"╚" + strings.Repeat("═", 40) + "╝",
	}
	fmt.Println(strings.Join(lines, "\n"))
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any in-flight run and releases all components in init
// order. Safe to call more than once; only the first call does work. When
// ctx expires mid-way the remaining closers are skipped and ctx.Err is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the run first so closers find quiet components.
		a.monitor.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer failed during shutdown", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
