// Package drift coordinates a translation latency measurement run.
//
// A [Monitor] streams a source recording to the translation gateway in real
// time, plays back the translated audio as it returns, and periodically
// samples how far playback lags behind the source. Drift is defined as the
// source position (audio sent so far) minus the playback position (translated
// audio that has finished playing), so it reflects what a listener actually
// experiences rather than raw network arrival times.
//
// A run moves through four states:
//
//	idle → running → draining → completed
//
// The monitor enters draining when the source is exhausted: the stream is
// stopped on the gateway side while translated audio for the tail of the
// source keeps arriving. The run completes when the gateway confirms the
// stop, when no further audio arrives for the configured silence timeout, or
// when the drain cap expires.
package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/traduvox/internal/observe"
	"github.com/MrWong99/traduvox/internal/timing"
	"github.com/MrWong99/traduvox/pkg/audio"
	"github.com/MrWong99/traduvox/pkg/audio/frameclock"
	"github.com/MrWong99/traduvox/pkg/audio/playback"
	"github.com/MrWong99/traduvox/pkg/translate"
	"github.com/MrWong99/traduvox/pkg/translate/gateway"
)

// State describes the lifecycle phase of a measurement run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateDraining  State = "draining"
	StateCompleted State = "completed"
)

// Verdicts assigned to a completed run based on its maximum drift.
const (
	VerdictOK      = "ok"
	VerdictWarning = "warning"
	VerdictDanger  = "danger"
)

// Drift thresholds for run verdicts.
const (
	warningDrift = 20 * time.Second
	dangerDrift  = 30 * time.Second
)

// Defaults for the run tunables.
const (
	DefaultSampleInterval = time.Second
	DefaultSilenceTimeout = 30 * time.Second
	DefaultDrainMaxWait   = 120 * time.Second
)

// ErrNotIdle is returned by [Monitor.Start] when a run is already in
// progress or a completed run has not been reset.
var ErrNotIdle = errors.New("drift: monitor not idle")

// BackendControl is the REST surface of the gateway used to bracket a run
// and pull the backend's own event log. Implemented by [gateway.Client].
type BackendControl interface {
	StartTest(ctx context.Context) error
	StopTest(ctx context.Context) error
	ExportEvents(ctx context.Context) ([]gateway.TestEvent, error)
}

// Config holds all dependencies needed to create a [Monitor].
//
// Required fields are Session, Clock, Player, and TargetLanguage. Backend is
// optional — a nil Backend means the run is measured client-side only,
// without the backend's event log.
type Config struct {
	// Session is the duplex gateway connection. Must not be nil.
	Session translate.Session

	// Backend brackets the run on the gateway side and exports its event
	// log when the run completes. Optional.
	Backend BackendControl

	// Clock emits fixed-duration source frames at real-time speed. Must not
	// be nil.
	Clock frameclock.Clock

	// Player schedules translated audio for gapless playback. Must not be
	// nil. The monitor resets it at the start of each run.
	Player *playback.Scheduler

	// Tracker records pipeline events. When nil a fresh tracker is created.
	Tracker *timing.Tracker

	// Metrics receives pipeline instrumentation. When nil the package-level
	// default instance is used.
	Metrics *observe.Metrics

	// Logger for run progress. When nil, slog.Default() is used.
	Logger *slog.Logger

	// TargetLanguage is the language code sent in the start_stream message,
	// e.g. "es-US". Must not be empty.
	TargetLanguage string

	// SampleInterval is the drift sampling period. Default: 1s.
	SampleInterval time.Duration

	// SilenceTimeout ends the run when no translated audio has arrived for
	// this long. Default: 30s.
	SilenceTimeout time.Duration

	// DrainMaxWait caps how long the monitor waits for trailing audio after
	// the source is exhausted. Default: 120s.
	DrainMaxWait time.Duration
}

// Result summarises a completed run.
type Result struct {
	TargetLanguage string
	// Duration is the total wall-clock length of the run.
	Duration time.Duration
	// SourceDuration is how much source audio was sent.
	SourceDuration time.Duration
	FramesSent     int
	// SegmentsReceived counts translated PCM segments that arrived.
	SegmentsReceived int
	// OutputDuration is the playback length of all received audio.
	OutputDuration time.Duration
	// FirstAudioDelay is the time from run start to the first translated
	// audio, or zero when none arrived.
	FirstAudioDelay time.Duration
	// FinalDrift is the last drift sample taken before completion.
	FinalDrift time.Duration
	// MaxDrift is the largest drift observed during the run.
	MaxDrift time.Duration
	// Verdict is VerdictOK, VerdictWarning, or VerdictDanger based on
	// MaxDrift.
	Verdict string
	// Reason states why the run ended, e.g. "drained" or "silence timeout".
	Reason string
	// BackendEvents is the backend's own event log, when a Backend was
	// configured and the export succeeded.
	BackendEvents []gateway.TestEvent
}

// Monitor orchestrates one measurement run at a time.
//
// All exported methods are safe for concurrent use. Callbacks arrive from
// the frame clock goroutine, the gateway read loop, and internal timers; the
// monitor serialises its state behind a single mutex and never invokes
// external components while holding it.
type Monitor struct {
	session translate.Session
	backend BackendControl
	clock   frameclock.Clock
	player  *playback.Scheduler
	tracker *timing.Tracker
	metrics *observe.Metrics
	log     *slog.Logger

	target         string
	sampleInterval time.Duration
	silenceTimeout time.Duration
	drainMaxWait   time.Duration

	mu            sync.Mutex
	state         State
	finishing     bool
	everConnected bool
	frameIndex    int
	sourcePos     time.Duration
	firstAudio    time.Duration
	samples       []timing.DriftSample
	result        Result
	silenceTimer  *time.Timer
	drainTimer    *time.Timer
	runCancel     context.CancelFunc
	doneCh        chan struct{}
	wg            sync.WaitGroup
}

// NewMonitor creates a [Monitor] from the given configuration.
//
// It validates that required fields are set and registers the monitor's
// callbacks on the session. Errors are prefixed with "drift: ".
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Session == nil {
		return nil, errors.New("drift: Session must not be nil")
	}
	if cfg.Clock == nil {
		return nil, errors.New("drift: Clock must not be nil")
	}
	if cfg.Player == nil {
		return nil, errors.New("drift: Player must not be nil")
	}
	if cfg.TargetLanguage == "" {
		return nil, errors.New("drift: TargetLanguage must not be empty")
	}
	if cfg.Tracker == nil {
		cfg.Tracker = timing.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.DrainMaxWait <= 0 {
		cfg.DrainMaxWait = DefaultDrainMaxWait
	}

	m := &Monitor{
		session:        cfg.Session,
		backend:        cfg.Backend,
		clock:          cfg.Clock,
		player:         cfg.Player,
		tracker:        cfg.Tracker,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		target:         cfg.TargetLanguage,
		sampleInterval: cfg.SampleInterval,
		silenceTimeout: cfg.SilenceTimeout,
		drainMaxWait:   cfg.DrainMaxWait,
		state:          StateIdle,
	}

	cfg.Session.OnAudio(m.onAudio)
	cfg.Session.OnStatus(m.onStatus)
	cfg.Session.OnError(m.onSessionError)
	cfg.Session.OnStateChange(m.onSessionState)

	return m, nil
}

// Start begins a measurement run. ctx bounds only the startup work (backend
// bracket, gateway dial); the run itself ends via its own completion
// conditions or [Monitor.Stop].
//
// Start flow:
//  1. Reset the tracker and the playback scheduler.
//  2. Bracket the run on the backend (best effort).
//  3. Connect the gateway session and send start_stream.
//  4. Start the frame clock and the drift sampler.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.state = StateRunning
	m.finishing = false
	m.frameIndex = 0
	m.sourcePos = 0
	m.firstAudio = 0
	m.samples = nil
	m.result = Result{}
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	m.tracker.Start()
	m.player.Reset()

	// 2. Backend bracket. A failure degrades the run to client-side
	// measurement instead of aborting it.
	if m.backend != nil {
		if err := m.backend.StartTest(ctx); err != nil {
			m.log.Warn("backend test bracket failed, continuing without backend events",
				slog.String("error", err.Error()))
		}
	}

	// 3. Gateway session.
	if err := m.session.Connect(ctx); err != nil {
		m.abortStart()
		return fmt.Errorf("drift: connect gateway: %w", err)
	}
	if err := m.session.SendControl(translate.StartStream(m.target)); err != nil {
		m.abortStart()
		return fmt.Errorf("drift: start stream: %w", err)
	}
	m.metrics.RecordControlMessage(ctx, "out", translate.TypeStartStream)

	// 4. Clock and sampler. The run context outlives ctx.
	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.runCancel = cancel
	m.silenceTimer = time.AfterFunc(m.silenceTimeout, m.onSilence)
	m.mu.Unlock()

	if err := m.clock.Start(runCtx, m.onFrame, m.onSourceComplete); err != nil {
		m.mu.Lock()
		m.silenceTimer.Stop()
		m.mu.Unlock()
		cancel()
		m.abortStart()
		return fmt.Errorf("drift: start clock: %w", err)
	}

	m.wg.Add(1)
	go m.sampler(runCtx)

	m.log.Info("measurement run started",
		slog.String("target_language", m.target),
		slog.Duration("sample_interval", m.sampleInterval))
	return nil
}

// abortStart rolls the monitor back to idle after a failed Start.
func (m *Monitor) abortStart() {
	_ = m.session.Disconnect()
	m.mu.Lock()
	m.state = StateIdle
	m.doneCh = nil
	m.runCancel = nil
	m.mu.Unlock()
}

// Stop ends the run early. It is safe to call from any goroutine and at any
// time; stopping an idle or completed monitor is a no-op. Stop returns once
// the run has fully wound down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	done := m.doneCh
	m.mu.Unlock()
	m.finish("stopped")
	if done != nil {
		<-done
	}
}

// Wait blocks until the run completes or ctx is cancelled.
func (m *Monitor) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.doneCh
	m.mu.Unlock()
	if done == nil {
		return errors.New("drift: monitor not started")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the current run completes. Returns nil
// before the first Start.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doneCh
}

// State returns the current lifecycle phase.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Samples returns a snapshot of the drift series recorded so far.
func (m *Monitor) Samples() []timing.DriftSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]timing.DriftSample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Result returns the run summary. Only meaningful once the run has
// completed.
func (m *Monitor) Result() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Reset returns a completed monitor to idle so it can run again.
func (m *Monitor) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning || m.state == StateDraining {
		return fmt.Errorf("drift: cannot reset while %s", m.state)
	}
	m.state = StateIdle
	m.samples = nil
	m.result = Result{}
	m.doneCh = nil
	return nil
}

// ─── Pipeline callbacks ───────────────────────────────────────────────────────

// onFrame handles one source frame from the clock: it is logged, counted,
// and forwarded to the gateway. Frames are soft-dropped by the session while
// a reconnect is in progress, which shows up as drift rather than an error.
func (m *Monitor) onFrame(frame audio.AudioFrame) {
	m.mu.Lock()
	if m.state != StateRunning || m.finishing {
		m.mu.Unlock()
		return
	}
	idx := m.frameIndex
	m.frameIndex++
	m.sourcePos += frame.Duration()
	srcPos := m.sourcePos
	m.mu.Unlock()

	m.tracker.LogChunkSent(idx, srcPos, len(frame.Data))
	if err := m.session.SendAudio(frame.Data); err != nil {
		m.log.Warn("send frame failed", slog.Int("chunk_index", idx), slog.String("error", err.Error()))
		m.metrics.RecordGatewayError(context.Background(), "send")
		return
	}
	m.metrics.RecordFrameSent(context.Background(), len(frame.Data))
}

// onAudio handles a translated PCM segment from the gateway.
func (m *Monitor) onAudio(pcm []byte) {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateDraining {
		m.mu.Unlock()
		return
	}
	if m.silenceTimer != nil {
		m.silenceTimer.Reset(m.silenceTimeout)
	}
	first := m.firstAudio == 0 && m.tracker.ReceiveCount() == 0
	m.mu.Unlock()

	m.tracker.LogAudioReceived(len(pcm))
	m.player.Enqueue(pcm)

	dur := segmentDuration(len(pcm))
	m.metrics.RecordAudioReceived(context.Background(), len(pcm), dur)
	if first {
		delay := m.tracker.Elapsed()
		m.mu.Lock()
		m.firstAudio = delay
		m.mu.Unlock()
		m.metrics.RecordFirstAudioDelay(context.Background(), delay)
		m.log.Info("first translated audio",
			slog.Duration("delay", delay),
			slog.Int("bytes", len(pcm)))
	}
}

// onSourceComplete moves the run into draining once the clock has emitted
// the whole source.
func (m *Monitor) onSourceComplete() {
	m.mu.Lock()
	if m.state != StateRunning || m.finishing {
		m.mu.Unlock()
		return
	}
	m.state = StateDraining
	m.drainTimer = time.AfterFunc(m.drainMaxWait, func() { m.finish("drain timeout") })
	srcPos := m.sourcePos
	m.mu.Unlock()

	if err := m.session.SendControl(translate.StopStream()); err != nil {
		m.log.Warn("stop stream failed", slog.String("error", err.Error()))
	}
	m.metrics.RecordControlMessage(context.Background(), "out", translate.TypeStopStream)
	m.log.Info("source exhausted, draining trailing audio",
		slog.Duration("source_duration", srcPos),
		slog.Duration("drain_max_wait", m.drainMaxWait))
}

// onSilence fires when no translated audio has arrived for the silence
// timeout. During draining this is the normal end of a run.
func (m *Monitor) onSilence() {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	switch state {
	case StateDraining:
		m.finish("drained")
	case StateRunning:
		m.finish("silence timeout")
	}
}

// onStatus handles gateway status messages. A stopped status during draining
// confirms the gateway has flushed the stream.
func (m *Monitor) onStatus(status, message string) {
	m.metrics.RecordControlMessage(context.Background(), "in", translate.TypeStatus)
	m.log.Debug("gateway status", slog.String("status", status), slog.String("message", message))
	if translate.State(status) == translate.StateStopped {
		m.mu.Lock()
		draining := m.state == StateDraining
		m.mu.Unlock()
		if draining {
			m.finish("drained")
		}
	}
}

// onSessionError handles gateway-reported errors. They are recorded but do
// not end the run — the session reconnects on its own.
func (m *Monitor) onSessionError(msg string) {
	m.metrics.RecordGatewayError(context.Background(), "gateway")
	m.log.Warn("gateway error", slog.String("message", msg))
}

// onSessionState tracks the session lifecycle. After a mid-run reconnect the
// gateway has lost the stream, so start_stream is sent again.
func (m *Monitor) onSessionState(st translate.State) {
	m.mu.Lock()
	active := m.state == StateRunning || m.state == StateDraining
	reconnecting := m.everConnected
	if st == translate.StateConnected {
		m.everConnected = true
	}
	m.mu.Unlock()

	switch st {
	case translate.StateConnecting:
		if reconnecting && active {
			m.metrics.RecordReconnect(context.Background())
		}
	case translate.StateConnected:
		if reconnecting && active {
			if err := m.session.SendControl(translate.StartStream(m.target)); err != nil {
				m.log.Warn("restart stream after reconnect failed", slog.String("error", err.Error()))
				return
			}
			m.metrics.RecordControlMessage(context.Background(), "out", translate.TypeStartStream)
			m.log.Info("stream restarted after reconnect")
		}
	}
}

// ─── Drift sampling ───────────────────────────────────────────────────────────

// sampler takes one drift reading per sample interval. The cadence is
// anchored to absolute deadlines so a slow reading does not shift later
// ones.
func (m *Monitor) sampler(ctx context.Context) {
	defer m.wg.Done()
	next := time.Now().Add(m.sampleInterval)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.sample()
		next = next.Add(m.sampleInterval)
		delay := time.Until(next)
		if delay < 0 {
			next = time.Now()
			delay = 0
		}
		timer.Reset(delay)
	}
}

// sample records one drift reading.
func (m *Monitor) sample() {
	m.mu.Lock()
	src := m.sourcePos
	m.mu.Unlock()
	play := m.player.Position()
	s := timing.DriftSample{
		Elapsed: m.tracker.Elapsed(),
		Drift:   src - play,
	}

	m.mu.Lock()
	m.samples = append(m.samples, s)
	count := len(m.samples)
	m.mu.Unlock()

	m.metrics.RecordDrift(context.Background(), s.Drift, src, play)
	m.log.Debug("drift sample",
		slog.Duration("elapsed", s.Elapsed),
		slog.Duration("drift", s.Drift),
		slog.Duration("source", src),
		slog.Duration("playback", play))
	// Visible heartbeat roughly every 10 samples so long runs show progress
	// at the default log level.
	if count%10 == 0 {
		m.log.Info("run progress",
			slog.Duration("elapsed", s.Elapsed.Round(time.Second)),
			slog.Duration("drift", s.Drift.Round(10*time.Millisecond)),
			slog.Int("frames_sent", m.tracker.SendCount()),
			slog.Int("segments_received", m.tracker.ReceiveCount()))
	}
}

// ─── Completion ───────────────────────────────────────────────────────────────

// finish winds the run down. It is idempotent; only the first caller's
// reason is kept.
func (m *Monitor) finish(reason string) {
	m.mu.Lock()
	if m.finishing || (m.state != StateRunning && m.state != StateDraining) {
		m.mu.Unlock()
		return
	}
	m.finishing = true
	wasRunning := m.state == StateRunning
	cancel := m.runCancel
	silence := m.silenceTimer
	drain := m.drainTimer
	m.mu.Unlock()

	m.clock.Stop()
	if wasRunning {
		if err := m.session.SendControl(translate.StopStream()); err != nil {
			m.log.Warn("stop stream failed", slog.String("error", err.Error()))
		}
		m.metrics.RecordControlMessage(context.Background(), "out", translate.TypeStopStream)
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	if silence != nil {
		silence.Stop()
	}
	if drain != nil {
		drain.Stop()
	}

	// Final reading after the pipeline has stopped moving.
	m.sample()

	var backendEvents []gateway.TestEvent
	if m.backend != nil {
		ctx, cancelExport := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.backend.StopTest(ctx); err != nil {
			m.log.Warn("backend test stop failed", slog.String("error", err.Error()))
		}
		events, err := m.backend.ExportEvents(ctx)
		if err != nil {
			m.log.Warn("backend event export failed", slog.String("error", err.Error()))
		} else {
			backendEvents = events
		}
		cancelExport()
	}

	if err := m.session.Disconnect(); err != nil {
		m.log.Warn("gateway disconnect failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	res := Result{
		TargetLanguage:   m.target,
		Duration:         m.tracker.Elapsed(),
		SourceDuration:   m.sourcePos,
		FramesSent:       m.tracker.SendCount(),
		SegmentsReceived: m.tracker.ReceiveCount(),
		OutputDuration:   m.tracker.OutputDuration(),
		FirstAudioDelay:  m.firstAudio,
		Reason:           reason,
		BackendEvents:    backendEvents,
	}
	if n := len(m.samples); n > 0 {
		res.FinalDrift = m.samples[n-1].Drift
	}
	for _, s := range m.samples {
		if s.Drift > res.MaxDrift {
			res.MaxDrift = s.Drift
		}
	}
	res.Verdict = verdictFor(res.MaxDrift)
	m.result = res
	m.state = StateCompleted
	done := m.doneCh
	m.mu.Unlock()

	m.log.Info("measurement run completed",
		slog.String("reason", reason),
		slog.String("verdict", res.Verdict),
		slog.Duration("duration", res.Duration),
		slog.Duration("final_drift", res.FinalDrift),
		slog.Duration("max_drift", res.MaxDrift),
		slog.Int("frames_sent", res.FramesSent),
		slog.Int("segments_received", res.SegmentsReceived))
	close(done)
}

// verdictFor maps the maximum observed drift to a run verdict.
func verdictFor(maxDrift time.Duration) string {
	switch {
	case maxDrift >= dangerDrift:
		return VerdictDanger
	case maxDrift >= warningDrift:
		return VerdictWarning
	default:
		return VerdictOK
	}
}

// segmentDuration converts a mono S16LE byte count at the session rate into
// its playback duration.
func segmentDuration(nbytes int) time.Duration {
	samples := nbytes / audio.BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(audio.DefaultSampleRate)
}
