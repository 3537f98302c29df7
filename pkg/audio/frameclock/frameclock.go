// Package frameclock derives fixed-duration audio frames from a continuous
// sample source on a real-time cadence.
//
// Two implementations share the [Clock] interface:
//
//   - [FileClock] emits frames from a decoded in-memory buffer on a
//     self-correcting timer: it tracks the expected fire time of every tick
//     and shortens the next delay by however late the previous tick ran, so
//     slow callbacks never accumulate into cadence drift.
//   - [LiveClock] slices frames out of a [audio.CaptureSource] stream as
//     samples arrive. No local timer is involved — the capture device drives
//     the cadence — and each emitted frame's RMS level is reported on a side
//     channel for metering.
//
// Both clocks own the stream's source position: it advances by exactly one
// frame duration per emitted frame, a padded final frame still counting as a
// full tick.
package frameclock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/traduvox/pkg/audio"
)

// ErrRunning is returned by Start when the clock is already emitting.
var ErrRunning = errors.New("frameclock: already running")

// Config holds the frame geometry shared by both clock variants.
type Config struct {
	// SampleRate in Hz. Defaults to [audio.DefaultSampleRate].
	SampleRate int

	// FrameDuration is the length of one emitted frame. Defaults to
	// [audio.DefaultFrameDuration].
	FrameDuration time.Duration

	// Limit truncates a file source to its first Limit of audio. Zero means
	// the whole source. Ignored by [LiveClock].
	Limit time.Duration

	// FlushPartialOnStop controls whether a live clock zero-pads and emits a
	// residual short buffer when capture ends mid-frame, matching file
	// semantics. Ignored by [FileClock] (a file's short tail is always
	// padded and emitted).
	FlushPartialOnStop bool
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = audio.DefaultFrameDuration
	}
	return c
}

func (c Config) frameSamples() int {
	return audio.FrameSamples(c.SampleRate, c.FrameDuration)
}

// Clock emits fixed-duration frames and tracks the source position.
//
// Start begins emission; onFrame is invoked once per frame in source order
// and onComplete exactly once when the source is exhausted. Stop cancels any
// pending tick synchronously: once Stop returns, onFrame will not fire again.
// Stop is idempotent and a no-op after completion. Callbacks must not call
// Stop — it waits for the emission goroutine to exit.
type Clock interface {
	Start(ctx context.Context, onFrame func(audio.AudioFrame), onComplete func()) error
	Stop()

	// SourcePosition returns framesEmitted × frameDuration.
	SourcePosition() time.Duration

	// FramesEmitted returns the number of frames emitted so far.
	FramesEmitted() int
}

var (
	_ Clock = (*FileClock)(nil)
	_ Clock = (*LiveClock)(nil)
)

// ─── FileClock ───────────────────────────────────────────────────────────────

// FileClock streams a decoded sample buffer at real-time speed.
type FileClock struct {
	samples []int16
	cfg     Config

	mu        sync.Mutex
	running   bool
	completed bool
	stopping  bool
	done      chan struct{}
	emitted   int
	position  time.Duration

	wg sync.WaitGroup
}

// NewFileClock creates a clock over decoded mono samples at cfg.SampleRate.
// A non-zero cfg.Limit truncates the source before streaming begins.
func NewFileClock(samples []int16, cfg Config) *FileClock {
	cfg = cfg.withDefaults()
	if cfg.Limit > 0 {
		maxSamples := int(int64(cfg.SampleRate) * int64(cfg.Limit) / int64(time.Second))
		if maxSamples < len(samples) {
			samples = samples[:maxSamples]
		}
	}
	return &FileClock{samples: samples, cfg: cfg}
}

// TotalFrames returns the number of frames the source will produce, counting
// the padded final frame.
func (c *FileClock) TotalFrames() int {
	fs := c.cfg.frameSamples()
	return (len(c.samples) + fs - 1) / fs
}

// Start begins emission. The first frame is emitted immediately with no
// delay — the baseline for measuring fixed startup latency — and subsequent
// frames follow the self-correcting cadence. Returns [ErrRunning] if already
// emitting.
func (c *FileClock) Start(ctx context.Context, onFrame func(audio.AudioFrame), onComplete func()) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	c.running = true
	c.completed = false
	c.stopping = false
	c.emitted = 0
	c.position = 0
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, done, onFrame, onComplete)
	return nil
}

func (c *FileClock) run(ctx context.Context, done chan struct{}, onFrame func(audio.AudioFrame), onComplete func()) {
	defer c.wg.Done()

	interval := c.cfg.FrameDuration
	timer := time.NewTimer(0) // frame 0 fires immediately
	defer timer.Stop()

	expected := time.Now()

	for i := 0; ; i++ {
		select {
		case <-done:
			c.setStopped()
			return
		case <-ctx.Done():
			c.setStopped()
			return
		case <-timer.C:
		}

		frame, last := c.frameAt(i)
		if frame == nil {
			c.complete(onComplete)
			return
		}

		onFrame(audio.AudioFrame{
			Data:       audio.Int16ToBytes(frame),
			SampleRate: c.cfg.SampleRate,
			Channels:   1,
			Timestamp:  time.Duration(i) * interval,
		})
		c.advance()

		if last {
			c.complete(onComplete)
			return
		}

		// Self-correcting cadence: the next tick is due at expected+interval
		// regardless of how long onFrame took, so lateness never accumulates.
		expected = expected.Add(interval)
		delay := time.Until(expected)
		if delay < 0 {
			delay = 0
		}
		timer.Reset(delay)
	}
}

// frameAt returns the i-th frame's samples, zero-padded if it is the short
// final frame, and whether it is the last frame. Returns nil when i is past
// the end of the source.
func (c *FileClock) frameAt(i int) ([]int16, bool) {
	fs := c.cfg.frameSamples()
	start := i * fs
	if start >= len(c.samples) {
		return nil, true
	}
	end := start + fs
	if end >= len(c.samples) {
		return audio.PadTo(c.samples[start:], fs), true
	}
	return c.samples[start:end], false
}

func (c *FileClock) advance() {
	c.mu.Lock()
	c.emitted++
	c.position += c.cfg.FrameDuration
	c.mu.Unlock()
}

func (c *FileClock) complete(onComplete func()) {
	c.mu.Lock()
	already := c.completed
	c.completed = true
	c.running = false
	c.mu.Unlock()
	if !already && onComplete != nil {
		onComplete()
	}
}

func (c *FileClock) setStopped() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Stop cancels the pending tick and waits for the emission goroutine to
// exit. Safe to call at any time, from any goroutine except the clock's own
// callbacks, and any number of times.
func (c *FileClock) Stop() {
	c.mu.Lock()
	done := c.done
	stop := done != nil && !c.stopping
	if stop {
		c.stopping = true
	}
	c.mu.Unlock()
	if stop {
		close(done)
	}
	c.wg.Wait()
}

// SourcePosition implements [Clock].
func (c *FileClock) SourcePosition() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// FramesEmitted implements [Clock].
func (c *FileClock) FramesEmitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}

// ─── LiveClock ───────────────────────────────────────────────────────────────

// LiveClock assembles frames from a continuous capture stream. Incoming
// chunks — whatever their size and format — are normalised to the session
// format, accumulated in a rolling buffer, and sliced into frame-sized
// pieces as they fill.
type LiveClock struct {
	src audio.CaptureSource
	cfg Config

	mu       sync.Mutex
	running  bool
	stopping bool
	cancel   context.CancelFunc
	emitted  int
	position time.Duration

	levels chan float64

	wg sync.WaitGroup
}

// NewLiveClock creates a clock fed by src.
func NewLiveClock(src audio.CaptureSource, cfg Config) *LiveClock {
	return &LiveClock{src: src, cfg: cfg.withDefaults()}
}

// Levels returns the per-frame RMS side channel, values in [0, 1]. The
// channel is created on Start and closed when emission ends; readings are
// dropped rather than blocking emission if the reader falls behind.
func (c *LiveClock) Levels() <-chan float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels
}

// Start opens the capture source and begins slicing frames. Returns the
// source's [*audio.CaptureError] unchanged if the device cannot be opened.
func (c *LiveClock) Start(ctx context.Context, onFrame func(audio.AudioFrame), onComplete func()) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	captureCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.stopping = false
	c.cancel = cancel
	c.emitted = 0
	c.position = 0
	c.levels = make(chan float64, 8)
	levels := c.levels
	c.mu.Unlock()

	if err := c.src.Start(captureCtx); err != nil {
		cancel()
		c.mu.Lock()
		c.running = false
		close(levels)
		c.mu.Unlock()
		return err
	}

	frames := audio.ConvertStream(c.src.Frames(), audio.SessionFormat(c.cfg.SampleRate))

	c.wg.Add(1)
	go c.run(frames, levels, onFrame, onComplete)
	return nil
}

func (c *LiveClock) run(frames <-chan audio.AudioFrame, levels chan float64, onFrame func(audio.AudioFrame), onComplete func()) {
	defer c.wg.Done()
	defer close(levels)

	fs := c.cfg.frameSamples()
	var residual []int16

	for frame := range frames {
		residual = append(residual, audio.BytesToInt16(frame.Data)...)
		for len(residual) >= fs {
			c.emit(residual[:fs:fs], levels, onFrame)
			residual = residual[fs:]
		}
	}

	// Capture ended. A residual short buffer is padded and emitted only when
	// configured to match file semantics.
	if len(residual) > 0 && c.cfg.FlushPartialOnStop {
		c.emit(audio.PadTo(residual, fs), levels, onFrame)
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}
}

func (c *LiveClock) emit(samples []int16, levels chan float64, onFrame func(audio.AudioFrame)) {
	c.mu.Lock()
	ts := c.position
	c.emitted++
	c.position += c.cfg.FrameDuration
	c.mu.Unlock()

	onFrame(audio.AudioFrame{
		Data:       audio.Int16ToBytes(samples),
		SampleRate: c.cfg.SampleRate,
		Channels:   1,
		Timestamp:  ts,
	})

	select {
	case levels <- audio.RMS(samples):
	default:
	}
}

// Stop cancels capture and waits for the in-flight chunks to finish slicing.
// When FlushPartialOnStop is set, the residual padded frame (if any) is
// emitted before Stop returns; after Stop returns no callback fires again.
func (c *LiveClock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	stop := cancel != nil && !c.stopping
	if stop {
		c.stopping = true
	}
	c.mu.Unlock()
	if stop {
		cancel()
		_ = c.src.Close()
	}
	c.wg.Wait()
}

// SourcePosition implements [Clock].
func (c *LiveClock) SourcePosition() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// FramesEmitted implements [Clock].
func (c *LiveClock) FramesEmitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}
