// Package audio defines the PCM types, format conversion, and device
// abstractions shared by the streaming pipeline.
//
// The two device-side abstractions are:
//
//   - [CaptureSource] — a live input stream delivering PCM frames as they are
//     captured (microphone, loopback, or the simulated source in
//     audio/capture).
//   - [Sink] — the output-scheduling primitive: schedule a buffer to start at
//     an output-clock time and be notified once when it finishes playing.
//
// Implementations are provided by adapter packages; the interfaces are
// intentionally narrow so the frame clock and playback scheduler stay
// decoupled from device details, and so tests can substitute the mocks in
// audio/mock without touching hardware.
package audio

import (
	"context"
	"time"
)

// CaptureSource is a continuous input stream. Chunk sizes and formats are
// device-determined; consumers normalise with [FormatConverter] and slice
// into session frames themselves.
//
// Implementations must be safe for concurrent use.
type CaptureSource interface {
	// Start begins capture. The supplied ctx governs the capture lifetime:
	// when it is cancelled the source stops and closes its Frames channel.
	// Returns a [*CaptureError] if the device cannot be opened.
	Start(ctx context.Context) error

	// Frames returns the channel on which captured PCM arrives. The channel
	// is closed when capture ends, whether by ctx cancellation, Close, or a
	// device failure.
	Frames() <-chan AudioFrame

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// Sink is the output side: an engine with its own monotonic clock that plays
// scheduled buffers and reports their completion.
//
// Completion notifications fire exactly once per submitted buffer, in
// submission order — the playback scheduler's position accounting depends on
// this ordering contract.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Start acquires the output resource and zeroes the output clock.
	Start() error

	// Now returns the current output-clock time. The clock starts at zero on
	// Start and only advances while the sink is running.
	Now() time.Duration

	// ScheduleAt queues pcm to begin playing at output-clock time at, calling
	// done exactly once when the buffer has finished playing. Callers must
	// never schedule overlapping buffers; at is expected to be ≥ the end of
	// the previously scheduled buffer.
	ScheduleAt(pcm []int16, at time.Duration, done func())

	// SetGain scales output amplitude (0 = muted, 1 = unity). Gain changes
	// must not affect scheduling or completion timing.
	SetGain(gain float64)

	// Close stops playback and releases the output resource. Buffers not yet
	// played may be dropped; their done callbacks are not invoked after Close
	// returns. Safe to call more than once.
	Close() error
}
