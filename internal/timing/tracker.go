// Package timing records the pipeline events of a measurement run.
//
// A [Tracker] collects the two client-side event streams that bracket the
// translation pipeline: one chunk_sent entry per audio frame handed to the
// gateway and one audio_received entry per translated PCM segment that comes
// back. Every event carries its offset from the run start, which lets the
// client log be merged with the backend's own event export — the backend
// resets its reference point when the run starts, so both sides share the
// same zero.
//
// The package also provides CSV export for merged event logs and drift
// samples, and a SQLite-backed [RunStore] for keeping results across runs.
package timing

import (
	"sync"
	"time"

	"github.com/MrWong99/traduvox/pkg/audio"
)

// Event sources as they appear in the exported CSV.
const (
	SourceClient  = "client"
	SourceBackend = "backend"
)

// Client-side pipeline stages.
const (
	StageChunkSent     = "chunk_sent"
	StageAudioReceived = "audio_received"
)

// Event is a single recorded pipeline event.
type Event struct {
	// Source is the side that observed the event, SourceClient or
	// SourceBackend.
	Source string
	// Stage names the pipeline step, e.g. StageChunkSent.
	Stage string
	// Elapsed is the offset from the run start.
	Elapsed time.Duration
	// ChunkIndex is the ordinal of the frame this event belongs to. For
	// audio_received events it counts received segments instead, since the
	// gateway does not echo frame indices back.
	ChunkIndex int
	// SourcePosition is how much source audio had been sent when the event
	// was recorded.
	SourcePosition time.Duration
	// AudioBytes is the PCM payload size of the frame or segment.
	AudioBytes int
}

// Option is a functional option for configuring a [Tracker].
type Option func(*Tracker)

// WithClock overrides the wall clock used to timestamp events. Primarily
// used in tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// WithSampleRate sets the sample rate used to convert received byte counts
// into playback durations. Default: [audio.DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(t *Tracker) {
		if rate > 0 {
			t.sampleRate = rate
		}
	}
}

// Tracker records pipeline events during a measurement run.
//
// It is safe for concurrent use: chunk_sent events arrive from the frame
// clock goroutine while audio_received events arrive from the gateway read
// loop.
type Tracker struct {
	sampleRate int
	clock      func() time.Time

	mu        sync.Mutex
	started   time.Time
	events    []Event
	sent      int
	received  int
	outputDur time.Duration
}

// New constructs a Tracker. The tracker records nothing until [Tracker.Start]
// pins the run's reference time.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		sampleRate: audio.DefaultSampleRate,
		clock:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start pins the reference time all subsequent events are measured against
// and clears any previously recorded run.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = t.clock()
	t.events = nil
	t.sent = 0
	t.received = 0
	t.outputDur = 0
}

// Started reports whether a run reference time has been pinned.
func (t *Tracker) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.started.IsZero()
}

// StartedAt returns the run's reference time, or the zero time before Start.
func (t *Tracker) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Elapsed returns the time since the run started, or zero before Start.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	return t.clock().Sub(t.started)
}

// LogChunkSent records that the frame with the given index was handed to the
// gateway. sourcePos is the total source audio sent so far including this
// frame. Events logged before Start are ignored.
func (t *Tracker) LogChunkSent(index int, sourcePos time.Duration, nbytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return
	}
	t.events = append(t.events, Event{
		Source:         SourceClient,
		Stage:          StageChunkSent,
		Elapsed:        t.clock().Sub(t.started),
		ChunkIndex:     index,
		SourcePosition: sourcePos,
		AudioBytes:     nbytes,
	})
	t.sent++
}

// LogAudioReceived records a translated PCM segment arriving from the
// gateway and accumulates its playback duration. Events logged before Start
// are ignored.
func (t *Tracker) LogAudioReceived(nbytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return
	}
	t.events = append(t.events, Event{
		Source:     SourceClient,
		Stage:      StageAudioReceived,
		Elapsed:    t.clock().Sub(t.started),
		ChunkIndex: t.received,
		AudioBytes: nbytes,
	})
	t.received++
	samples := nbytes / audio.BytesPerSample
	t.outputDur += time.Duration(samples) * time.Second / time.Duration(t.sampleRate)
}

// SendCount returns the number of chunk_sent events recorded so far.
func (t *Tracker) SendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// ReceiveCount returns the number of audio_received events recorded so far.
func (t *Tracker) ReceiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

// OutputDuration returns the total playback duration of all received audio.
func (t *Tracker) OutputDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outputDur
}

// Events returns a snapshot of the recorded events in insertion order.
func (t *Tracker) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}
