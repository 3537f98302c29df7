package playback

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/traduvox/pkg/audio"
)

// Scheduler queues received PCM on an [audio.Sink] so that segments play
// back to back. Each segment is scheduled at max(end of previous segment,
// sink clock now): a segment arriving while the previous one is still
// playing waits its turn, a segment arriving after the queue drained starts
// immediately.
//
// [Scheduler.Position] reports completed playback only — it advances by a
// segment's duration when the sink signals that segment finished, never at
// enqueue time. A consumer comparing this position against how much source
// audio has been sent sees the true end-to-end lag, including time spent
// waiting for the output queue to drain.
//
// The scheduler does not own the sink; the caller remains responsible for
// closing it. All exported methods are safe for concurrent use.
type Scheduler struct {
	sink       audio.Sink
	sampleRate int

	mu            sync.Mutex
	nextAvailable time.Duration // sink-clock offset where the next segment may start
	position      time.Duration // total completed playback
	generation    uint64        // bumped by Reset to invalidate in-flight completions
	enqueued      int
	completed     int
	pending       int
	muted         bool
	closed        bool
	idle          chan struct{} // closed when pending drops to zero, then replaced
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithSampleRate sets the sample rate used to derive segment durations.
// Defaults to [audio.DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// New creates a scheduler on top of sink. The sink is borrowed, not owned:
// Close stops the scheduler but leaves the sink to its creator.
func New(sink audio.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:       sink,
		sampleRate: audio.DefaultSampleRate,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start starts the underlying sink.
func (s *Scheduler) Start() error {
	return s.sink.Start()
}

// Enqueue schedules a segment of little-endian 16-bit mono PCM for playback
// immediately after whatever is already queued. A trailing odd byte is
// dropped. Empty segments are ignored.
func (s *Scheduler) Enqueue(data []byte) {
	samples := audio.BytesToInt16(data)
	if len(samples) == 0 {
		return
	}
	dur := time.Duration(len(samples)) * time.Second / time.Duration(s.sampleRate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	at := s.nextAvailable
	if now := s.sink.Now(); now > at {
		at = now
	}
	s.nextAvailable = at + dur
	s.enqueued++
	s.pending++
	gen := s.generation
	s.mu.Unlock()

	s.sink.ScheduleAt(samples, at, func() { s.complete(gen, dur) })
}

// complete is invoked by the sink when a segment finished playing.
func (s *Scheduler) complete(gen uint64, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return // segment was scheduled before a Reset; ignore
	}
	s.position += dur
	s.completed++
	s.pending--
	if s.pending == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// Position returns the total duration of audio that has finished playing.
func (s *Scheduler) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.position
}

// Pending returns the number of segments scheduled but not yet completed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending
}

// Enqueued returns the total number of segments accepted by Enqueue.
func (s *Scheduler) Enqueued() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enqueued
}

// Completed returns the total number of segments that finished playing.
func (s *Scheduler) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.completed
}

// SetMuted silences or restores the sink output. Muting only changes gain;
// segments keep playing and completing on schedule, so the reported
// position is unaffected.
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()

	if muted {
		s.sink.SetGain(0)
	} else {
		s.sink.SetGain(1)
	}
}

// Muted reports whether the output is currently muted.
func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.muted
}

// WaitIdle blocks until every scheduled segment has completed, or until ctx
// is done. It returns immediately when nothing is pending.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.pending == 0 {
			s.mu.Unlock()
			return nil
		}
		if s.idle == nil {
			s.idle = make(chan struct{})
		}
		ch := s.idle
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset discards scheduler state between sessions: position and counters
// return to zero and completions of previously scheduled segments are
// ignored from here on. The sink clock itself is not rewound — the next
// segment simply starts at the current clock position.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.nextAvailable = 0
	s.position = 0
	s.enqueued = 0
	s.completed = 0
	s.pending = 0
	if s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// Close stops accepting segments and invalidates in-flight completions.
// The underlying sink is left open for its owner to close. Close is
// idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.generation++
	s.pending = 0
	if s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	return nil
}
