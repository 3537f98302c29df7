// Package mock provides in-memory mock implementations of the
// [audio.CaptureSource] and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	sink := &mock.Sink{NowResult: 2 * time.Second}
//	sched := playback.New(sink)
//	sched.Enqueue(pcm)
//	got := sink.ScheduleAtCalls[0].At // where the segment was placed
//	sink.CompleteNext()               // simulate the segment finishing
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/traduvox/pkg/audio"
)

// ─── CaptureSource ────────────────────────────────────────────────────────────

// CaptureSource is a mock implementation of [audio.CaptureSource].
// Set the exported Result fields before use; inspect the Call* fields after.
type CaptureSource struct {
	mu sync.Mutex

	// StartError is returned by [CaptureSource.Start].
	StartError error

	// CloseError is returned by [CaptureSource.Close].
	CloseError error

	// FramesResult is the channel returned by [CaptureSource.Frames].
	// Defaults to a buffered channel (capacity 16) allocated on first use.
	FramesResult chan audio.AudioFrame

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closeOnce sync.Once
}

// Start implements [audio.CaptureSource]. Records the call and returns
// StartError.
func (s *CaptureSource) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartError
}

// Frames implements [audio.CaptureSource]. Returns FramesResult, allocating
// a buffered channel if it is nil.
func (s *CaptureSource) Frames() <-chan audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FramesResult == nil {
		s.FramesResult = make(chan audio.AudioFrame, 16)
	}
	return s.FramesResult
}

// Close implements [audio.CaptureSource]. Records the call, closes the
// frames channel (ending the stream for consumers) and returns CloseError.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	ch := s.FramesResult
	err := s.CloseError
	s.mu.Unlock()

	if ch != nil {
		s.closeOnce.Do(func() { close(ch) })
	}
	return err
}

// EmitFrame delivers a frame to consumers of [CaptureSource.Frames].
// Use this in tests to simulate captured audio.
func (s *CaptureSource) EmitFrame(f audio.AudioFrame) {
	s.mu.Lock()
	if s.FramesResult == nil {
		s.FramesResult = make(chan audio.AudioFrame, 16)
	}
	ch := s.FramesResult
	s.mu.Unlock()
	ch <- f
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// ScheduleAtCall records the arguments of a single [Sink.ScheduleAt]
// invocation.
type ScheduleAtCall struct {
	// PCM is the sample buffer passed to ScheduleAt.
	PCM []int16
	// At is the clock offset passed to ScheduleAt.
	At time.Duration
	// Done is the completion callback passed to ScheduleAt.
	Done func()
}

// Sink is a mock implementation of [audio.Sink]. Its clock never advances on
// its own: tests set NowResult to move it, and completion callbacks fire
// only when the test calls [Sink.CompleteNext] or [Sink.CompleteAll].
type Sink struct {
	mu sync.Mutex

	// StartError is returned by [Sink.Start].
	StartError error

	// CloseError is returned by [Sink.Close].
	CloseError error

	// NowResult is returned by [Sink.Now].
	NowResult time.Duration

	// ScheduleAtCalls records all ScheduleAt invocations.
	ScheduleAtCalls []ScheduleAtCall

	// SetGainCalls records the gain values passed to SetGain, in order.
	SetGainCalls []float64

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	nextDone int // index of the oldest call whose Done has not fired
}

// Start implements [audio.Sink]. Records the call and returns StartError.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartError
}

// Now implements [audio.Sink]. Returns NowResult.
func (s *Sink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NowResult
}

// SetNow sets the value returned by Now. Equivalent to writing NowResult,
// but safe while the sink is in concurrent use.
func (s *Sink) SetNow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NowResult = d
}

// ScheduleAt implements [audio.Sink]. Records the call; the done callback is
// held until the test fires it via CompleteNext or CompleteAll.
func (s *Sink) ScheduleAt(pcm []int16, at time.Duration, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScheduleAtCalls = append(s.ScheduleAtCalls, ScheduleAtCall{PCM: pcm, At: at, Done: done})
}

// SetGain implements [audio.Sink]. Records the gain value.
func (s *Sink) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetGainCalls = append(s.SetGainCalls, gain)
}

// Close implements [audio.Sink]. Records the call and returns CloseError.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// CompleteNext fires the completion callback of the oldest scheduled buffer
// that has not yet completed. Returns false if every recorded call has
// already completed.
func (s *Sink) CompleteNext() bool {
	s.mu.Lock()
	if s.nextDone >= len(s.ScheduleAtCalls) {
		s.mu.Unlock()
		return false
	}
	done := s.ScheduleAtCalls[s.nextDone].Done
	s.nextDone++
	s.mu.Unlock()

	if done != nil {
		done()
	}
	return true
}

// CompleteAll fires the completion callbacks of every scheduled buffer that
// has not yet completed, in submission order.
func (s *Sink) CompleteAll() {
	for s.CompleteNext() {
	}
}
