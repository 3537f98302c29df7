// Package playback schedules received audio for gapless sequential playback
// and derives the playback position from buffer completions.
//
// [Scheduler] implements the queueing policy: each segment starts at
// max(end of previous segment, now), so consecutive segments chain without
// gaps and a late arrival starts immediately instead of stalling the chain.
// The position it reports advances only when a segment finishes playing,
// never when it is merely enqueued.
//
// [ClockSink] is the default [audio.Sink]: a wall-clock simulation of an
// output device that holds each buffer for exactly its duration before
// signalling completion. Measurement sessions do not need audible output;
// a device-backed sink only has to satisfy the same interface.
package playback

import (
	"errors"
	"sync"
	"time"
)

// ErrSinkClosed is returned by [ClockSink.Start] after Close.
var ErrSinkClosed = errors.New("playback: sink closed")

// defaultQueueCap is the initial capacity hint for the pending-segment queue.
const defaultQueueCap = 16

type clockSegment struct {
	at   time.Duration // start offset on the sink clock
	dur  time.Duration
	done func()
}

// ClockSink is a virtual output device driven by the wall clock. Each
// scheduled buffer "plays" for its real duration: the completion callback
// fires once the clock passes at+duration. Buffers complete strictly in
// submission order.
//
// All exported methods are safe for concurrent use.
type ClockSink struct {
	sampleRate int

	mu      sync.Mutex
	epoch   time.Time // set by Start; zero before
	queue   []clockSegment
	gain    float64
	started bool
	closed  bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewClockSink creates a sink that treats scheduled buffers as mono PCM at
// the given sample rate.
func NewClockSink(sampleRate int) *ClockSink {
	return &ClockSink{
		sampleRate: sampleRate,
		queue:      make([]clockSegment, 0, defaultQueueCap),
		gain:       1,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Start anchors the sink clock at the current time and starts the dispatch
// goroutine. Calling Start twice is a no-op.
func (s *ClockSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	s.epoch = time.Now()

	s.wg.Add(1)
	go s.dispatch()
	return nil
}

// Now returns the position of the sink clock: time elapsed since Start.
// Before Start it returns zero.
func (s *ClockSink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch.IsZero() {
		return 0
	}
	return time.Since(s.epoch)
}

// ScheduleAt queues pcm to play at the given clock offset. The done callback
// fires from the dispatch goroutine once the segment's play time has fully
// elapsed; it must not block. Segments complete in submission order
// regardless of their offsets.
func (s *ClockSink) ScheduleAt(pcm []int16, at time.Duration, done func()) {
	dur := time.Duration(len(pcm)) * time.Second / time.Duration(s.sampleRate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, clockSegment{at: at, dur: dur, done: done})
	s.mu.Unlock()

	// Wake the dispatch goroutine.
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// SetGain sets the output gain. The clock sink produces no audible output,
// so gain only affects what a device-backed implementation would emit; it
// never changes completion timing.
func (s *ClockSink) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gain = gain
}

// Gain returns the current output gain.
func (s *ClockSink) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gain
}

// Close stops the dispatch goroutine and discards queued segments. Pending
// completion callbacks are not invoked after Close returns. Close is
// idempotent.
func (s *ClockSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

// dispatch pops segments in FIFO order and sleeps until each one's play time
// has elapsed before firing its completion callback.
func (s *ClockSink) dispatch() {
	defer s.wg.Done()

	// Reusable timer — avoids allocating a new time.Timer per segment.
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			seg, ok := s.head()
			if !ok {
				break
			}

			if wait := seg.at + seg.dur - s.Now(); wait > 0 {
				timer.Reset(wait)
				select {
				case <-s.done:
					if !timer.Stop() {
						<-timer.C
					}
					return
				case <-timer.C:
				}
			}

			s.pop()
			if seg.done != nil {
				seg.done()
			}
		}
	}
}

// head returns the oldest queued segment without removing it.
func (s *ClockSink) head() (clockSegment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return clockSegment{}, false
	}
	return s.queue[0], true
}

// pop removes the oldest queued segment.
func (s *ClockSink) pop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) > 0 {
		s.queue = s.queue[1:]
	}
}
