// Package capture provides [audio.CaptureSource] implementations.
//
// The only source shipped today is [SimSource], which replays an in-memory
// PCM buffer at real-time speed. It exists so the live streaming path —
// rolling-buffer reassembly, format conversion, level metering — can be
// exercised end to end without audio hardware; a device-backed source only
// has to satisfy the same interface.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/traduvox/pkg/audio"
)

// defaultChunkSamples is the per-delivery chunk size. Deliberately not a
// multiple of the session frame size so consumers must handle partial-frame
// accumulation, the way real capture callbacks behave.
const defaultChunkSamples = 1024

// SimSource replays a sample buffer through the [audio.CaptureSource]
// interface, pacing deliveries with a catch-up clock: a late delivery
// shortens the next sleep instead of pushing the whole schedule back.
type SimSource struct {
	samples []int16
	format  audio.Format
	chunk   int
	paced   bool

	mu      sync.Mutex
	started bool
	done    chan struct{}
	frames  chan audio.AudioFrame

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ audio.CaptureSource = (*SimSource)(nil)

// Option configures a [SimSource].
type Option func(*SimSource)

// WithChunkSamples sets how many int16 values each delivery carries.
func WithChunkSamples(n int) Option {
	return func(s *SimSource) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// WithoutPacing delivers chunks as fast as the consumer reads them instead
// of at real-time speed. Test use only.
func WithoutPacing() Option {
	return func(s *SimSource) { s.paced = false }
}

// NewSimSource creates a source replaying samples in the given format.
func NewSimSource(samples []int16, format audio.Format, opts ...Option) *SimSource {
	s := &SimSource{
		samples: samples,
		format:  format,
		chunk:   defaultChunkSamples,
		paced:   true,
		done:    make(chan struct{}),
		frames:  make(chan audio.AudioFrame, 4),
	}
	for _, o := range opts {
		o(s)
	}
	if s.format.Channels == 2 && s.chunk%2 != 0 {
		s.chunk++ // keep stereo interleaving aligned
	}
	return s
}

// Start implements [audio.CaptureSource].
func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return &audio.CaptureError{Source: "sim", Err: errors.New("already started")}
	}
	s.started = true

	s.wg.Add(1)
	go s.replay(ctx)
	return nil
}

func (s *SimSource) replay(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	perChannel := s.chunk
	if s.format.Channels > 1 {
		perChannel = s.chunk / s.format.Channels
	}
	chunkDur := time.Duration(perChannel) * time.Second / time.Duration(s.format.SampleRate)
	next := time.Now()

	var elapsed time.Duration
	for off := 0; off < len(s.samples); off += s.chunk {
		end := off + s.chunk
		if end > len(s.samples) {
			end = len(s.samples)
		}

		frame := audio.AudioFrame{
			Data:       audio.Int16ToBytes(s.samples[off:end]),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  elapsed,
		}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
		elapsed += chunkDur

		if !s.paced {
			continue
		}
		next = next.Add(chunkDur)
		delay := time.Until(next)
		if delay <= 0 {
			// Behind schedule: deliver immediately and re-anchor the clock.
			next = time.Now()
			continue
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Frames implements [audio.CaptureSource].
func (s *SimSource) Frames() <-chan audio.AudioFrame {
	return s.frames
}

// Close implements [audio.CaptureSource].
func (s *SimSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}
