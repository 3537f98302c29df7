package audio

import "time"

// Stream format defaults. The translation gateway speaks 16 kHz mono S16LE
// and expects 300 ms frames; both ends derive frame size from these values.
const (
	// DefaultSampleRate is the session sample rate in Hz.
	DefaultSampleRate = 16000

	// DefaultFrameDuration is the duration of one outbound frame.
	DefaultFrameDuration = 300 * time.Millisecond

	// BytesPerSample is the width of one S16LE sample.
	BytesPerSample = 2
)

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — sliced from a
// decoded file or a live capture stream, sent upstream to the translation
// gateway, and received back as translated segments for playback.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (16000 for the gateway session; capture devices may
	// deliver other rates and are converted before framing).
	SampleRate int

	// Channels: 1 for mono (the session format), 2 for stereo capture input.
	Channels int

	// Timestamp marks when this frame was captured or sliced, relative to
	// stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM data. Zero if the frame
// carries no format information.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / BytesPerSample / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Samples returns the number of per-channel sample points in the frame.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / BytesPerSample / ch
}

// FrameSamples returns the number of samples in one frame of the given
// duration at the given rate, e.g. 4800 for 300 ms at 16 kHz.
func FrameSamples(rate int, frameDuration time.Duration) int {
	return int(int64(rate) * int64(frameDuration) / int64(time.Second))
}
