package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/traduvox/pkg/audio"
)

func TestInt16ToBytes_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := audio.BytesToInt16(audio.Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestInt16ToBytes_LittleEndian(t *testing.T) {
	got := audio.Int16ToBytes([]int16{0x0102})
	if got[0] != 0x02 || got[1] != 0x01 {
		t.Errorf("got [%#x %#x], want little-endian [0x2 0x1]", got[0], got[1])
	}
}

func TestBytesToInt16_OddLength(t *testing.T) {
	// Trailing odd byte is dropped, not decoded.
	got := audio.BytesToInt16([]byte{0x64, 0x00, 0xFF})
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if got[0] != 100 {
		t.Errorf("got %d, want 100", got[0])
	}
}

func TestRMS(t *testing.T) {
	// Constant amplitude: RMS equals amplitude/32768.
	samples := make([]int16, 256)
	for i := range samples {
		samples[i] = 16384
	}
	got := audio.RMS(samples)
	want := 0.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %g, want %g", got, want)
	}
}

func TestRMS_Sine(t *testing.T) {
	// A sine wave's RMS is amplitude/√2. 160 whole cycles keep the
	// discretisation error well below the tolerance.
	const amp = 16000.0
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(amp * math.Sin(2*math.Pi*float64(i)/100))
	}
	got := audio.RMS(samples)
	want := amp / math.Sqrt2 / 32768
	if math.Abs(got-want) > 1e-3 {
		t.Errorf("got %.4f, want %.4f", got, want)
	}
}

func TestRMS_Silence(t *testing.T) {
	if got := audio.RMS(make([]int16, 64)); got != 0 {
		t.Errorf("got %g, want 0 for silence", got)
	}
}

func TestRMS_Empty(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("got %g, want 0 for empty input", got)
	}
}

func TestPadTo(t *testing.T) {
	in := []int16{1, 2, 3}
	got := audio.PadTo(in, 5)
	want := []int16{1, 2, 3, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
	// The input slice must not be mutated or aliased.
	if &got[0] == &in[0] {
		t.Error("expected a copy, got the input slice")
	}
}

func TestPadTo_AlreadyFull(t *testing.T) {
	in := []int16{1, 2, 3}
	got := audio.PadTo(in, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
}

func TestPCMDurationSeconds(t *testing.T) {
	// 9600 bytes of 16-bit mono at 16kHz is exactly 300ms.
	got := audio.PCMDurationSeconds(9600, 16000)
	if math.Abs(got-0.3) > 1e-9 {
		t.Errorf("got %g, want 0.3", got)
	}
}

func TestFrameSamples(t *testing.T) {
	if got := audio.FrameSamples(16000, audio.DefaultFrameDuration); got != 4800 {
		t.Errorf("got %d, want 4800", got)
	}
	if got := audio.FrameSamples(48000, audio.DefaultFrameDuration); got != 14400 {
		t.Errorf("got %d, want 14400", got)
	}
}

func TestAudioFrameDuration(t *testing.T) {
	f := audio.AudioFrame{
		Data:       make([]byte, 9600),
		SampleRate: 16000,
		Channels:   1,
	}
	if got := f.Duration(); got != 300*time.Millisecond {
		t.Errorf("got %v, want 300ms", got)
	}
	if got := f.Samples(); got != 4800 {
		t.Errorf("got %d samples, want 4800", got)
	}
}
