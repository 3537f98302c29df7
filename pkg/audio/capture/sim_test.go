package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/traduvox/pkg/audio"
	"github.com/MrWong99/traduvox/pkg/audio/capture"
)

func TestSimSource_DeliversAllSamplesInOrder(t *testing.T) {
	samples := make([]int16, 500)
	for i := range samples {
		samples[i] = int16(i + 1)
	}
	src := capture.NewSimSource(samples, audio.SessionFormat(16000),
		capture.WithChunkSamples(100), capture.WithoutPacing())

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var got []int16
	var chunks int
	for frame := range src.Frames() {
		got = append(got, audio.BytesToInt16(frame.Data)...)
		chunks++
		if frame.SampleRate != 16000 || frame.Channels != 1 {
			t.Errorf("chunk %d format: got %dHz %dch", chunks, frame.SampleRate, frame.Channels)
		}
	}

	if chunks != 5 {
		t.Errorf("expected 5 chunks, got %d", chunks)
	}
	if len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestSimSource_ShortFinalChunk(t *testing.T) {
	// 250 samples in 100-sample chunks: the last delivery carries 50.
	src := capture.NewSimSource(make([]int16, 250), audio.SessionFormat(16000),
		capture.WithChunkSamples(100), capture.WithoutPacing())

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var sizes []int
	for frame := range src.Frames() {
		sizes = append(sizes, len(frame.Data)/audio.BytesPerSample)
	}
	want := []int{100, 100, 50}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d chunks, got %v", len(want), sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d: got %d samples, want %d", i, sizes[i], want[i])
		}
	}
}

func TestSimSource_RealTimePacing(t *testing.T) {
	// Two 160-sample chunks at 16kHz are 10ms each; a paced replay cannot
	// finish instantly.
	src := capture.NewSimSource(make([]int16, 320), audio.SessionFormat(16000),
		capture.WithChunkSamples(160))

	start := time.Now()
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for range src.Frames() {
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("paced replay of 20ms finished in %v", elapsed)
	}
}

func TestSimSource_DoubleStart(t *testing.T) {
	src := capture.NewSimSource(make([]int16, 100), audio.SessionFormat(16000),
		capture.WithoutPacing())

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Close()

	err := src.Start(context.Background())
	if err == nil {
		t.Fatal("expected error on second start")
	}
	var ce *audio.CaptureError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CaptureError, got %T", err)
	}
}

func TestSimSource_CloseStopsDelivery(t *testing.T) {
	// A minute of audio would replay for a minute; Close must end the stream
	// promptly instead.
	src := capture.NewSimSource(make([]int16, 16000*60), audio.SessionFormat(16000))

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-src.Frames()
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		for range src.Frames() {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("frames channel not closed after Close")
	}
}

func TestSimSource_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := capture.NewSimSource(make([]int16, 16000*60), audio.SessionFormat(16000))

	if err := src.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-src.Frames()
	cancel()

	closed := make(chan struct{})
	go func() {
		for range src.Frames() {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("frames channel not closed after context cancel")
	}
}
