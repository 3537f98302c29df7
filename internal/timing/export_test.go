package timing_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/traduvox/internal/timing"
	"github.com/MrWong99/traduvox/pkg/translate/gateway"
)

func TestWriteCSV_MergesClientAndBackend(t *testing.T) {
	t.Parallel()

	client := []timing.Event{
		{
			Source:         timing.SourceClient,
			Stage:          timing.StageChunkSent,
			Elapsed:        10 * time.Millisecond,
			ChunkIndex:     0,
			SourcePosition: 300 * time.Millisecond,
			AudioBytes:     9600,
		},
		{
			Source:     timing.SourceClient,
			Stage:      timing.StageAudioReceived,
			Elapsed:    1200 * time.Millisecond,
			ChunkIndex: 0,
			AudioBytes: 9600,
		},
	}
	backend := []gateway.TestEvent{
		{
			Stage:             "ws_received",
			ChunkIndex:        0,
			SourcePositionSec: 0.3,
			AudioBytesLen:     9600,
			WallClock:         0.412,
		},
	}

	var sb strings.Builder
	if err := timing.WriteCSV(&sb, client, backend); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := strings.Join([]string{
		"source,stage,timestamp_ms,chunk_index,source_position_sec,audio_bytes",
		"client,chunk_sent,10,0,0.300,9600",
		"backend,ws_received,412,0,0.300,9600",
		"client,audio_received,1200,0,0.000,9600",
		"",
	}, "\n")
	if got := sb.String(); got != want {
		t.Errorf("csv mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteCSV_EmptyRunStillHasHeader(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	if err := timing.WriteCSV(&sb, nil, nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "source,stage,timestamp_ms,chunk_index,source_position_sec,audio_bytes\n"
	if got := sb.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWriteDriftCSV(t *testing.T) {
	t.Parallel()

	samples := []timing.DriftSample{
		{Elapsed: time.Second, Drift: 2500 * time.Millisecond},
		{Elapsed: 2 * time.Second, Drift: 3250 * time.Millisecond},
	}

	var sb strings.Builder
	if err := timing.WriteDriftCSV(&sb, samples); err != nil {
		t.Fatalf("WriteDriftCSV: %v", err)
	}

	want := strings.Join([]string{
		"elapsed_sec,drift_sec",
		"1.000,2.500",
		"2.000,3.250",
		"",
	}, "\n")
	if got := sb.String(); got != want {
		t.Errorf("csv mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteCSVFile_CreatesParentDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "exports", "run.csv")
	err := timing.WriteCSVFile(path, []timing.Event{
		{Stage: timing.StageChunkSent, AudioBytes: 9600},
	}, nil)
	if err != nil {
		t.Fatalf("WriteCSVFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "source,stage,") {
		t.Errorf("unexpected file contents: %q", data)
	}
	if !strings.Contains(string(data), "chunk_sent") {
		t.Errorf("row missing from file: %q", data)
	}
}
