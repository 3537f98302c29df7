package timing

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/MrWong99/traduvox/pkg/translate/gateway"
)

// DriftSample is one periodic reading of the gap between how much source
// audio has been sent and how much translated audio has finished playing.
type DriftSample struct {
	// Elapsed is the offset from the run start.
	Elapsed time.Duration
	// Drift is the source position minus the playback position. It grows
	// while the pipeline falls behind and shrinks as playback catches up.
	Drift time.Duration
}

var (
	eventHeader = []string{"source", "stage", "timestamp_ms", "chunk_index", "source_position_sec", "audio_bytes"}
	driftHeader = []string{"elapsed_sec", "drift_sec"}
)

// csvRow is the normalized form shared by client and backend events.
type csvRow struct {
	source    string
	stage     string
	ms        int64
	chunk     int
	srcPosSec float64
	bytes     int
}

// mergedRows normalizes both event streams and orders them by timestamp.
// The backend reports wall_clock in seconds relative to the same run start,
// so a plain millisecond sort interleaves the two sides correctly.
func mergedRows(client []Event, backend []gateway.TestEvent) []csvRow {
	rows := make([]csvRow, 0, len(client)+len(backend))
	for _, e := range client {
		src := e.Source
		if src == "" {
			src = SourceClient
		}
		rows = append(rows, csvRow{
			source:    src,
			stage:     e.Stage,
			ms:        e.Elapsed.Milliseconds(),
			chunk:     e.ChunkIndex,
			srcPosSec: e.SourcePosition.Seconds(),
			bytes:     e.AudioBytes,
		})
	}
	for _, e := range backend {
		rows = append(rows, csvRow{
			source:    SourceBackend,
			stage:     e.Stage,
			ms:        int64(math.Round(e.WallClock * 1000)),
			chunk:     e.ChunkIndex,
			srcPosSec: e.SourcePositionSec,
			bytes:     e.AudioBytesLen,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ms < rows[j].ms })
	return rows
}

// WriteCSV writes the merged client and backend event log to w. The header
// row is always written, even for an empty run.
func WriteCSV(w io.Writer, client []Event, backend []gateway.TestEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(eventHeader); err != nil {
		return fmt.Errorf("timing: write csv header: %w", err)
	}
	for _, r := range mergedRows(client, backend) {
		record := []string{
			r.source,
			r.stage,
			strconv.FormatInt(r.ms, 10),
			strconv.Itoa(r.chunk),
			strconv.FormatFloat(r.srcPosSec, 'f', 3, 64),
			strconv.Itoa(r.bytes),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("timing: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("timing: flush csv: %w", err)
	}
	return nil
}

// WriteDriftCSV writes the drift sample series to w. The header row is
// always written, even for an empty run.
func WriteDriftCSV(w io.Writer, samples []DriftSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(driftHeader); err != nil {
		return fmt.Errorf("timing: write csv header: %w", err)
	}
	for _, s := range samples {
		record := []string{
			strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64),
			strconv.FormatFloat(s.Drift.Seconds(), 'f', 3, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("timing: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("timing: flush csv: %w", err)
	}
	return nil
}

// WriteCSVFile writes the merged event log to path, creating parent
// directories as needed.
func WriteCSVFile(path string, client []Event, backend []gateway.TestEvent) error {
	return writeFile(path, func(f io.Writer) error {
		return WriteCSV(f, client, backend)
	})
}

// WriteDriftCSVFile writes the drift sample series to path, creating parent
// directories as needed.
func WriteDriftCSVFile(path string, samples []DriftSample) error {
	return writeFile(path, func(f io.Writer) error {
		return WriteDriftCSV(f, samples)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("timing: create export dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("timing: create export file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("timing: close export file: %w", err)
	}
	return nil
}
