package timing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/traduvox/pkg/translate/gateway"
	_ "modernc.org/sqlite"
)

// Run summarises one completed measurement run.
type Run struct {
	ID             int64
	StartedAt      time.Time
	Input          string
	TargetLanguage string
	Duration       time.Duration
	ChunksSent     int
	// AudioReceived is the total translated PCM received, in bytes.
	AudioReceived int
	// FinalDrift is the last drift sample of the run.
	FinalDrift time.Duration
	Verdict    string
}

// RunStore persists measurement runs in a local SQLite database so drift
// across runs can be compared later. An empty path opens a disabled store
// whose methods are all no-ops.
type RunStore struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// OpenStore opens (and if needed creates) the run database at path. Pass an
// empty path to disable persistence.
func OpenStore(ctx context.Context, path string, log *slog.Logger) (*RunStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		return &RunStore{log: log, clock: time.Now}, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("timing: create store dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("timing: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("timing: ping sqlite: %w", err)
	}

	s := &RunStore{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("timing: init schema: %w", err)
	}
	return s, nil
}

func (s *RunStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TIMESTAMP NOT NULL,
    input TEXT,
    target_language TEXT,
    duration_ms INTEGER NOT NULL,
    chunks_sent INTEGER NOT NULL,
    audio_received_bytes INTEGER NOT NULL,
    final_drift_ms INTEGER NOT NULL,
    verdict TEXT
);
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    source TEXT NOT NULL,
    stage TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    source_position_ms INTEGER NOT NULL,
    audio_bytes INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS drift_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    drift_ms INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_drift_samples_run ON drift_samples(run_id, elapsed_ms);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether the store persists anything.
func (s *RunStore) Enabled() bool {
	return s.db != nil
}

// Ping verifies the database connection. A disabled store always reports
// healthy.
func (s *RunStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Close releases underlying resources.
func (s *RunStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun persists the run summary together with its merged event log and
// drift samples. It returns the assigned run ID, or 0 when the store is
// disabled.
func (s *RunStore) SaveRun(ctx context.Context, run Run, client []Event, backend []gateway.TestEvent, samples []DriftSample) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("timing: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs(started_at, input, target_language, duration_ms, chunks_sent, audio_received_bytes, final_drift_ms, verdict)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.Input, run.TargetLanguage,
		run.Duration.Milliseconds(), run.ChunksSent, run.AudioReceived,
		run.FinalDrift.Milliseconds(), run.Verdict)
	if err != nil {
		return 0, fmt.Errorf("timing: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("timing: run id: %w", err)
	}

	for _, r := range mergedRows(client, backend) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_events(run_id, source, stage, timestamp_ms, chunk_index, source_position_ms, audio_bytes)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			id, r.source, r.stage, r.ms, r.chunk, int64(r.srcPosSec*1000), r.bytes)
		if err != nil {
			return 0, fmt.Errorf("timing: insert event: %w", err)
		}
	}
	for _, sm := range samples {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO drift_samples(run_id, elapsed_ms, drift_ms) VALUES(?, ?, ?)`,
			id, sm.Elapsed.Milliseconds(), sm.Drift.Milliseconds())
		if err != nil {
			return 0, fmt.Errorf("timing: insert drift sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("timing: commit run: %w", err)
	}
	s.log.Debug("run persisted",
		slog.Int64("run_id", id),
		slog.Int("events", len(client)+len(backend)),
		slog.Int("drift_samples", len(samples)))
	return id, nil
}

// ListRuns returns up to limit runs, most recent first. A disabled store
// returns nil.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, input, target_language, duration_ms, chunks_sent, audio_received_bytes, final_drift_ms, verdict
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("timing: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var durMS, driftMS int64
		if err := rows.Scan(&r.ID, &started, &r.Input, &r.TargetLanguage, &durMS, &r.ChunksSent, &r.AudioReceived, &driftMS, &r.Verdict); err != nil {
			return nil, fmt.Errorf("timing: scan run: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = ts
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.FinalDrift = time.Duration(driftMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunSamples returns the drift series recorded for the given run in elapsed
// order.
func (s *RunStore) RunSamples(ctx context.Context, runID int64) ([]DriftSample, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT elapsed_ms, drift_ms FROM drift_samples WHERE run_id = ? ORDER BY elapsed_ms ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("timing: run samples: %w", err)
	}
	defer rows.Close()

	var samples []DriftSample
	for rows.Next() {
		var elapsedMS, driftMS int64
		if err := rows.Scan(&elapsedMS, &driftMS); err != nil {
			return nil, fmt.Errorf("timing: scan sample: %w", err)
		}
		samples = append(samples, DriftSample{
			Elapsed: time.Duration(elapsedMS) * time.Millisecond,
			Drift:   time.Duration(driftMS) * time.Millisecond,
		})
	}
	return samples, rows.Err()
}
