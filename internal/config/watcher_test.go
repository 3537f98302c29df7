package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/traduvox/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
test:
  input: live
`

const watcherEditedYAML = `
server:
  log_level: debug
test:
  input: live
  muted: true
`

const watcherBrokenYAML = `
server:
  log_level: bananas
`

// startWatcher writes content to a fresh config file and begins watching it
// on a tight poll interval.
func startWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (string, *config.Watcher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, content)

	w, err := config.NewWatcher(path, onChange, config.WithInterval(25*time.Millisecond))
	if err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w
}

// rewrite replaces the file's content and pushes its mtime forward so the
// watcher's fast path cannot mistake the edit for the previous version.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	bump(t, path)
}

// mtimeStep makes every bump strictly later than the one before, across
// parallel tests.
var mtimeStep atomic.Int64

// bump pushes the file mtime forward, sidestepping filesystem timestamp
// granularity.
func bump(t *testing.T, path string) {
	t.Helper()
	at := time.Now().Add(time.Duration(mtimeStep.Add(1)) * time.Second)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("bump mtime of %s: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w := startWatcher(t, watcherBaseYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Test.Input != config.InputLive {
		t.Errorf("test.input = %q, want %q", cfg.Test.Input, config.InputLive)
	}
}

func TestWatcher_SeesEdit(t *testing.T) {
	t.Parallel()

	type change struct{ old, new *config.Config }
	got := make(chan change, 1)

	path, w := startWatcher(t, watcherBaseYAML, func(old, new *config.Config) {
		select {
		case got <- change{old, new}:
		default:
		}
	})
	rewrite(t, path, watcherEditedYAML)

	var c change
	select {
	case c = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("edit was not picked up within 3s")
	}

	if c.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want %q", c.old.Server.LogLevel, config.LogInfo)
	}
	if c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want %q", c.new.Server.LogLevel, config.LogDebug)
	}
	if !c.new.Test.Muted {
		t.Error("new config should have test.muted set")
	}

	// The swap happens before the callback, so Current() is already the
	// edited config here.
	if lvl := w.Current().Server.LogLevel; lvl != config.LogDebug {
		t.Errorf("Current() log_level = %q, want %q", lvl, config.LogDebug)
	}
}

func TestWatcher_BrokenEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	path, w := startWatcher(t, watcherBaseYAML, func(_, _ *config.Config) {
		calls.Add(1)
	})
	rewrite(t, path, watcherBrokenYAML)

	// Sample across several poll cycles: the broken edit must never fire the
	// callback or replace the current config.
	deadline := time.After(400 * time.Millisecond)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if n := calls.Load(); n != 0 {
				t.Fatalf("callback fired %d times for a broken edit", n)
			}
			if lvl := w.Current().Server.LogLevel; lvl != config.LogInfo {
				t.Fatalf("Current() log_level = %q after broken edit, want %q", lvl, config.LogInfo)
			}
		case <-deadline:
			return
		}
	}
}

func TestWatcher_TouchOnlyIsQuiet(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	path, _ := startWatcher(t, watcherBaseYAML, func(_, _ *config.Config) {
		calls.Add(1)
	})
	bump(t, path) // new mtime, same content

	deadline := time.After(400 * time.Millisecond)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if n := calls.Load(); n != 0 {
				t.Fatalf("callback fired %d times for a touch-only change", n)
			}
		case <-deadline:
			return
		}
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for a missing file")
	}
	if !strings.Contains(err.Error(), "initial load") {
		t.Errorf("error = %q, want mention of the initial load", err)
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	_, w := startWatcher(t, watcherBaseYAML, nil)

	// Repeated stops must not panic; Cleanup adds a third.
	w.Stop()
	w.Stop()
}
