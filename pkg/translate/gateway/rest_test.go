package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/traduvox/pkg/translate/gateway"
)

// newRESTClient builds a client against srv without opening the WebSocket.
func newRESTClient(t *testing.T, srv *httptest.Server) *gateway.Client {
	t.Helper()
	c, err := gateway.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestStartStopTest(t *testing.T) {
	t.Parallel()

	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/test/start":
			w.Write([]byte(`{"status": "started"}`))
		case "/api/test/stop":
			w.Write([]byte(`{"status": "stopped"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := newRESTClient(t, srv)
	ctx := context.Background()
	if err := c.StartTest(ctx); err != nil {
		t.Fatalf("StartTest: %v", err)
	}
	if err := c.StopTest(ctx); err != nil {
		t.Fatalf("StopTest: %v", err)
	}

	want := []string{"POST /api/test/start", "POST /api/test/stop"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v; want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q; want %q", i, calls[i], want[i])
		}
	}
}

func TestExportEvents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/test/export" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"events": [
			{"stage": "ws_received", "timestamp": 1724668801.5, "chunk_index": 0, "source_position_sec": 0.0, "audio_bytes_len": 9600, "wall_clock": 0.412},
			{"stage": "riva_first_audio", "timestamp": 1724668802.1, "chunk_index": 0, "source_position_sec": 0.0, "audio_bytes_len": 12800, "wall_clock": 1.034}
		]}`))
	}))
	t.Cleanup(srv.Close)

	c := newRESTClient(t, srv)
	events, err := c.ExportEvents(context.Background())
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Stage != "ws_received" {
		t.Errorf("stage = %q; want ws_received", events[0].Stage)
	}
	if events[0].WallClock != 0.412 {
		t.Errorf("wall_clock = %v; want 0.412", events[0].WallClock)
	}
	if events[1].AudioBytesLen != 12800 {
		t.Errorf("audio_bytes_len = %d; want 12800", events[1].AudioBytesLen)
	}
}

func TestLanguagesAndConfig(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/languages":
			w.Write([]byte(`{"languages": [
				{"code": "es-US", "name": "Spanish (US)", "available": true},
				{"code": "ja-JP", "name": "Japanese", "available": false}
			]}`))
		case "/api/config":
			w.Write([]byte(`{"sampleRate": 16000, "chunkSize": 4800, "channels": 1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := newRESTClient(t, srv)
	ctx := context.Background()

	langs, err := c.Languages(ctx)
	if err != nil {
		t.Fatalf("Languages: %v", err)
	}
	if len(langs) != 2 {
		t.Fatalf("got %d languages, want 2", len(langs))
	}
	if langs[0].Code != "es-US" || !langs[0].Available {
		t.Errorf("languages[0] = %+v", langs[0])
	}
	if langs[1].Available {
		t.Error("ja-JP should be unavailable")
	}

	cfg, err := c.Config(ctx)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.SampleRate != 16000 || cfg.ChunkSize != 4800 || cfg.Channels != 1 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestREST_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "riva offline", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := newRESTClient(t, srv)
	if err := c.StartTest(context.Background()); err == nil {
		t.Fatal("expected error for 503 response")
	} else if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q does not mention the status code", err)
	}

	if _, err := c.ExportEvents(context.Background()); err == nil {
		t.Fatal("expected error for 503 response")
	}
}
