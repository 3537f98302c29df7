package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/traduvox/pkg/translate"
	"github.com/MrWong99/traduvox/pkg/translate/gateway"
)

// ── Compile-time interface assertions ─────────────────────────────────────────

// TestInterfaceSatisfaction verifies that Client satisfies translate.Session
// at compile time (the real assertion is a blank-identifier var inside
// gateway.go).
func TestInterfaceSatisfaction(t *testing.T) {
	t.Parallel()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// startGatewayServer launches a test WebSocket server on /ws/translate. The
// handler receives the accepted conn. The server is automatically closed when
// the test finishes.
func startGatewayServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// connect builds a client against srv and connects it, registering cleanup.
func connect(t *testing.T, srv *httptest.Server, opts ...gateway.Option) *gateway.Client {
	t.Helper()
	c, err := gateway.New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ── Constructor tests ─────────────────────────────────────────────────────────

func TestNew_SchemeValidation(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"http://localhost:8000",
		"https://gw.example.com",
		"ws://localhost:8000",
		"wss://gw.example.com/ws/translate",
	} {
		if _, err := gateway.New(raw); err != nil {
			t.Errorf("New(%q): unexpected error %v", raw, err)
		}
	}

	if _, err := gateway.New("ftp://localhost:8000"); err == nil {
		t.Error("New accepted an ftp URL")
	}
}

func TestReconnectPolicy_Delay(t *testing.T) {
	t.Parallel()

	// Default policy: fixed 3s interval regardless of attempt count.
	fixed := gateway.ReconnectPolicy{InitialDelay: 3 * time.Second, MaxDelay: 30 * time.Second, Factor: 1.0}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := fixed.Delay(attempt); got != 3*time.Second {
			t.Errorf("fixed policy attempt %d: got %v, want 3s", attempt, got)
		}
	}

	exp := gateway.ReconnectPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Factor: 2.0}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := exp.Delay(i + 1); got != w {
			t.Errorf("exponential policy attempt %d: got %v, want %v", i+1, got, w)
		}
	}
}

// ── Connection tests ──────────────────────────────────────────────────────────

func TestConnect_DialsTranslatePath(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	srv := startGatewayServer(t, func(conn *websocket.Conn, r *http.Request) {
		paths <- r.URL.Path
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connect(t, srv)
	if got := c.State(); got != translate.StateConnected {
		t.Errorf("state after connect: got %v, want connected", got)
	}

	select {
	case p := <-paths:
		if p != "/ws/translate" {
			t.Errorf("dial path = %q; want /ws/translate", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for handshake")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	t.Parallel()

	var accepts atomic.Int32
	srv := startGatewayServer(t, func(conn *websocket.Conn, _ *http.Request) {
		accepts.Add(1)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connect(t, srv)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := accepts.Load(); got != 1 {
		t.Errorf("connections opened: got %d, want 1", got)
	}
}

// ── Outbound tests ────────────────────────────────────────────────────────────

func TestSendControl_StartStream(t *testing.T) {
	t.Parallel()

	received := make(chan translate.ControlMessage, 1)
	srv := startGatewayServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg translate.ControlMessage
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connect(t, srv)
	if err := c.SendControl(translate.StartStream("es-US")); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "start_stream" {
			t.Errorf("type = %q; want start_stream", msg.Type)
		}
		if msg.TargetLanguage != "es-US" {
			t.Errorf("targetLanguage = %q; want es-US", msg.TargetLanguage)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for control message")
	}
}

func TestSendControl_SoftDropWhenDisconnected(t *testing.T) {
	t.Parallel()

	c, err := gateway.New("http://localhost:1") // never connected
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendControl(translate.StopStream()); err != nil {
		t.Errorf("SendControl while disconnected: got %v, want nil soft drop", err)
	}
	if err := c.SendAudio([]byte{1, 2}); err != nil {
		t.Errorf("SendAudio while disconnected: got %v, want nil soft drop", err)
	}
}

func TestSendAudio_BinaryFrame(t *testing.T) {
	t.Parallel()

	type binFrame struct {
		typ  websocket.MessageType
		data []byte
	}
	received := make(chan binFrame, 1)
	srv := startGatewayServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- binFrame{typ, data}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connect(t, srv)
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := c.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case f := <-received:
		if f.typ != websocket.MessageBinary {
			t.Errorf("message type = %v; want binary", f.typ)
		}
		if string(f.data) != string(pcm) {
			t.Errorf("payload = %v; want %v", f.data, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio frame")
	}
}

// ── Inbound dispatch tests ────────────────────────────────────────────────────

func TestInboundDispatch(t *testing.T) {
	t.Parallel()

	srv := startGatewayServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "status", "status": "listening", "message": "Translating to es-US"})
		writeJSON(t, conn, map[string]any{"type": "level", "rms": 0.42})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{9, 8, 7, 6})

		writeJSON(t, conn, map[string]any{"type": "error", "message": "riva unavailable"})
		<-conn.CloseRead(context.Background()).Done()
	})

	statuses := make(chan string, 4)
	levels := make(chan float64, 4)
	audioIn := make(chan []byte, 4)
	errMsgs := make(chan string, 4)

	c, err := gateway.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	c.OnStatus(func(status, _ string) { statuses <- status })
	c.OnLevel(func(rms float64) { levels <- rms })
	c.OnAudio(func(pcm []byte) { audioIn <- pcm })
	c.OnError(func(msg string) { errMsgs <- msg })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case s := <-statuses:
		if s != "listening" {
			t.Errorf("status = %q; want listening", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for status")
	}
	waitFor(t, 3*time.Second, func() bool { return c.State() == translate.StateListening },
		"state never reached listening")

	select {
	case l := <-levels:
		if l != 0.42 {
			t.Errorf("rms = %v; want 0.42", l)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for level")
	}

	select {
	case pcm := <-audioIn:
		if len(pcm) != 4 || pcm[0] != 9 {
			t.Errorf("audio payload = %v; want [9 8 7 6]", pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio")
	}

	select {
	case msg := <-errMsgs:
		if msg != "riva unavailable" {
			t.Errorf("error message = %q", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error")
	}

	// A gateway error message alone must not change the session state.
	if got := c.State(); got != translate.StateListening {
		t.Errorf("state after error message: got %v, want listening", got)
	}
}

func TestInbound_MalformedDiscarded(t *testing.T) {
	t.Parallel()

	srv := startGatewayServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"type": "status", "status": "listening"})
		<-conn.CloseRead(context.Background()).Done()
	})

	statuses := make(chan string, 1)
	c, err := gateway.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	c.OnStatus(func(status, _ string) { statuses <- status })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The session survives the malformed frame and still dispatches the
	// following status.
	select {
	case s := <-statuses:
		if s != "listening" {
			t.Errorf("status = %q; want listening", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("session died on malformed frame")
	}
}

// ── Reconnection tests ────────────────────────────────────────────────────────

func TestReconnect_OneAttemptPerClosure(t *testing.T) {
	t.Parallel()

	var accepts atomic.Int32
	srv := startGatewayServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if accepts.Add(1) == 1 {
			return // drop the first connection immediately
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connect(t, srv, gateway.WithReconnectPolicy(gateway.ReconnectPolicy{
		InitialDelay: 30 * time.Millisecond,
	}), gateway.WithPingInterval(0))

	waitFor(t, 3*time.Second, func() bool { return accepts.Load() == 2 },
		"client never reconnected")
	waitFor(t, 3*time.Second, func() bool { return c.State() == translate.StateConnected },
		"state never returned to connected")

	// One closure schedules exactly one attempt — give a double-schedule
	// bug time to show, then confirm.
	time.Sleep(150 * time.Millisecond)
	if got := accepts.Load(); got != 2 {
		t.Errorf("connections opened: got %d, want 2", got)
	}
	if got := c.Reconnects(); got != 1 {
		t.Errorf("reconnect attempts: got %d, want 1", got)
	}
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	var accepts atomic.Int32
	srv := startGatewayServer(t, func(_ *websocket.Conn, _ *http.Request) {
		accepts.Add(1)
		// Close every connection immediately.
	})

	c := connect(t, srv, gateway.WithReconnectPolicy(gateway.ReconnectPolicy{
		InitialDelay: 500 * time.Millisecond,
	}), gateway.WithPingInterval(0))

	// Wait for the closure to be noticed, then disconnect before the timer
	// fires.
	waitFor(t, 3*time.Second, func() bool { return c.State() == translate.StateConnecting },
		"closure never noticed")
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	time.Sleep(700 * time.Millisecond)
	if got := accepts.Load(); got != 1 {
		t.Errorf("connections opened after Disconnect: got %d, want 1", got)
	}
	if got := c.State(); got != translate.StateDisconnected {
		t.Errorf("state = %v; want disconnected", got)
	}
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	// A server that is already gone: every dial fails.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := gateway.New(url, gateway.WithReconnectPolicy(gateway.ReconnectPolicy{
		InitialDelay: 20 * time.Millisecond,
		MaxAttempts:  2,
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })

	errMsgs := make(chan string, 1)
	c.OnError(func(msg string) { errMsgs <- msg })

	connectErr := c.Connect(context.Background())
	if connectErr == nil {
		t.Fatal("expected dial error")
	}
	var terr *translate.TransportError
	if !errors.As(connectErr, &terr) {
		t.Fatalf("expected *TransportError, got %T", connectErr)
	}
	if terr.Op != "dial" {
		t.Errorf("op = %q; want dial", terr.Op)
	}

	waitFor(t, 3*time.Second, func() bool { return c.State() == translate.StateError },
		"client never gave up")
	if got := c.Reconnects(); got != 2 {
		t.Errorf("reconnect attempts: got %d, want 2", got)
	}
	select {
	case msg := <-errMsgs:
		if !strings.Contains(msg, "exhausted") {
			t.Errorf("error message = %q", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnError never invoked")
	}
}

// ── Keepalive tests ───────────────────────────────────────────────────────────

func TestKeepalive_PingPong(t *testing.T) {
	t.Parallel()

	pings := make(chan struct{}, 4)
	srv := startGatewayServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			var msg translate.ControlMessage
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
				pings <- struct{}{}
				writeJSON(t, conn, map[string]string{"type": "pong"})
			}
		}
	})

	c := connect(t, srv, gateway.WithPingInterval(30*time.Millisecond))
	before := c.LastPong()

	select {
	case <-pings:
	case <-time.After(3 * time.Second):
		t.Fatal("no keepalive ping received")
	}
	waitFor(t, 3*time.Second, func() bool { return c.LastPong().After(before) },
		"pong never recorded")
}
