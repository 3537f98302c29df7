// Package translate defines the client interface to a streaming speech
// translation gateway.
//
// A gateway session is a single duplex WebSocket carrying two message kinds:
// text frames hold JSON control messages (stream lifecycle, status, errors,
// level metering, keepalive) and binary frames hold raw little-endian 16-bit
// mono PCM — one message per audio buffer, no envelope. The gateway consumes
// source-language audio and produces translated audio with opaque, bursty
// latency: buffers may arrive seconds after the input that caused them, or
// several at once.
//
// The central abstraction is [Session]: connect, stream audio up, receive
// translated audio and control events through callbacks. Callbacks fire on
// the session's reader goroutine in arrival order, exactly once per inbound
// message; they must return quickly and must not call back into blocking
// session methods.
//
// All implementations must be safe for concurrent use.
package translate

import "context"

// State describes the lifecycle of a gateway session. The wire values match
// the gateway's status vocabulary; Connecting exists only client-side.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// IsValid reports whether s is one of the defined states.
func (s State) IsValid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected,
		StateListening, StateProcessing, StateStopped, StateError:
		return true
	}
	return false
}

// Control message type discriminators, both directions.
const (
	TypeStartStream = "start_stream"
	TypeStopStream  = "stop_stream"
	TypePing        = "ping"

	TypeStatus = "status"
	TypeError  = "error"
	TypeLevel  = "level"
	TypePong   = "pong"
)

// ControlMessage is the JSON envelope of every text frame. Only the fields
// relevant to the given Type are populated.
type ControlMessage struct {
	Type string `json:"type"`

	// TargetLanguage selects the translation target on start_stream,
	// e.g. "es-US".
	TargetLanguage string `json:"targetLanguage,omitempty"`

	// Status carries the session status on inbound status messages; its
	// values are a subset of [State].
	Status string `json:"status,omitempty"`

	// Message is the human-readable detail on status and error messages.
	Message string `json:"message,omitempty"`

	// RMS is the input level in [0, 1] on inbound level messages.
	RMS float64 `json:"rms,omitempty"`
}

// StartStream builds the control message that opens a translation stream.
func StartStream(targetLanguage string) ControlMessage {
	return ControlMessage{Type: TypeStartStream, TargetLanguage: targetLanguage}
}

// StopStream builds the control message that ends the translation stream.
// The gateway keeps the socket open and flushes any in-flight translation
// afterwards.
func StopStream() ControlMessage {
	return ControlMessage{Type: TypeStopStream}
}

// Ping builds the keepalive control message.
func Ping() ControlMessage {
	return ControlMessage{Type: TypePing}
}

// Session is an open connection to the translation gateway. It is an
// interface so that test code can supply mock implementations without a live
// gateway.
//
// Register callbacks before Connect; registering later is safe but events
// dispatched in between are not replayed.
type Session interface {
	// Connect dials the gateway and starts the reader. It is idempotent:
	// calling it while connected or connecting is a no-op. A transport
	// failure is returned as a [*TransportError]; when automatic
	// reconnection is enabled the session keeps retrying in the background
	// regardless of the returned error.
	Connect(ctx context.Context) error

	// Disconnect closes the session and disables automatic reconnection.
	// It is idempotent and terminal for the current connection: after it
	// returns the state is [StateDisconnected] until the next Connect.
	Disconnect() error

	// SendControl writes msg as a text frame. When no connection is open
	// the message is dropped silently and nil is returned — control traffic
	// is advisory and the caller must not fail because the link flapped.
	SendControl(msg ControlMessage) error

	// SendAudio writes one PCM buffer as a binary frame. Like SendControl
	// it soft-drops when no connection is open.
	SendAudio(pcm []byte) error

	// State returns the current session state.
	State() State

	// OnAudio registers the callback for inbound translated audio buffers.
	// Only one callback can be active at a time; registering again replaces
	// the previous one. Passing nil clears it. The same replacement rule
	// applies to every On* method.
	OnAudio(func(pcm []byte))

	// OnStatus registers the callback for inbound status messages.
	OnStatus(func(status, message string))

	// OnError registers the callback for inbound gateway error messages and
	// transport failures surfaced while not reconnecting.
	OnError(func(message string))

	// OnLevel registers the callback for inbound input-level readings.
	OnLevel(func(rms float64))

	// OnStateChange registers the callback invoked after every state
	// transition with the new state.
	OnStateChange(func(State))
}
