// Package mock provides an in-memory mock implementation of the
// [translate.Session] interface for use in unit tests.
//
// The mock records every outbound call so tests can assert on sent control
// messages and audio buffers, and exposes Emit* helpers that play the role
// of the gateway by invoking the registered callbacks.
//
// Typical usage:
//
//	sess := &mock.Session{}
//	monitor, _ := drift.NewMonitor(drift.Config{Session: sess, Backend: backend})
//	_ = monitor.Start(ctx)
//	sess.EmitAudio(pcm)       // gateway returns a translated buffer
//	got := sess.ControlSent   // what the monitor told the gateway
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/traduvox/pkg/translate"
)

// Session is a mock implementation of [translate.Session].
// Set the exported Result/Error fields before use; inspect the recorded
// fields after. Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	// ConnectError is returned by [Session.Connect]. When nil, Connect
	// flips StateResult to [translate.StateConnected].
	ConnectError error

	// DisconnectError is returned by [Session.Disconnect].
	DisconnectError error

	// SendControlError is returned by [Session.SendControl].
	SendControlError error

	// SendAudioError is returned by [Session.SendAudio].
	SendAudioError error

	// StateResult is returned by [Session.State]. Defaults to
	// [translate.StateDisconnected] when left empty.
	StateResult translate.State

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// ControlSent records every message passed to SendControl, in order.
	ControlSent []translate.ControlMessage

	// AudioSent records every buffer passed to SendAudio, in order.
	AudioSent [][]byte

	onAudio       func([]byte)
	onStatus      func(status, message string)
	onError       func(message string)
	onLevel       func(rms float64)
	onStateChange func(translate.State)
}

var _ translate.Session = (*Session)(nil)

// Connect implements [translate.Session]. Records the call; on success the
// reported state becomes connected and the state-change callback fires.
func (s *Session) Connect(_ context.Context) error {
	s.mu.Lock()
	s.CallCountConnect++
	err := s.ConnectError
	var cb func(translate.State)
	if err == nil {
		s.StateResult = translate.StateConnected
		cb = s.onStateChange
	}
	s.mu.Unlock()

	if cb != nil {
		cb(translate.StateConnected)
	}
	return err
}

// Disconnect implements [translate.Session]. Records the call and reports
// the state as disconnected afterwards.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.CallCountDisconnect++
	s.StateResult = translate.StateDisconnected
	err := s.DisconnectError
	cb := s.onStateChange
	s.mu.Unlock()

	if cb != nil {
		cb(translate.StateDisconnected)
	}
	return err
}

// SendControl implements [translate.Session]. Records the message.
func (s *Session) SendControl(msg translate.ControlMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ControlSent = append(s.ControlSent, msg)
	return s.SendControlError
}

// SendAudio implements [translate.Session]. Records a copy of the buffer.
func (s *Session) SendAudio(pcm []byte) error {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioSent = append(s.AudioSent, buf)
	return s.SendAudioError
}

// State implements [translate.Session].
func (s *Session) State() translate.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StateResult == "" {
		return translate.StateDisconnected
	}
	return s.StateResult
}

// OnAudio implements [translate.Session].
func (s *Session) OnAudio(cb func(pcm []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAudio = cb
}

// OnStatus implements [translate.Session].
func (s *Session) OnStatus(cb func(status, message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = cb
}

// OnError implements [translate.Session].
func (s *Session) OnError(cb func(message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}

// OnLevel implements [translate.Session].
func (s *Session) OnLevel(cb func(rms float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLevel = cb
}

// OnStateChange implements [translate.Session].
func (s *Session) OnStateChange(cb func(translate.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = cb
}

// ─── Gateway-side helpers ─────────────────────────────────────────────────────

// EmitAudio delivers a translated audio buffer to the registered OnAudio
// callback, as the gateway would.
func (s *Session) EmitAudio(pcm []byte) {
	s.mu.Lock()
	cb := s.onAudio
	s.mu.Unlock()
	if cb != nil {
		cb(pcm)
	}
}

// EmitStatus delivers a status message and, when the status names a valid
// session state, updates the reported state first.
func (s *Session) EmitStatus(status, message string) {
	s.mu.Lock()
	var stateCb func(translate.State)
	st := translate.State(status)
	if st.IsValid() {
		s.StateResult = st
		stateCb = s.onStateChange
	}
	cb := s.onStatus
	s.mu.Unlock()

	if stateCb != nil {
		stateCb(st)
	}
	if cb != nil {
		cb(status, message)
	}
}

// EmitError delivers a gateway error message to the OnError callback.
func (s *Session) EmitError(message string) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(message)
	}
}

// EmitLevel delivers an input-level reading to the OnLevel callback.
func (s *Session) EmitLevel(rms float64) {
	s.mu.Lock()
	cb := s.onLevel
	s.mu.Unlock()
	if cb != nil {
		cb(rms)
	}
}

// ControlTypes returns the Type field of every recorded control message, a
// convenience for order assertions.
func (s *Session) ControlTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.ControlSent))
	for i, m := range s.ControlSent {
		types[i] = m.Type
	}
	return types
}
