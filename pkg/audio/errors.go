package audio

import "fmt"

// DecodeError reports an audio source that could not be decoded (unsupported
// format, corrupt data, unreadable file). It is fatal to that load only — an
// already-running session is unaffected.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CaptureError reports a capture source that failed to start or died
// mid-stream. Surfaced to the caller and never retried automatically —
// picking another device is a caller decision.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio: capture %s: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
