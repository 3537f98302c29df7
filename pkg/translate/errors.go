package translate

import "fmt"

// TransportError wraps a WebSocket dial, read or write failure. Transport
// failures are recoverable: a session with reconnection enabled absorbs them
// and retries.
type TransportError struct {
	// Op names the failed operation: "dial", "read" or "write".
	Op string

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("translate: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError describes an inbound text frame that could not be decoded as
// a control message. Protocol errors are logged and the frame discarded; they
// never terminate the session.
type ProtocolError struct {
	// Payload is the offending frame, truncated for logging.
	Payload string

	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("translate: malformed control message: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
