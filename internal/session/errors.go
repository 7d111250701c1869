package session

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when the session is not OPEN.
// Nothing is queued; the caller decides whether to drop, retry, or
// surface the failure.
var ErrNotConnected = errors.New("session: not connected")

// ErrReconnectExhausted is reported through the handler exactly once when
// the reconnection attempt cap is reached. The session is then terminal
// until an explicit Connect call resets the counter.
var ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")

// TransportError wraps a failure of the underlying connection. It does
// not itself close the connection; the transport's own close detection
// follows.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
