// Package session owns one persistent connection's lifecycle: connect,
// send, receive, close, heartbeat and reconnection with exponential
// backoff. It is protocol-agnostic; each logical channel (chat,
// notifications, presence) wraps its own Session.
package session

import "context"

// Conn abstracts a bidirectional frame connection. This interface
// isolates transport details from session logic.
type Conn interface {
	// Read reads a single frame. Returns an error when the connection
	// is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens a Conn to a websocket URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
