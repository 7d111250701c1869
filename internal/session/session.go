package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fansphere/realtime/pkg/logger"
	"github.com/fansphere/realtime/pkg/protocol"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultBackoffBase       = time.Second
	DefaultBackoffGrowth     = 2.0
	DefaultMaxAttempts       = 5
)

// Handler receives session events. All callbacks for one session are
// delivered sequentially; a callback runs to completion before the next
// event for that session is dispatched. Inbound envelope order matches
// server-send order.
type Handler interface {
	// OnOpen fires when the connection transitions to OPEN, including
	// after a successful reconnect.
	OnOpen(s *Session)

	// OnEnvelope fires for every decoded inbound frame.
	OnEnvelope(s *Session, env protocol.Envelope)

	// OnError fires for non-fatal conditions: *protocol.MalformedFrameError,
	// *TransportError, and the terminal ErrReconnectExhausted.
	OnError(s *Session, err error)

	// OnClose fires when an open connection is lost or closed.
	OnClose(s *Session)
}

// Config parameterizes a Session. URL, Dialer and Handler are required.
type Config struct {
	URL     string
	Dialer  Dialer
	Handler Handler

	// HeartbeatInterval is the keep-alive period while OPEN.
	HeartbeatInterval time.Duration

	// AckTimeout, when non-zero, arms a liveness timer on each heartbeat
	// send. If no heartbeat_ack arrives in time the connection is
	// force-closed so the normal close detection and reconnect path run.
	// Zero leaves heartbeat as a pure keep-alive.
	AckTimeout time.Duration

	// Reconnection backoff: delay = BackoffBase * BackoffGrowth^(n-1)
	// for attempt n, up to MaxAttempts.
	BackoffBase   time.Duration
	BackoffGrowth float64
	MaxAttempts   int

	Logger *slog.Logger
}

// Session is one logical channel's transport. It owns exactly one
// underlying connection at a time and is safe for concurrent use.
type Session struct {
	cfg Config
	log *slog.Logger

	mu             sync.Mutex
	state          State
	conn           Conn
	gen            int
	attempts       int
	manualClose    bool
	exhausted      bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	ackTimer       *time.Timer

	// cbMu serializes handler callbacks so they never run concurrently
	// for the same session.
	cbMu sync.Mutex
}

// New constructs a Session in the CLOSED state. It does not connect.
func New(cfg Config) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffGrowth <= 0 {
		cfg.BackoffGrowth = DefaultBackoffGrowth
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Log
	}
	return &Session{cfg: cfg, log: log.With("url", cfg.URL)}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the current reconnection attempt counter.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// URL returns the endpoint this session connects to.
func (s *Session) URL() string { return s.cfg.URL }

// Connect opens the underlying connection. It is a no-op when the session
// is already OPEN or CONNECTING. Calling Connect on a closed or exhausted
// session resets the attempt counter and clears the manual-close flag,
// which is the manual-retry path after ErrReconnectExhausted.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Open, Connecting:
		s.mu.Unlock()
		return nil
	case Closing:
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.manualClose = false
	s.exhausted = false
	s.attempts = 0
	s.state = Connecting
	s.mu.Unlock()

	return s.dial(ctx)
}

// Send transmits a frame. It succeeds only while OPEN; otherwise it fails
// synchronously with ErrNotConnected. It never buffers.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	if s.state != Open || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	if err := conn.Write(ctx, frame); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Close terminates the session and suppresses any future automatic
// reconnection. It is idempotent and pre-empts a pending scheduled
// reconnect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.manualClose && s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.manualClose = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.stopHeartbeatLocked()
	conn := s.conn
	if conn != nil {
		// The read loop observes the closed connection and finishes the
		// CLOSING -> CLOSED transition.
		s.state = Closing
	} else {
		s.state = Closed
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Session) dial(ctx context.Context) error {
	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)

	s.mu.Lock()
	if s.manualClose || s.state != Connecting {
		s.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return ErrNotConnected
	}

	if err != nil {
		exhausted := s.scheduleReconnectLocked()
		s.mu.Unlock()
		s.emitError(&TransportError{Err: err})
		if exhausted {
			s.emitError(ErrReconnectExhausted)
		}
		return err
	}

	s.conn = conn
	s.state = Open
	s.attempts = 0
	s.gen++
	gen := s.gen
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()

	s.log.Info("session open", "remote", conn.RemoteAddr())
	s.emitOpen()

	go s.readLoop(conn, gen)
	go s.heartbeatLoop(conn, gen, stop)
	return nil
}

func (s *Session) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			s.connectionLost(gen, err)
			return
		}

		env, derr := protocol.DecodeEnvelope(data)
		if derr != nil {
			// Malformed frame: drop it, report it, keep the
			// connection open.
			s.emitError(derr)
			continue
		}

		if env.Type == protocol.TypeHeartbeatAck {
			s.heartbeatAcked()
		}
		s.emitEnvelope(env)
	}
}

// connectionLost finishes the lifecycle of one connection generation. For
// a manual close it completes CLOSING -> CLOSED; otherwise it schedules a
// reconnect unless the attempt cap is reached.
func (s *Session) connectionLost(gen int, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.stopHeartbeatLocked()

	if s.manualClose {
		s.state = Closed
		s.mu.Unlock()
		s.emitClose()
		return
	}

	exhausted := s.scheduleReconnectLocked()
	s.mu.Unlock()

	if cause != nil {
		s.emitError(&TransportError{Err: cause})
	}
	s.emitClose()
	if exhausted {
		s.emitError(ErrReconnectExhausted)
	}
}

// scheduleReconnectLocked increments the attempt counter and either arms
// the backoff timer or, past the cap, parks the session in CLOSED. It
// returns true when ErrReconnectExhausted must be reported; the caller
// emits it outside the lock, and the exhausted flag guarantees the report
// happens exactly once.
func (s *Session) scheduleReconnectLocked() bool {
	s.attempts++
	if s.attempts > s.cfg.MaxAttempts {
		s.state = Closed
		if s.exhausted {
			return false
		}
		s.exhausted = true
		return true
	}

	delay := BackoffDelay(s.cfg.BackoffBase, s.cfg.BackoffGrowth, s.attempts)
	s.state = Reconnecting
	s.log.Info("scheduling reconnect", "attempt", s.attempts, "delay", delay)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.manualClose || s.state != Reconnecting {
			s.mu.Unlock()
			return
		}
		s.reconnectTimer = nil
		s.state = Connecting
		s.mu.Unlock()
		_ = s.dial(context.Background())
	})
	return false
}

func (s *Session) heartbeatLoop(conn Conn, gen int, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			open := s.state == Open && s.gen == gen
			s.mu.Unlock()
			if !open {
				return
			}
			if err := conn.Write(context.Background(), protocol.HeartbeatFrame()); err != nil {
				s.emitError(&TransportError{Err: err})
				return
			}
			s.armAckTimer(conn, gen)
		}
	}
}

func (s *Session) armAckTimer(conn Conn, gen int) {
	if s.cfg.AckTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != Open {
		return
	}
	if s.ackTimer != nil {
		s.ackTimer.Stop()
	}
	s.ackTimer = time.AfterFunc(s.cfg.AckTimeout, func() {
		s.mu.Lock()
		stale := s.gen != gen || s.state != Open
		s.mu.Unlock()
		if stale {
			return
		}
		s.log.Warn("heartbeat ack timeout, forcing close")
		_ = conn.Close()
	})
}

func (s *Session) heartbeatAcked() {
	s.mu.Lock()
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
	s.mu.Unlock()
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
}

func (s *Session) emitOpen() {
	if s.cfg.Handler == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.cfg.Handler.OnOpen(s)
}

func (s *Session) emitEnvelope(env protocol.Envelope) {
	if s.cfg.Handler == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.cfg.Handler.OnEnvelope(s, env)
}

func (s *Session) emitError(err error) {
	if s.cfg.Handler == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.cfg.Handler.OnError(s, err)
}

func (s *Session) emitClose() {
	if s.cfg.Handler == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.cfg.Handler.OnClose(s)
}
