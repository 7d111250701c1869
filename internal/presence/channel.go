package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fansphere/realtime/internal/router"
	"github.com/fansphere/realtime/internal/session"
	"github.com/fansphere/realtime/pkg/logger"
	"github.com/fansphere/realtime/pkg/protocol"
)

// ChannelConfig parameterizes the presence channel.
type ChannelConfig struct {
	BaseURL string
	Dialer  session.Dialer
	Tracker *Tracker
	Tuning  session.Tuning
	Logger  *slog.Logger

	// OnConnectionLost fires once when reconnection attempts are
	// exhausted.
	OnConnectionLost func(err error)
}

// Channel wraps one Transport Session on the status endpoint and feeds the
// shared Tracker. The presence protocol is inbound-only beyond heartbeat.
type Channel struct {
	sess    *session.Session
	routes  *router.Router
	tracker *Tracker
	log     *slog.Logger

	lostMu sync.Mutex
	onLost func(err error)
}

// NewChannel constructs a presence channel. A nil Tracker gets a fresh
// one.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	url, err := protocol.StatusURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Log
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}

	ch := &Channel{
		routes:  router.New(log),
		tracker: tracker,
		log:     log,
		onLost:  cfg.OnConnectionLost,
	}
	tracker.Bind(ch.routes)
	ch.sess = session.New(cfg.Tuning.Config(url, cfg.Dialer, ch, log))
	return ch, nil
}

// Connect opens the status connection.
func (c *Channel) Connect(ctx context.Context) error {
	return c.sess.Connect(ctx)
}

// Close terminates the channel.
func (c *Channel) Close() { c.sess.Close() }

// Tracker returns the shared presence table.
func (c *Channel) Tracker() *Tracker { return c.tracker }

// State returns the underlying session state.
func (c *Channel) State() session.State { return c.sess.State() }

func (c *Channel) OnOpen(*session.Session) {}

func (c *Channel) OnEnvelope(_ *session.Session, env protocol.Envelope) {
	c.routes.Dispatch(env)
}

func (c *Channel) OnError(_ *session.Session, err error) {
	if errors.Is(err, session.ErrReconnectExhausted) {
		c.lostMu.Lock()
		fn := c.onLost
		c.lostMu.Unlock()
		if fn != nil {
			fn(err)
		}
		return
	}
	c.log.Debug("presence channel error", "error", err)
}

func (c *Channel) OnClose(*session.Session) {}

var _ session.Handler = (*Channel)(nil)
