// Package notify implements the user-scoped notification channel: push
// delivery, unread-count reconciliation and recent-notification replay.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/fansphere/realtime/internal/router"
	"github.com/fansphere/realtime/internal/session"
	"github.com/fansphere/realtime/pkg/logger"
	"github.com/fansphere/realtime/pkg/protocol"
)

// recentLimit caps the locally held recent-notification list, matching
// the server's replay window.
const recentLimit = 20

// Events is the sink the channel emits rendering events into. Nil fields
// are skipped.
type Events struct {
	OnNotification   func(n protocol.Notification)
	OnUnreadCount    func(count int)
	OnRecent         func(notifications []protocol.Notification)
	OnConnectionLost func(err error)
}

// ChannelConfig parameterizes the notification channel.
type ChannelConfig struct {
	BaseURL string
	Dialer  session.Dialer
	Events  Events
	Tuning  session.Tuning
	Logger  *slog.Logger
}

// Channel is the authenticated user's notification endpoint. The local
// unread count is derived state: it is reconciled against the
// authoritative server value on every (re)connect, never assumed
// monotonic across reconnects.
type Channel struct {
	sess   *session.Session
	routes *router.Router
	events Events
	log    *slog.Logger

	mu     sync.RWMutex
	unread int
	recent []protocol.Notification
}

// NewChannel constructs a notification channel. It does not connect.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	url, err := protocol.NotificationsURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Log
	}

	ch := &Channel{
		routes: router.New(log),
		events: cfg.Events,
		log:    log,
	}
	ch.bindRoutes()
	ch.sess = session.New(cfg.Tuning.Config(url, cfg.Dialer, ch, log))
	return ch, nil
}

// Connect opens the notification connection.
func (c *Channel) Connect(ctx context.Context) error {
	return c.sess.Connect(ctx)
}

// Close terminates the channel.
func (c *Channel) Close() { c.sess.Close() }

// State returns the underlying session state.
func (c *Channel) State() session.State { return c.sess.State() }

// UnreadCount returns the reconciled unread count.
func (c *Channel) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unread
}

// Recent returns the held recent-notification list, newest first.
func (c *Channel) Recent() []protocol.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Notification, len(c.recent))
	copy(out, c.recent)
	return out
}

// MarkRead flags one notification read on the server and locally.
func (c *Channel) MarkRead(ctx context.Context, notificationID string) error {
	if err := c.sendAction(ctx, protocol.ActionMarkRead, notificationID); err != nil {
		return err
	}
	c.mu.Lock()
	count := c.unread
	for i, n := range c.recent {
		if n.ID == notificationID && !n.IsRead {
			c.recent[i].IsRead = true
			if count > 0 {
				count--
			}
		}
	}
	changed := count != c.unread
	c.unread = count
	c.mu.Unlock()

	if changed {
		c.emitCount(count)
	}
	return nil
}

// MarkAllRead flags every notification read.
func (c *Channel) MarkAllRead(ctx context.Context) error {
	if err := c.sendAction(ctx, protocol.ActionMarkAllRead, ""); err != nil {
		return err
	}
	c.mu.Lock()
	for i := range c.recent {
		c.recent[i].IsRead = true
	}
	changed := c.unread != 0
	c.unread = 0
	c.mu.Unlock()

	if changed {
		c.emitCount(0)
	}
	return nil
}

// Delete removes one notification.
func (c *Channel) Delete(ctx context.Context, notificationID string) error {
	if err := c.sendAction(ctx, protocol.ActionDelete, notificationID); err != nil {
		return err
	}
	c.mu.Lock()
	count := c.unread
	for i, n := range c.recent {
		if n.ID == notificationID {
			if !n.IsRead && count > 0 {
				count--
			}
			c.recent = append(c.recent[:i], c.recent[i+1:]...)
			break
		}
	}
	changed := count != c.unread
	c.unread = count
	c.mu.Unlock()

	if changed {
		c.emitCount(count)
	}
	return nil
}

// GetRecent requests the recent-notification replay.
func (c *Channel) GetRecent(ctx context.Context) error {
	return c.sendAction(ctx, protocol.ActionGetRecent, "")
}

func (c *Channel) sendAction(ctx context.Context, action, notificationID string) error {
	data, err := protocol.Encode(protocol.NotificationActionFrame{
		Action:         action,
		NotificationID: notificationID,
	})
	if err != nil {
		return err
	}
	return c.sess.Send(ctx, data)
}

func (c *Channel) bindRoutes() {
	reconcile := func(raw json.RawMessage) error {
		var frame protocol.NotifyConnectedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		c.mu.Lock()
		c.unread = frame.UnreadCount
		if frame.Notifications != nil {
			c.recent = frame.Notifications
		}
		c.mu.Unlock()

		c.emitCount(frame.UnreadCount)
		if frame.Notifications != nil && c.events.OnRecent != nil {
			c.events.OnRecent(frame.Notifications)
		}
		return nil
	}
	// The server greets with either discriminator depending on version.
	c.routes.Handle(protocol.TypeConnection, reconcile)
	c.routes.Handle(protocol.TypeConnectionEstablished, reconcile)

	c.routes.Handle(protocol.TypeNotification, func(raw json.RawMessage) error {
		var frame protocol.NotificationFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		c.mu.Lock()
		c.recent = append([]protocol.Notification{frame.Notification}, c.recent...)
		if len(c.recent) > recentLimit {
			c.recent = c.recent[:recentLimit]
		}
		count := c.unread
		if !frame.Notification.IsRead {
			count++
			c.unread = count
		}
		c.mu.Unlock()

		if c.events.OnNotification != nil {
			c.events.OnNotification(frame.Notification)
		}
		if !frame.Notification.IsRead {
			c.emitCount(count)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeUpdateCount, func(raw json.RawMessage) error {
		var frame protocol.UpdateCountFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		c.mu.Lock()
		c.unread = frame.UnreadCount
		c.mu.Unlock()
		c.emitCount(frame.UnreadCount)
		return nil
	})

	c.routes.Handle(protocol.TypeRecentNotifications, func(raw json.RawMessage) error {
		var frame protocol.RecentNotificationsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		c.mu.Lock()
		c.recent = frame.Notifications
		c.mu.Unlock()
		if c.events.OnRecent != nil {
			c.events.OnRecent(frame.Notifications)
		}
		return nil
	})
}

func (c *Channel) emitCount(count int) {
	if c.events.OnUnreadCount != nil {
		c.events.OnUnreadCount(count)
	}
}

func (c *Channel) OnOpen(*session.Session) {}

func (c *Channel) OnEnvelope(_ *session.Session, env protocol.Envelope) {
	c.routes.Dispatch(env)
}

func (c *Channel) OnError(_ *session.Session, err error) {
	if errors.Is(err, session.ErrReconnectExhausted) {
		if c.events.OnConnectionLost != nil {
			c.events.OnConnectionLost(err)
		}
		return
	}
	c.log.Debug("notification channel error", "error", err)
}

func (c *Channel) OnClose(*session.Session) {}

var _ session.Handler = (*Channel)(nil)
