// Package chat implements the conversation-scoped realtime channel:
// message delivery, typing indicators, read receipts, edits and
// deletions over one Transport Session.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fansphere/realtime/internal/presence"
	"github.com/fansphere/realtime/internal/router"
	"github.com/fansphere/realtime/internal/session"
	"github.com/fansphere/realtime/pkg/logger"
	"github.com/fansphere/realtime/pkg/protocol"
)

// Events is the sink the channel emits rendering events into. Nil fields
// are skipped. Callbacks run on the session's event goroutine, one at a
// time, in inbound order.
type Events struct {
	OnEstablished    func(participants []protocol.Participant)
	OnMessage        func(msg protocol.Message)
	OnMessageEdited  func(msg protocol.Message)
	OnMessageDeleted func(messageID, deletedBy string)
	OnTyping         func(user protocol.User, isTyping bool)
	OnRead           func(messageIDs []string, userID string)
	OnUserStatus     func(userID, status string)
	OnServerError    func(message string)
	OnConnectionLost func(err error)
}

// ChannelConfig parameterizes a chat channel.
type ChannelConfig struct {
	BaseURL        string
	ConversationID string
	Dialer         session.Dialer
	Events         Events

	// Presence, when set, is also fed from this channel's user_status
	// frames.
	Presence *presence.Tracker

	// TypingIdle is the inactivity gap for the typing debouncer.
	TypingIdle time.Duration

	Tuning session.Tuning
	Logger *slog.Logger
}

// Channel is one conversation's realtime protocol endpoint.
type Channel struct {
	conversationID string
	sess           *session.Session
	routes         *router.Router
	store          *Store
	typing         *TypingNotifier
	events         Events
	pres           *presence.Tracker
	log            *slog.Logger

	mu           sync.RWMutex
	participants []protocol.Participant
}

// NewChannel constructs a chat channel for one conversation. It does not
// connect.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	url, err := protocol.ChatURL(cfg.BaseURL, cfg.ConversationID)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Log
	}
	log = log.With("conversation", cfg.ConversationID)

	ch := &Channel{
		conversationID: cfg.ConversationID,
		routes:         router.New(log),
		store:          NewStore(),
		events:         cfg.Events,
		pres:           cfg.Presence,
		log:            log,
	}
	ch.typing = NewTypingNotifier(cfg.TypingIdle, func(isTyping bool) {
		if err := ch.SendTyping(context.Background(), isTyping); err != nil {
			log.Debug("typing frame not sent", "error", err)
		}
	})
	ch.bindRoutes()
	ch.sess = session.New(cfg.Tuning.Config(url, cfg.Dialer, ch, log))
	return ch, nil
}

// ConversationID returns the conversation this channel is scoped to.
func (c *Channel) ConversationID() string { return c.conversationID }

// Connect opens the chat connection.
func (c *Channel) Connect(ctx context.Context) error {
	return c.sess.Connect(ctx)
}

// Close terminates the channel.
func (c *Channel) Close() {
	c.typing.Stop()
	c.sess.Close()
}

// State returns the underlying session state.
func (c *Channel) State() session.State { return c.sess.State() }

// Messages returns the held conversation in created_at order.
func (c *Channel) Messages() []protocol.Message { return c.store.Messages() }

// Participants returns the roster delivered on connect.
func (c *Channel) Participants() []protocol.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// Send posts a message. replyTo may be empty.
func (c *Channel) Send(ctx context.Context, content, replyTo string) error {
	return c.sendFrame(ctx, protocol.SendMessageFrame{
		Type:    protocol.TypeMessage,
		Message: content,
		ReplyTo: replyTo,
	})
}

// SendTyping transmits the typing state. Most callers should use
// InputActivity instead, which debounces.
func (c *Channel) SendTyping(ctx context.Context, isTyping bool) error {
	return c.sendFrame(ctx, protocol.SendTypingFrame{
		Type:     protocol.TypeTyping,
		IsTyping: isTyping,
	})
}

// InputActivity records a local keystroke and drives the typing
// debouncer.
func (c *Channel) InputActivity() { c.typing.Keystroke() }

// MarkRead flags messages read locally and transmits a read receipt. The
// caller decides visibility; this layer does not. Marking the same ids
// twice leaves local state unchanged.
func (c *Channel) MarkRead(ctx context.Context, messageIDs []string) error {
	c.store.MarkRead(messageIDs)
	return c.sendFrame(ctx, protocol.MarkReadFrame{
		Type:       protocol.TypeRead,
		MessageIDs: messageIDs,
	})
}

// Delete transmits intent to delete a message. Authorization is enforced
// server-side; local removal happens when the message_deleted frame comes
// back.
func (c *Channel) Delete(ctx context.Context, messageID string) error {
	return c.sendFrame(ctx, protocol.DeleteMessageFrame{
		Type:      protocol.TypeDeleteMessage,
		MessageID: messageID,
	})
}

// Edit transmits intent to edit a message.
func (c *Channel) Edit(ctx context.Context, messageID, newContent string) error {
	return c.sendFrame(ctx, protocol.EditMessageFrame{
		Type:       protocol.TypeEditMessage,
		MessageID:  messageID,
		NewContent: newContent,
	})
}

func (c *Channel) sendFrame(ctx context.Context, frame any) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return c.sess.Send(ctx, data)
}

func (c *Channel) bindRoutes() {
	c.routes.Handle(protocol.TypeConnectionEstablished, func(raw json.RawMessage) error {
		var frame protocol.ChatEstablishedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		c.mu.Lock()
		c.participants = frame.Participants
		c.mu.Unlock()
		if c.events.OnEstablished != nil {
			c.events.OnEstablished(frame.Participants)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeMessage, func(raw json.RawMessage) error {
		var frame protocol.MessageFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		if !c.store.Add(frame.Message) {
			// Duplicate delivery after reconnect, not fresher.
			return nil
		}
		if c.events.OnMessage != nil {
			c.events.OnMessage(frame.Message)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeTyping, func(raw json.RawMessage) error {
		var frame protocol.TypingFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		if c.events.OnTyping != nil {
			c.events.OnTyping(frame.User, frame.IsTyping)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeRead, func(raw json.RawMessage) error {
		var frame protocol.ReadFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		c.store.MarkRead(frame.MessageIDs)
		if c.events.OnRead != nil {
			c.events.OnRead(frame.MessageIDs, frame.UserID)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeMessageDeleted, func(raw json.RawMessage) error {
		var frame protocol.MessageDeletedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		c.store.Delete(frame.MessageID)
		if c.events.OnMessageDeleted != nil {
			c.events.OnMessageDeleted(frame.MessageID, frame.DeletedBy)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeMessageEdited, func(raw json.RawMessage) error {
		var frame protocol.MessageEditedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		msg, ok := c.store.Edit(frame.Message)
		if ok && c.events.OnMessageEdited != nil {
			c.events.OnMessageEdited(msg)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeUserStatus, func(raw json.RawMessage) error {
		var frame protocol.UserStatusFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		if c.pres != nil {
			c.pres.Apply(frame)
		}
		if c.events.OnUserStatus != nil {
			c.events.OnUserStatus(frame.UserID, frame.Status)
		}
		return nil
	})

	c.routes.Handle(protocol.TypeError, func(raw json.RawMessage) error {
		var frame protocol.ErrorFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		if c.events.OnServerError != nil {
			c.events.OnServerError(frame.Message)
		}
		return nil
	})
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
	c.log.Debug("chat channel error", "error", err)
}

func (c *Channel) OnClose(*session.Session) {}

var _ session.Handler = (*Channel)(nil)
