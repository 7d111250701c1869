// Package registry owns the realtime sessions of one authenticated user:
// the notification channel, the presence channel, and one chat channel
// per open conversation. It is constructed once at application startup
// and passed to whatever needs to send or receive; there is no ambient
// global state.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fansphere/realtime/internal/chat"
	"github.com/fansphere/realtime/internal/notify"
	"github.com/fansphere/realtime/internal/presence"
	"github.com/fansphere/realtime/internal/session"
	"github.com/fansphere/realtime/pkg/logger"
)

// Config parameterizes a Registry.
type Config struct {
	// BaseURL is the platform origin, e.g. "https://fansphere.example".
	// The websocket scheme is derived from it.
	BaseURL string

	Dialer session.Dialer

	// NotifyEvents and lost-connection hooks for the user-scoped
	// channels. Per-conversation chat events are passed to OpenChat.
	NotifyEvents notify.Events

	// TypingIdle is the chat typing-debounce gap.
	TypingIdle time.Duration

	Tuning session.Tuning
	Logger *slog.Logger
}

// Registry is the explicit session registry. All methods are safe for
// concurrent use.
type Registry struct {
	cfg Config
	log *slog.Logger

	notifications *notify.Channel
	presenceChan  *presence.Channel
	tracker       *presence.Tracker

	mu     sync.Mutex
	chats  map[string]*chat.Channel
	closed bool
}

// New constructs a Registry and its user-scoped channels. Nothing
// connects until Connect is called.
func New(cfg Config) (*Registry, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("registry: base url is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &session.WebSocketDialer{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Log
	}

	tracker := presence.NewTracker()

	notifications, err := notify.NewChannel(notify.ChannelConfig{
		BaseURL: cfg.BaseURL,
		Dialer:  cfg.Dialer,
		Events:  cfg.NotifyEvents,
		Tuning:  cfg.Tuning,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	presenceChan, err := presence.NewChannel(presence.ChannelConfig{
		BaseURL: cfg.BaseURL,
		Dialer:  cfg.Dialer,
		Tracker: tracker,
		Tuning:  cfg.Tuning,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		cfg:           cfg,
		log:           log,
		notifications: notifications,
		presenceChan:  presenceChan,
		tracker:       tracker,
		chats:         make(map[string]*chat.Channel),
	}, nil
}

// Connect opens the user-scoped channels (notifications and presence).
// Chat channels connect individually via OpenChat.
func (r *Registry) Connect(ctx context.Context) error {
	if err := r.notifications.Connect(ctx); err != nil {
		return err
	}
	return r.presenceChan.Connect(ctx)
}

// OpenChat returns the channel for a conversation, creating and
// connecting it on first use. Each conversation has at most one channel.
func (r *Registry) OpenChat(ctx context.Context, conversationID string, events chat.Events) (*chat.Channel, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("registry: closed")
	}
	if existing, ok := r.chats[conversationID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	ch, err := chat.NewChannel(chat.ChannelConfig{
		BaseURL:        r.cfg.BaseURL,
		ConversationID: conversationID,
		Dialer:         r.cfg.Dialer,
		Events:         events,
		Presence:       r.tracker,
		TypingIdle:     r.cfg.TypingIdle,
		Tuning:         r.cfg.Tuning,
		Logger:         r.log,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch.Close()
		return nil, errors.New("registry: closed")
	}
	if existing, ok := r.chats[conversationID]; ok {
		// Lost the race; keep the first channel.
		r.mu.Unlock()
		return existing, nil
	}
	r.chats[conversationID] = ch
	r.mu.Unlock()

	if err := ch.Connect(ctx); err != nil {
		return ch, err
	}
	return ch, nil
}

// Chat returns an already-open conversation channel.
func (r *Registry) Chat(conversationID string) (*chat.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chats[conversationID]
	return ch, ok
}

// CloseChat terminates and forgets one conversation channel.
func (r *Registry) CloseChat(conversationID string) {
	r.mu.Lock()
	ch, ok := r.chats[conversationID]
	delete(r.chats, conversationID)
	r.mu.Unlock()
	if ok {
		ch.Close()
	}
}

// Notifications returns the user's notification channel.
func (r *Registry) Notifications() *notify.Channel { return r.notifications }

// Presence returns the shared presence table.
func (r *Registry) Presence() *presence.Tracker { return r.tracker }

// CloseAll terminates every session owned by the registry. The registry
// accepts no new channels afterwards.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	chats := make([]*chat.Channel, 0, len(r.chats))
	for _, ch := range r.chats {
		chats = append(chats, ch)
	}
	r.chats = make(map[string]*chat.Channel)
	r.mu.Unlock()

	for _, ch := range chats {
		ch.Close()
	}
	r.notifications.Close()
	r.presenceChan.Close()
}
