package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fansphere/realtime/internal/presence"
	"github.com/fansphere/realtime/pkg/protocol"
)

const (
	outgoingBuffer = 64
	recentLimit    = 20
)

// Backbone topics.
const (
	topicStatus = "fansphere.status"
)

func chatTopic(conversationID string) string {
	return "fansphere.chat." + conversationID
}

func notifyTopic(userID string) string {
	return "fansphere.notify." + userID
}

// client is one accepted websocket connection. The server owns the read
// and write loops; the hub only enqueues onto outgoing.
type client struct {
	id       string
	userID   string
	username string
	channel  string

	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

func newClient(id, userID, username, channel string) *client {
	return &client{
		id:       id,
		userID:   userID,
		username: username,
		channel:  channel,
		outgoing: make(chan []byte, outgoingBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue hands a frame to the client's write loop without blocking. A
// full buffer drops the frame; slow consumers must not stall the room.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	case c.outgoing <- data:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// relayEnvelope wraps a frame on the backbone so delivery exclusions
// survive crossing processes.
type relayEnvelope struct {
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// subscription is a refcounted backbone subscription shared by the local
// members of one topic.
type subscription struct {
	refs  int
	unsub func()
}

// Hub coordinates the relay's local connections and the backbone:
// per-conversation chat rooms, per-user notification groups, and the
// shared status stream. Notification unread counters and the recent
// buffer live here; durable persistence belongs to the storage service.
type Hub struct {
	backbone Backbone
	metrics  *Metrics
	log      *slog.Logger

	// Server-side presence, fed by connection transitions.
	presence *presence.Tracker

	mu          sync.Mutex
	rooms       map[string]map[*client]struct{}
	roomSubs    map[string]*subscription
	notifiers   map[string]map[*client]struct{}
	notifySubs  map[string]*subscription
	statusConns map[*client]struct{}
	statusSub   *subscription
	online      map[string]int

	stateMu sync.Mutex
	unread  map[string]int
	recent  map[string][]protocol.Notification
}

// NewHub constructs a Hub on the given backbone.
func NewHub(backbone Backbone, metrics *Metrics, log *slog.Logger) *Hub {
	return &Hub{
		backbone:    backbone,
		metrics:     metrics,
		log:         log,
		presence:    presence.NewTracker(),
		rooms:       make(map[string]map[*client]struct{}),
		roomSubs:    make(map[string]*subscription),
		notifiers:   make(map[string]map[*client]struct{}),
		notifySubs:  make(map[string]*subscription),
		statusConns: make(map[*client]struct{}),
		online:      make(map[string]int),
		unread:      make(map[string]int),
		recent:      make(map[string][]protocol.Notification),
	}
}

// Presence returns the relay's presence table.
func (h *Hub) Presence() *presence.Tracker { return h.presence }

// JoinRoom adds a chat client to a conversation room, subscribing the
// room's backbone topic on first member.
func (h *Hub) JoinRoom(ctx context.Context, conversationID string, c *client) error {
	h.mu.Lock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}

	sub := h.roomSubs[conversationID]
	if sub != nil {
		sub.refs++
		h.mu.Unlock()
		h.markConnected(c.userID)
		return nil
	}
	h.mu.Unlock()

	unsub, err := h.backbone.Subscribe(ctx, chatTopic(conversationID), func(payload []byte) {
		h.deliverRoom(conversationID, payload)
	})
	if err != nil {
		h.mu.Lock()
		delete(h.rooms[conversationID], c)
		if len(h.rooms[conversationID]) == 0 {
			delete(h.rooms, conversationID)
		}
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	h.roomSubs[conversationID] = &subscription{refs: 1, unsub: unsub}
	h.mu.Unlock()
	h.markConnected(c.userID)
	return nil
}

// LeaveRoom removes a chat client, dropping the backbone subscription
// with the last member.
func (h *Hub) LeaveRoom(conversationID string, c *client) {
	h.mu.Lock()
	room := h.rooms[conversationID]
	if room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	var unsub func()
	if sub := h.roomSubs[conversationID]; sub != nil {
		sub.refs--
		if sub.refs <= 0 {
			unsub = sub.unsub
			delete(h.roomSubs, conversationID)
		}
	}
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	h.markDisconnected(c.userID)
}

// RoomMembers returns the distinct users with a local connection to the
// conversation.
func (h *Hub) RoomMembers(conversationID string) []protocol.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]struct{})
	var members []protocol.Participant
	for c := range h.rooms[conversationID] {
		if _, ok := seen[c.userID]; ok {
			continue
		}
		seen[c.userID] = struct{}{}
		members = append(members, protocol.Participant{
			User:     protocol.User{ID: c.userID, Username: c.username},
			IsOnline: true,
		})
	}
	return members
}

// BroadcastChat publishes a frame to a conversation. excludeUserID, when
// non-empty, suppresses delivery to that user (typing frames are not
// echoed to their sender).
func (h *Hub) BroadcastChat(ctx context.Context, conversationID string, frame any, excludeUserID string) error {
	payload, err := wrapFrame(frame, excludeUserID)
	if err != nil {
		return err
	}
	return h.backbone.Publish(ctx, chatTopic(conversationID), payload)
}

func (h *Hub) deliverRoom(conversationID string, payload []byte) {
	env, err := unwrapFrame(payload)
	if err != nil {
		h.log.Warn("dropping invalid backbone payload", "topic", "chat", "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		if env.Exclude != "" && c.userID == env.Exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(env.Frame) {
			h.metrics.DroppedFrames.Inc()
		} else {
			h.metrics.FramesTotal.WithLabelValues("chat", "out").Inc()
		}
	}
}

// AttachNotifier registers a notification connection for a user.
func (h *Hub) AttachNotifier(ctx context.Context, c *client) error {
	h.mu.Lock()
	group := h.notifiers[c.userID]
	if group == nil {
		group = make(map[*client]struct{})
		h.notifiers[c.userID] = group
	}
	group[c] = struct{}{}

	sub := h.notifySubs[c.userID]
	if sub != nil {
		sub.refs++
		h.mu.Unlock()
		h.markConnected(c.userID)
		return nil
	}
	h.mu.Unlock()

	userID := c.userID
	unsub, err := h.backbone.Subscribe(ctx, notifyTopic(userID), func(payload []byte) {
		h.deliverUser(userID, payload)
	})
	if err != nil {
		h.mu.Lock()
		delete(h.notifiers[userID], c)
		if len(h.notifiers[userID]) == 0 {
			delete(h.notifiers, userID)
		}
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	h.notifySubs[userID] = &subscription{refs: 1, unsub: unsub}
	h.mu.Unlock()
	h.markConnected(userID)
	return nil
}

// DetachNotifier removes a notification connection.
func (h *Hub) DetachNotifier(c *client) {
	h.mu.Lock()
	group := h.notifiers[c.userID]
	if group != nil {
		delete(group, c)
		if len(group) == 0 {
			delete(h.notifiers, c.userID)
		}
	}
	var unsub func()
	if sub := h.notifySubs[c.userID]; sub != nil {
		sub.refs--
		if sub.refs <= 0 {
			unsub = sub.unsub
			delete(h.notifySubs, c.userID)
		}
	}
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	h.markDisconnected(c.userID)
}

func (h *Hub) deliverUser(userID string, payload []byte) {
	env, err := unwrapFrame(payload)
	if err != nil {
		h.log.Warn("dropping invalid backbone payload", "topic", "notify", "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.notifiers[userID]))
	for c := range h.notifiers[userID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(env.Frame) {
			h.metrics.DroppedFrames.Inc()
		} else {
			h.metrics.FramesTotal.WithLabelValues("notifications", "out").Inc()
		}
	}
}

// AttachStatus registers a presence-stream connection.
func (h *Hub) AttachStatus(ctx context.Context, c *client) error {
	h.mu.Lock()
	h.statusConns[c] = struct{}{}
	sub := h.statusSub
	if sub != nil {
		sub.refs++
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	unsub, err := h.backbone.Subscribe(ctx, topicStatus, func(payload []byte) {
		h.deliverStatus(payload)
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.statusSub = &subscription{refs: 1, unsub: unsub}
	h.mu.Unlock()
	return nil
}

// DetachStatus removes a presence-stream connection.
func (h *Hub) DetachStatus(c *client) {
	h.mu.Lock()
	delete(h.statusConns, c)
	var unsub func()
	if h.statusSub != nil {
		h.statusSub.refs--
		if h.statusSub.refs <= 0 {
			unsub = h.statusSub.unsub
			h.statusSub = nil
		}
	}
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (h *Hub) deliverStatus(payload []byte) {
	env, err := unwrapFrame(payload)
	if err != nil {
		h.log.Warn("dropping invalid backbone payload", "topic", "status", "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.statusConns))
	for c := range h.statusConns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(env.Frame) {
			h.metrics.DroppedFrames.Inc()
		} else {
			h.metrics.FramesTotal.WithLabelValues("status", "out").Inc()
		}
	}
}

// markConnected counts a user's connections and announces the
// offline-to-online transition.
func (h *Hub) markConnected(userID string) {
	h.mu.Lock()
	h.online[userID]++
	first := h.online[userID] == 1
	h.mu.Unlock()

	if first {
		h.publishStatus(userID, protocol.StatusOnline)
	}
}

func (h *Hub) markDisconnected(userID string) {
	h.mu.Lock()
	h.online[userID]--
	last := h.online[userID] <= 0
	if last {
		delete(h.online, userID)
	}
	h.mu.Unlock()

	if last {
		h.publishStatus(userID, protocol.StatusOffline)
	}
}

func (h *Hub) publishStatus(userID, status string) {
	now := time.Now().UTC()
	frame := protocol.UserStatusFrame{
		Type:     protocol.TypeStatusUpdate,
		UserID:   userID,
		Status:   status,
		LastSeen: &now,
	}
	h.presence.Apply(frame)

	payload, err := wrapFrame(frame, "")
	if err != nil {
		h.log.Warn("encode status frame", "error", err)
		return
	}
	if err := h.backbone.Publish(context.Background(), topicStatus, payload); err != nil {
		h.log.Warn("publish status frame", "error", err)
	}
}

// PushNotification records a notification for a user and fans it out to
// the user's open notification connections.
func (h *Hub) PushNotification(ctx context.Context, userID string, n protocol.Notification) error {
	h.stateMu.Lock()
	if !n.IsRead {
		h.unread[userID]++
	}
	recent := append([]protocol.Notification{n}, h.recent[userID]...)
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	h.recent[userID] = recent
	h.stateMu.Unlock()

	payload, err := wrapFrame(protocol.NotificationFrame{
		Type:         protocol.TypeNotification,
		Notification: n,
	}, "")
	if err != nil {
		return err
	}
	return h.backbone.Publish(ctx, notifyTopic(userID), payload)
}

// UnreadCount returns the user's authoritative unread count.
func (h *Hub) UnreadCount(userID string) int {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.unread[userID]
}

// Recent returns the user's recent notifications, newest first.
func (h *Hub) Recent(userID string) []protocol.Notification {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	out := make([]protocol.Notification, len(h.recent[userID]))
	copy(out, h.recent[userID])
	return out
}

// MarkNotificationRead flags one notification read and returns the new
// unread count.
func (h *Hub) MarkNotificationRead(userID, notificationID string) int {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	for i, n := range h.recent[userID] {
		if n.ID == notificationID && !n.IsRead {
			h.recent[userID][i].IsRead = true
			if h.unread[userID] > 0 {
				h.unread[userID]--
			}
			break
		}
	}
	return h.unread[userID]
}

// MarkAllNotificationsRead clears the user's unread set.
func (h *Hub) MarkAllNotificationsRead(userID string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	for i := range h.recent[userID] {
		h.recent[userID][i].IsRead = true
	}
	h.unread[userID] = 0
}

// DeleteNotification removes one notification and returns the new unread
// count.
func (h *Hub) DeleteNotification(userID, notificationID string) int {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	for i, n := range h.recent[userID] {
		if n.ID == notificationID {
			if !n.IsRead && h.unread[userID] > 0 {
				h.unread[userID]--
			}
			h.recent[userID] = append(h.recent[userID][:i], h.recent[userID][i+1:]...)
			break
		}
	}
	return h.unread[userID]
}

// PushUpdateCount fans the user's current unread count out to their
// notification connections.
func (h *Hub) PushUpdateCount(ctx context.Context, userID string) error {
	payload, err := wrapFrame(protocol.UpdateCountFrame{
		Type:        protocol.TypeUpdateCount,
		UnreadCount: h.UnreadCount(userID),
	}, "")
	if err != nil {
		return err
	}
	return h.backbone.Publish(ctx, notifyTopic(userID), payload)
}

func wrapFrame(frame any, exclude string) ([]byte, error) {
	raw, err := protocol.Encode(frame)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(relayEnvelope{Exclude: exclude, Frame: raw})
	if err != nil {
		return nil, fmt.Errorf("relay: wrap frame: %w", err)
	}
	return payload, nil
}

func unwrapFrame(payload []byte) (relayEnvelope, error) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return relayEnvelope{}, fmt.Errorf("relay: unwrap frame: %w", err)
	}
	return env, nil
}
