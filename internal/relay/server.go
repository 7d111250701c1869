// Package relay is the reference connection-handling server for the
// realtime layer: it terminates the three websocket endpoints, fans
// frames out through a pluggable pub/sub backbone, and keeps only the
// in-memory state the protocol requires. Durable persistence and
// authentication are external collaborators.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fansphere/realtime/pkg/logger"
	"github.com/fansphere/realtime/pkg/protocol"
)

// ServerConfig parameterizes a relay server.
type ServerConfig struct {
	Addr     string
	Backbone Backbone
	Logger   *slog.Logger
}

// Server accepts websocket connections on the chat, notification and
// status endpoints and bridges them onto the Hub.
type Server struct {
	addr string
	hub  *Hub
	log  *slog.Logger

	metrics  *Metrics
	registry *prometheus.Registry

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// NewServer constructs a relay server. A nil backbone gets the in-process
// implementation.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Log
	}
	backbone := cfg.Backbone
	if backbone == nil {
		backbone = NewMemoryBackbone()
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	s := &Server{
		addr:     cfg.Addr,
		log:      log,
		metrics:  metrics,
		registry: registry,
	}
	s.hub = NewHub(backbone, metrics, log)
	return s
}

// Start listens and serves until Stop. It blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.addr, err)
	}
	s.listener = listener

	r := mux.NewRouter()
	r.HandleFunc("/ws/chat/{conversation_id}/", s.handleChat)
	r.HandleFunc("/ws/notifications/", s.handleNotifications)
	r.HandleFunc("/ws/status/", s.handleStatus)
	r.HandleFunc("/api/notify", s.handlePushNotification).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.server = &http.Server{Handler: r}
	s.log.Info("relay listening", "addr", listener.Addr().String())
	if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and waits for connection goroutines.
func (s *Server) Stop(ctx context.Context) {
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	s.wg.Wait()
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Hub exposes the hub, e.g. for pushing notifications from process-local
// collaborators.
func (s *Server) Hub() *Hub { return s.hub }

// identity extracts the caller's identity. Authentication itself is an
// external collaborator; the relay trusts the session layer in front of
// it and falls back to an anonymous id.
func identity(r *http.Request) (userID, username string) {
	q := r.URL.Query()
	userID = q.Get("user_id")
	username = q.Get("username")
	if userID == "" {
		userID = "anon-" + uuid.NewString()
	}
	if username == "" {
		username = userID
	}
	return userID, username
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("relay: upgrade: %w", err)
	}
	return conn, nil
}

func (s *Server) writeLoop(conn net.Conn, c *client) {
	defer s.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outgoing:
			if err := wsutil.WriteServerText(conn, data); err != nil {
				s.log.Debug("write failed", "client", c.id, "error", err)
				c.stop()
				return
			}
		}
	}
}

// readFrame reads one inbound frame, answering heartbeats in place.
// It returns the decoded envelope or false when the connection is done.
func (s *Server) readFrame(conn net.Conn, c *client) (protocol.Envelope, bool) {
	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return protocol.Envelope{}, false
		}
		s.metrics.FramesTotal.WithLabelValues(c.channel, "in").Inc()

		env, derr := protocol.DecodeEnvelope(data)
		if derr != nil {
			s.log.Debug("dropping malformed frame", "client", c.id, "error", derr)
			continue
		}
		if env.Type == protocol.TypeHeartbeat {
			c.enqueue(protocol.HeartbeatAckFrame())
			continue
		}
		return env, true
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversation_id"]
	userID, username := identity(r)

	conn, err := s.upgrade(w, r)
	if err != nil {
		s.log.Warn("chat upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), userID, username, "chat")
	s.metrics.ActiveConnections.WithLabelValues("chat").Inc()

	s.wg.Add(1)
	go s.writeLoop(conn, c)

	ctx := context.Background()
	if err := s.hub.JoinRoom(ctx, conversationID, c); err != nil {
		s.log.Warn("join room failed", "conversation", conversationID, "error", err)
		c.stop()
		_ = conn.Close()
		s.metrics.ActiveConnections.WithLabelValues("chat").Dec()
		return
	}

	greeting, _ := protocol.Encode(protocol.ChatEstablishedFrame{
		Type:         protocol.TypeConnectionEstablished,
		Message:      "Connected to chat",
		UserID:       userID,
		Participants: s.hub.RoomMembers(conversationID),
	})
	c.enqueue(greeting)

	_ = s.hub.BroadcastChat(ctx, conversationID, protocol.UserStatusFrame{
		Type:   protocol.TypeUserStatus,
		UserID: userID,
		Status: protocol.StatusOnline,
	}, "")

	s.chatReadLoop(ctx, conn, c, conversationID)

	s.hub.LeaveRoom(conversationID, c)
	_ = s.hub.BroadcastChat(ctx, conversationID, protocol.UserStatusFrame{
		Type:   protocol.TypeUserStatus,
		UserID: userID,
		Status: protocol.StatusOffline,
	}, "")
	c.stop()
	_ = conn.Close()
	s.metrics.ActiveConnections.WithLabelValues("chat").Dec()
}

func (s *Server) chatReadLoop(ctx context.Context, conn net.Conn, c *client, conversationID string) {
	sender := protocol.User{ID: c.userID, Username: c.username}

	for {
		env, ok := s.readFrame(conn, c)
		if !ok {
			return
		}

		switch env.Type {
		case protocol.TypeMessage:
			var frame protocol.SendMessageFrame
			if err := json.Unmarshal(env.Raw, &frame); err != nil {
				continue
			}
			if frame.Message == "" {
				// Mirror the platform's rejected-message path: a
				// server error frame, connection stays open.
				errFrame, _ := protocol.Encode(protocol.ErrorFrame{
					Type:    protocol.TypeError,
					Message: "Message cannot be empty.",
				})
				c.enqueue(errFrame)
				continue
			}
			_ = s.hub.BroadcastChat(ctx, conversationID, protocol.MessageFrame{
				Type: protocol.TypeMessage,
				Message: protocol.Message{
					ID:        uuid.NewString(),
					Content:   frame.Message,
					Sender:    sender,
					CreatedAt: time.Now().UTC(),
					ReplyTo:   frame.ReplyTo,
				},
			}, "")

		case protocol.TypeTyping:
			var frame protocol.SendTypingFrame
			if err := json.Unmarshal(env.Raw, &frame); err != nil {
				continue
			}
			// Typing indicators are not echoed to their sender.
			_ = s.hub.BroadcastChat(ctx, conversationID, protocol.TypingFrame{
				Type:     protocol.TypeTyping,
				User:     sender,
				IsTyping: frame.IsTyping,
			}, c.userID)

		case protocol.TypeRead:
			var frame protocol.MarkReadFrame
			if err := json.Unmarshal(env.Raw, &frame); err != nil {
				continue
			}
			_ = s.hub.BroadcastChat(ctx, conversationID, protocol.ReadFrame{
				Type:       protocol.TypeRead,
				MessageIDs: frame.MessageIDs,
				UserID:     c.userID,
			}, "")

		case protocol.TypeDeleteMessage:
			var frame protocol.DeleteMessageFrame
			if err := json.Unmarshal(env.Raw, &frame); err != nil {
				continue
			}
			_ = s.hub.BroadcastChat(ctx, conversationID, protocol.MessageDeletedFrame{
				Type:      protocol.TypeMessageDeleted,
				MessageID: frame.MessageID,
				DeletedBy: c.userID,
			}, "")

		case protocol.TypeEditMessage:
			var frame protocol.EditMessageFrame
			if err := json.Unmarshal(env.Raw, &frame); err != nil {
				continue
			}
			_ = s.hub.BroadcastChat(ctx, conversationID, protocol.MessageEditedFrame{
				Type: protocol.TypeMessageEdited,
				Message: protocol.MessageEdit{
					ID:         frame.MessageID,
					NewContent: frame.NewContent,
					EditedAt:   time.Now().UTC(),
				},
			}, "")

		default:
			s.log.Debug("dropping frame with unknown type", "type", env.Type)
		}
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, username := identity(r)

	conn, err := s.upgrade(w, r)
	if err != nil {
		s.log.Warn("notifications upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), userID, username, "notifications")
	s.metrics.ActiveConnections.WithLabelValues("notifications").Inc()

	s.wg.Add(1)
	go s.writeLoop(conn, c)

	ctx := context.Background()
	if err := s.hub.AttachNotifier(ctx, c); err != nil {
		s.log.Warn("attach notifier failed", "user", userID, "error", err)
		c.stop()
		_ = conn.Close()
		s.metrics.ActiveConnections.WithLabelValues("notifications").Dec()
		return
	}

	greeting, _ := protocol.Encode(protocol.NotifyConnectedFrame{
		Type:          protocol.TypeConnection,
		UnreadCount:   s.hub.UnreadCount(userID),
		Notifications: s.hub.Recent(userID),
	})
	c.enqueue(greeting)

	for {
		env, ok := s.readFrame(conn, c)
		if !ok {
			break
		}

		var action protocol.NotificationActionFrame
		if err := json.Unmarshal(env.Raw, &action); err != nil {
			continue
		}

		switch env.Type {
		case protocol.ActionMarkRead:
			s.hub.MarkNotificationRead(userID, action.NotificationID)
			_ = s.hub.PushUpdateCount(ctx, userID)
		case protocol.ActionMarkAllRead:
			s.hub.MarkAllNotificationsRead(userID)
			_ = s.hub.PushUpdateCount(ctx, userID)
		case protocol.ActionDelete:
			s.hub.DeleteNotification(userID, action.NotificationID)
			_ = s.hub.PushUpdateCount(ctx, userID)
		case protocol.ActionGetRecent:
			frame, _ := protocol.Encode(protocol.RecentNotificationsFrame{
				Type:          protocol.TypeRecentNotifications,
				Notifications: s.hub.Recent(userID),
			})
			c.enqueue(frame)
		default:
			s.log.Debug("dropping frame with unknown action", "type", env.Type)
		}
	}

	s.hub.DetachNotifier(c)
	c.stop()
	_ = conn.Close()
	s.metrics.ActiveConnections.WithLabelValues("notifications").Dec()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)

	conn, err := s.upgrade(w, r)
	if err != nil {
		s.log.Warn("status upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), userID, userID, "status")
	s.metrics.ActiveConnections.WithLabelValues("status").Inc()

	s.wg.Add(1)
	go s.writeLoop(conn, c)

	if err := s.hub.AttachStatus(context.Background(), c); err != nil {
		s.log.Warn("attach status failed", "user", userID, "error", err)
		c.stop()
		_ = conn.Close()
		s.metrics.ActiveConnections.WithLabelValues("status").Dec()
		return
	}

	// Replay the current presence table so a reconnecting client
	// recovers transitions it missed while disconnected.
	for _, rec := range s.hub.Presence().Snapshot() {
		last := rec.LastSeen
		frame, _ := protocol.Encode(protocol.UserStatusFrame{
			Type:     protocol.TypeStatusUpdate,
			UserID:   rec.UserID,
			Status:   rec.Status,
			LastSeen: &last,
		})
		c.enqueue(frame)
	}

	// The status stream is inbound-only for clients beyond heartbeat.
	for {
		if _, ok := s.readFrame(conn, c); !ok {
			break
		}
	}

	s.hub.DetachStatus(c)
	c.stop()
	_ = conn.Close()
	s.metrics.ActiveConnections.WithLabelValues("status").Dec()
}

// handlePushNotification lets the platform's CRUD layer inject a
// notification, standing in for the storage service's delivery hook.
func (s *Server) handlePushNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		Type      string `json:"type"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		TargetURL string `json:"target_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	n := protocol.Notification{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
		TargetURL: req.TargetURL,
	}
	if err := s.hub.PushNotification(r.Context(), req.UserID, n); err != nil {
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": n.ID})
}
