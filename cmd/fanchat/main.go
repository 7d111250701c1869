package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fansphere/realtime/internal/chat"
	"github.com/fansphere/realtime/internal/config"
	"github.com/fansphere/realtime/internal/notify"
	"github.com/fansphere/realtime/internal/registry"
	"github.com/fansphere/realtime/internal/session"
	"github.com/fansphere/realtime/pkg/logger"
	"github.com/fansphere/realtime/pkg/protocol"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Relay base URL")
	user := flag.String("user", "", "User id")
	conversation := flag.String("conversation", "", "Conversation id to join")
	flag.Parse()

	if *user == "" || *conversation == "" {
		fmt.Fprintln(os.Stderr, "Both -user and -conversation are required")
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	reg, err := registry.New(registry.Config{
		BaseURL: *server,
		Dialer:  &identityDialer{userID: *user},
		NotifyEvents: notify.Events{
			OnNotification: func(n protocol.Notification) {
				fmt.Printf("*** notification: %s %s\n", n.Title, n.Message)
			},
			OnUnreadCount: func(count int) {
				fmt.Printf("*** unread notifications: %d\n", count)
			},
		},
		TypingIdle: cfg.Session.TypingIdle.Std(),
		Tuning: session.Tuning{
			HeartbeatInterval: cfg.Session.HeartbeatInterval.Std(),
			AckTimeout:        cfg.Session.AckTimeout.Std(),
			BackoffBase:       cfg.Session.BackoffBase.Std(),
			BackoffGrowth:     cfg.Session.BackoffGrowth,
			MaxAttempts:       cfg.Session.MaxAttempts,
		},
		Logger: logger.Log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.CloseAll()

	ctx := context.Background()
	if err := reg.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}

	ch, err := reg.OpenChat(ctx, *conversation, chat.Events{
		OnEstablished: func(participants []protocol.Participant) {
			fmt.Printf("*** connected, %d participant(s)\n", len(participants))
		},
		OnMessage: func(msg protocol.Message) {
			fmt.Printf("[%s] %s (%s)\n", msg.Sender.Username, msg.Content, msg.ID)
		},
		OnMessageEdited: func(msg protocol.Message) {
			fmt.Printf("[%s] (edited) %s\n", msg.Sender.Username, msg.Content)
		},
		OnMessageDeleted: func(messageID, deletedBy string) {
			fmt.Printf("*** message %s deleted by %s\n", messageID, deletedBy)
		},
		OnTyping: func(user protocol.User, isTyping bool) {
			if isTyping {
				fmt.Printf("*** %s is typing...\n", user.Username)
			}
		},
		OnRead: func(messageIDs []string, userID string) {
			fmt.Printf("*** %s read %d message(s)\n", userID, len(messageIDs))
		},
		OnUserStatus: func(userID, status string) {
			fmt.Printf("*** %s is %s\n", userID, status)
		},
		OnServerError: func(message string) {
			fmt.Printf("*** server error: %s\n", message)
		},
		OnConnectionLost: func(err error) {
			fmt.Printf("*** connection lost: %v\n", err)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open chat: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Commands: /read id[,id...]  /edit id text  /del id  /recent  /quit")
	fmt.Println("Anything else is sent as a message.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ch.InputActivity()

		switch {
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/read "):
			ids := strings.Split(strings.TrimPrefix(line, "/read "), ",")
			if err := ch.MarkRead(ctx, ids); err != nil {
				fmt.Printf("mark read failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/edit "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/edit "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /edit id text")
				continue
			}
			if err := ch.Edit(ctx, parts[0], parts[1]); err != nil {
				fmt.Printf("edit failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/del "):
			if err := ch.Delete(ctx, strings.TrimPrefix(line, "/del ")); err != nil {
				fmt.Printf("delete failed: %v\n", err)
			}
		case line == "/recent":
			if err := reg.Notifications().GetRecent(ctx); err != nil {
				fmt.Printf("get recent failed: %v\n", err)
			}
		default:
			if err := ch.Send(ctx, line, ""); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

// identityDialer appends the user identity to every endpoint URL. The
// production platform carries identity in the session cookie instead.
type identityDialer struct {
	userID string
	inner  session.WebSocketDialer
}

func (d *identityDialer) Dial(ctx context.Context, url string) (session.Conn, error) {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return d.inner.Dial(ctx, url+sep+"user_id="+d.userID+"&username="+d.userID)
}
