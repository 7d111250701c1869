package protocol

import "time"

// Notification frame discriminators and actions.
const (
	// Server -> client
	TypeConnection          = "connection"
	TypeNotification        = "notification"
	TypeUpdateCount         = "update_count"
	TypeRecentNotifications = "recent_notifications"

	// Client -> server ("action" frames)
	ActionMarkRead    = "mark_read"
	ActionMarkAllRead = "mark_all_read"
	ActionDelete      = "delete"
	ActionGetRecent   = "get_recent"
)

// Notification is one push notification. Identity is ID.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Sender    *User     `json:"sender,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	Icon      string    `json:"icon,omitempty"`
	Color     string    `json:"color,omitempty"`
	TargetURL string    `json:"target_url,omitempty"`
}

// NotifyConnectedFrame is the greeting sent when a notification connection
// opens. UnreadCount is authoritative: the client reconciles its local
// count against it on every (re)connect. The discriminator may be either
// "connection" or "connection_established".
type NotifyConnectedFrame struct {
	Type          string         `json:"type"`
	UnreadCount   int            `json:"unread_count"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// NotificationFrame delivers a single new notification.
type NotificationFrame struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// UpdateCountFrame replaces the unread count.
type UpdateCountFrame struct {
	Type        string `json:"type"`
	UnreadCount int    `json:"unread_count"`
}

// RecentNotificationsFrame replaces the recent-notification list.
type RecentNotificationsFrame struct {
	Type          string         `json:"type"`
	Notifications []Notification `json:"notifications"`
}

// NotificationActionFrame is a client request on the notification channel.
// NotificationID is set for mark_read and delete.
type NotificationActionFrame struct {
	Action         string `json:"action"`
	NotificationID string `json:"notification_id,omitempty"`
}
