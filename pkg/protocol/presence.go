package protocol

import "time"

// Presence frame discriminators. user_status arrives on chat connections;
// the status endpoint emits friend_status_update and status_update.
const (
	TypeFriendStatusUpdate = "friend_status_update"
	TypeStatusUpdate       = "status_update"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// UserStatusFrame carries a user's presence transition.
type UserStatusFrame struct {
	Type     string     `json:"type"`
	UserID   string     `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// PresenceRecord is the tracked presence of one user.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}
