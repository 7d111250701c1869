package protocol

import "time"

// Chat frame discriminators.
const (
	// Server -> client
	TypeConnectionEstablished = "connection_established"
	TypeMessage               = "message"
	TypeTyping                = "typing"
	TypeRead                  = "read"
	TypeMessageDeleted        = "message_deleted"
	TypeMessageEdited         = "message_edited"
	TypeUserStatus            = "user_status"
	TypeError                 = "error"

	// Client -> server
	TypeDeleteMessage = "delete_message"
	TypeEditMessage   = "edit_message"
)

// User identifies a platform account as embedded in chat frames.
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	IsVerified     bool   `json:"is_verified,omitempty"`
	UserType       string `json:"user_type,omitempty"`
}

// Participant is a conversation member as delivered in the
// connection_established roster.
type Participant struct {
	User
	IsOnline bool `json:"is_online,omitempty"`
}

// Message is one chat message. Identity is ID; edits and deletions mutate
// or remove the held representation, never duplicate it.
type Message struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Sender    User       `json:"sender"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReplyTo   string     `json:"reply_to,omitempty"`
}

// ChatEstablishedFrame is the greeting sent when a chat connection opens.
type ChatEstablishedFrame struct {
	Type         string        `json:"type"`
	Message      string        `json:"message,omitempty"`
	UserID       string        `json:"user_id"`
	Participants []Participant `json:"participants"`
}

// MessageFrame delivers a new chat message.
type MessageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// TypingFrame carries a peer's typing state.
type TypingFrame struct {
	Type     string `json:"type"`
	User     User   `json:"user"`
	IsTyping bool   `json:"is_typing"`
}

// ReadFrame is a read receipt for a batch of messages.
type ReadFrame struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"message_ids"`
	UserID     string   `json:"user_id"`
}

// MessageDeletedFrame announces a deleted message.
type MessageDeletedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

// MessageEdit is the payload of a message_edited frame.
type MessageEdit struct {
	ID         string    `json:"id"`
	NewContent string    `json:"new_content"`
	EditedAt   time.Time `json:"edited_at"`
}

// MessageEditedFrame announces an edited message.
type MessageEditedFrame struct {
	Type    string      `json:"type"`
	Message MessageEdit `json:"message"`
}

// ErrorFrame is a server-reported protocol failure, e.g. a rejected
// message. It is surfaced to the user verbatim and never closes the
// connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SendMessageFrame is the client request to post a message.
type SendMessageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// SendTypingFrame is the client request to flag typing state.
type SendTypingFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// MarkReadFrame is the client request to mark messages read.
type MarkReadFrame struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"message_ids"`
}

// DeleteMessageFrame is the client request to delete a message. The relay
// enforces authorization; this layer only transmits intent.
type DeleteMessageFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// EditMessageFrame is the client request to edit a message.
type EditMessageFrame struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	NewContent string `json:"new_content"`
}
