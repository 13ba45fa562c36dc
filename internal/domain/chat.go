package domain

import (
	"strings"
	"time"
)

// Room types.
const (
	RoomTypeDirect = "DIRECT"
	RoomTypeGroup  = "GROUP"
)

// Room statuses.
const (
	RoomStatusRequested = "REQUESTED"
	RoomStatusApproved  = "APPROVED"
	RoomStatusRejected  = "REJECTED"
	RoomStatusDeleted   = "DELETED"
)

// Request decisions.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// LocalMessagePrefix marks client-generated temporary message identities so
// they can never collide with server-issued ones.
const LocalMessagePrefix = "local-"

// ChatRoom is one entry in the user's room list.
type ChatRoom struct {
	RoomID        string    `json:"room_id"`
	RoomType      string    `json:"room_type"`
	RoomStatus    string    `json:"room_status"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
}

// ChatMessage is a single message within a room.
//
// MessageNo is either a server-issued id or a client-generated temporary id
// carrying LocalMessagePrefix. IsLocal marks an optimistic message that has
// not been confirmed by the server yet.
type ChatMessage struct {
	MessageNo   string    `json:"message_no"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	SentAt      time.Time `json:"sent_at"`
	ReadCount   int       `json:"read_count,omitempty"`
	IsLocal     bool      `json:"is_local,omitempty"`
}

// HasLocalIdentity reports whether the message carries a client-generated
// temporary identity.
func (m ChatMessage) HasLocalIdentity() bool {
	return strings.HasPrefix(m.MessageNo, LocalMessagePrefix)
}

// PendingRequest is a chat request awaiting the recipient's decision.
type PendingRequest struct {
	MessageRequestNo string    `json:"message_request_no"`
	SenderName       string    `json:"sender_name"`
	CreatedAt        time.Time `json:"created_at"`
}

// RoomPatch carries a partial update for a single room entry. Nil fields are
// left untouched.
type RoomPatch struct {
	RoomStatus    *string
	LastMessage   *string
	LastMessageAt *time.Time
	UnreadCount   *int
}
