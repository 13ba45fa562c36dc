package domain

import "time"

// Websocket frame types, client to server.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
)

// Websocket frame types, server to client.
const (
	FrameMessage = "message"
	FrameError   = "error"
)

// Presence destinations.
const (
	DestPresenceEnter = "presence/enter"
	DestPresenceLeave = "presence/leave"
)

// RoomDestination returns the room-scoped destination for subscriptions and
// outbound messages.
func RoomDestination(roomID string) string {
	return "rooms/" + roomID
}

// BaseFrame is the envelope shared by all websocket frames.
type BaseFrame struct {
	Type        string `json:"type"`
	Destination string `json:"destination,omitempty"`
}

// SubscribeFrame opens or closes a room-scoped subscription.
type SubscribeFrame struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

// SendFrame publishes a chat message body to a room destination.
type SendFrame struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
	Body        struct {
		Content string `json:"content"`
	} `json:"body"`
}

// PresenceFrame signals entering or leaving a room's live view.
type PresenceFrame struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
	Body        struct {
		RoomID string `json:"room_id"`
	} `json:"body"`
}

// MessageFrame is an inbound chat message pushed on a room subscription.
type MessageFrame struct {
	Type        string    `json:"type"`
	Destination string    `json:"destination"`
	MessageNo   string    `json:"message_no"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	SentAt      time.Time `json:"sent_at"`
}

// Message converts the frame into its ChatMessage form.
func (f MessageFrame) Message() ChatMessage {
	return ChatMessage{
		MessageNo:   f.MessageNo,
		RoomID:      f.RoomID,
		SenderID:    f.SenderID,
		SenderName:  f.SenderName,
		Content:     f.Content,
		MessageType: f.MessageType,
		SentAt:      f.SentAt,
	}
}
