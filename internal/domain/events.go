package domain

import "time"

// Notification stream event kinds, as sent on the wire.
const (
	EventConnected      = "connected"
	EventHeartbeat      = "heartbeat"
	EventChatMessage    = "chat.message"
	EventRequestCreated = "chat.request.created"
	EventRequestDecided = "chat.request.decided"
)

// StreamEvent is one decoded notification stream event. Exactly one variant
// per event kind plus Unknown for forward compatibility.
type StreamEvent interface {
	Kind() string
}

// ControlEvent covers the payload-less liveness kinds (connected, heartbeat).
type ControlEvent struct {
	Name string
	At   time.Time
}

func (e ControlEvent) Kind() string { return e.Name }

// ChatMessageEvent announces a message in a room the user is not viewing.
type ChatMessageEvent struct {
	MessageID   string    `json:"message_id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	SentAt      time.Time `json:"sent_at"`
}

func (ChatMessageEvent) Kind() string { return EventChatMessage }

// Message converts the event into its ChatMessage form.
func (e ChatMessageEvent) Message() ChatMessage {
	return ChatMessage{
		MessageNo:   e.MessageID,
		RoomID:      e.RoomID,
		SenderID:    e.SenderID,
		SenderName:  e.SenderName,
		Content:     e.Content,
		MessageType: e.MessageType,
		SentAt:      e.SentAt,
	}
}

// RequestCreatedEvent announces a new incoming chat request.
type RequestCreatedEvent struct {
	MessageRequestNo string    `json:"message_request_no"`
	SenderName       string    `json:"sender_name"`
	CreatedAt        time.Time `json:"created_at"`
}

func (RequestCreatedEvent) Kind() string { return EventRequestCreated }

// Request converts the event into its PendingRequest form.
func (e RequestCreatedEvent) Request() PendingRequest {
	return PendingRequest{
		MessageRequestNo: e.MessageRequestNo,
		SenderName:       e.SenderName,
		CreatedAt:        e.CreatedAt,
	}
}

// RequestDecidedEvent announces that a chat request was approved or rejected,
// possibly from another device.
type RequestDecidedEvent struct {
	MessageRequestNo string `json:"message_request_no"`
	Decision         string `json:"decision"`
}

func (RequestDecidedEvent) Kind() string { return EventRequestDecided }

// UnknownEvent preserves events with unrecognised names so callers can ignore
// them without the decoder failing.
type UnknownEvent struct {
	Name string
	Data []byte
}

func (e UnknownEvent) Kind() string { return e.Name }
