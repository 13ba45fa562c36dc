package transport

import "github.com/dorumdorum/chatlink/internal/domain"

// RoomHandler receives live messages for one subscribed room.
type RoomHandler func(domain.ChatMessage)

// Transport is the bidirectional, multiplexed room-messaging channel used
// while the user is inside a room: one socket carrying per-room
// subscriptions, outbound messages, and presence signals.
type Transport interface {
	Connect()
	Disconnect()
	IsConnected() bool

	SubscribeToRoom(roomID string, h RoomHandler)
	UnsubscribeFromRoom(roomID string)

	SendMessage(roomID, content string) error
	SendEnterPresence(roomID string) error
	SendLeavePresence(roomID string) error

	OnConnectionStatusChange(h func(domain.ConnectionStatus)) func()
}
