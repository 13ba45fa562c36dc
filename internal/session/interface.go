package session

import "github.com/dorumdorum/chatlink/internal/domain"

// Streamer is the notification stream surface the session depends on.
// Implemented by *stream.Stream.
type Streamer interface {
	Connect()
	Disconnect()
	IsConnected() bool

	OnChatMessage(h func(domain.ChatMessageEvent)) func()
	OnChatRequestCreated(h func(domain.RequestCreatedEvent)) func()
	OnChatRequestDecided(h func(domain.RequestDecidedEvent)) func()
	OnAuthError(h func(error)) func()
	OnStatusChange(h func(domain.ConnectionStatus)) func()
}

// Notifier receives user-facing advisories: non-blocking notices with an
// optional room-navigation target.
type Notifier interface {
	Notify(advisory domain.Advisory)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(domain.Advisory)

func (f NotifierFunc) Notify(a domain.Advisory) { f(a) }
