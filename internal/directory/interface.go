package directory

import (
	"context"

	"github.com/dorumdorum/chatlink/internal/domain"
)

// Directory is the stateless REST surface of the chat backend: room listing,
// history pages, chat requests, and room membership operations.
type Directory interface {
	ListRooms(ctx context.Context, cursor string) (*domain.RoomPage, error)
	GetMessages(ctx context.Context, roomID, cursor string, size int) (*domain.MessagePage, error)
	SendChatRequest(ctx context.Context, receiverID, initMessage string) error
	DecideRequest(ctx context.Context, requestID, decision string) error
	LeaveRoom(ctx context.Context, roomID string) error
	DeleteRoom(ctx context.Context, roomID string) error
}
