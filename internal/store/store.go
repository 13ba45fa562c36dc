// Package store holds the single in-memory source of truth for the chat
// session: room list, per-room message sequences, cursors, pending requests,
// and connection statuses. All mutations are serialised behind one mutex and
// are atomic with respect to the store's invariants.
package store

import (
	"sync"

	"github.com/dorumdorum/chatlink/internal/domain"
)

// Connection kinds tracked by the store.
const (
	KindStream    = "stream"
	KindTransport = "transport"
)

type roomState struct {
	messages []domain.ChatMessage
	seen     map[string]struct{}
	cursor   string
	hasMore  bool
	draft    string
}

// Store is the chat state store. The zero value is not usable; construct
// with New.
type Store struct {
	mu sync.Mutex

	rooms      []domain.ChatRoom
	roomIndex  map[string]int
	roomCursor string
	roomsMore  bool

	roomStates map[string]*roomState
	pending    map[string]domain.PendingRequest

	currentRoomID string
	statuses      map[string]domain.ConnectionStatus
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		roomIndex:  make(map[string]int),
		roomStates: make(map[string]*roomState),
		pending:    make(map[string]domain.PendingRequest),
		statuses: map[string]domain.ConnectionStatus{
			KindStream:    domain.StatusDisconnected,
			KindTransport: domain.StatusDisconnected,
		},
	}
}

// SetRooms replaces the room list wholesale along with its pagination state.
func (s *Store) SetRooms(rooms []domain.ChatRoom, cursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms = make([]domain.ChatRoom, len(rooms))
	copy(s.rooms, rooms)
	s.roomIndex = make(map[string]int, len(rooms))
	for i, r := range s.rooms {
		s.roomIndex[r.RoomID] = i
	}
	s.roomCursor = cursor
	s.roomsMore = hasMore
}

// UpdateRoom merges non-nil patch fields into one room entry. A no-op if the
// room is absent.
func (s *Store) UpdateRoom(roomID string, patch domain.RoomPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.roomIndex[roomID]
	if !ok {
		return
	}
	if patch.RoomStatus != nil {
		s.rooms[i].RoomStatus = *patch.RoomStatus
	}
	if patch.LastMessage != nil {
		s.rooms[i].LastMessage = *patch.LastMessage
	}
	if patch.LastMessageAt != nil {
		s.rooms[i].LastMessageAt = *patch.LastMessageAt
	}
	if patch.UnreadCount != nil {
		s.rooms[i].UnreadCount = *patch.UnreadCount
	}
}

// RemoveRoom drops a room and its message sequence. A no-op if absent.
func (s *Store) RemoveRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.roomIndex[roomID]
	if !ok {
		delete(s.roomStates, roomID)
		return
	}
	s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
	delete(s.roomIndex, roomID)
	for j := i; j < len(s.rooms); j++ {
		s.roomIndex[s.rooms[j].RoomID] = j
	}
	delete(s.roomStates, roomID)
}

// Rooms returns a copy of the room list.
func (s *Store) Rooms() []domain.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ChatRoom, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// Room returns one room entry by id.
func (s *Store) Room(roomID string) (domain.ChatRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.roomIndex[roomID]
	if !ok {
		return domain.ChatRoom{}, false
	}
	return s.rooms[i], true
}

// RoomCursor returns the room list pagination state.
func (s *Store) RoomCursor() (cursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCursor, s.roomsMore
}

func (s *Store) roomStateLocked(roomID string) *roomState {
	rs, ok := s.roomStates[roomID]
	if !ok {
		rs = &roomState{seen: make(map[string]struct{})}
		s.roomStates[roomID] = rs
	}
	return rs
}

// SetMessages replaces a room's message sequence and its pagination state
// atomically.
func (s *Store) SetMessages(roomID string, messages []domain.ChatMessage, cursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.roomStateLocked(roomID)
	rs.messages = rs.messages[:0]
	rs.seen = make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if _, dup := rs.seen[m.MessageNo]; dup {
			continue
		}
		rs.seen[m.MessageNo] = struct{}{}
		rs.messages = append(rs.messages, m)
	}
	rs.cursor = cursor
	rs.hasMore = hasMore
}

// AddMessage appends a message unless one with the same identity already
// exists in the room's sequence.
func (s *Store) AddMessage(roomID string, msg domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.roomStateLocked(roomID)
	if _, dup := rs.seen[msg.MessageNo]; dup {
		return
	}
	rs.seen[msg.MessageNo] = struct{}{}
	rs.messages = append(rs.messages, msg)
}

// PrependMessages merges an older history page ahead of the existing
// sequence, dropping any message whose identity already exists and
// preserving chronological order.
func (s *Store) PrependMessages(roomID string, older []domain.ChatMessage, cursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.roomStateLocked(roomID)
	merged := make([]domain.ChatMessage, 0, len(older)+len(rs.messages))
	for _, m := range older {
		if _, dup := rs.seen[m.MessageNo]; dup {
			continue
		}
		rs.seen[m.MessageNo] = struct{}{}
		merged = append(merged, m)
	}
	rs.messages = append(merged, rs.messages...)
	rs.cursor = cursor
	rs.hasMore = hasMore
}

// ConfirmLocalEcho drops the IsLocal flag on the oldest still-unconfirmed
// optimistic message with the given content, once the authoritative echo is
// recognised. Returns false if no such message exists.
func (s *Store) ConfirmLocalEcho(roomID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.roomStates[roomID]
	if !ok {
		return false
	}
	for i := range rs.messages {
		if rs.messages[i].IsLocal && rs.messages[i].Content == content {
			rs.messages[i].IsLocal = false
			return true
		}
	}
	return false
}

// RemoveMessage drops one message by identity. Used to roll back an
// optimistic entry whose send failed.
func (s *Store) RemoveMessage(roomID, messageNo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.roomStates[roomID]
	if !ok {
		return
	}
	for i := range rs.messages {
		if rs.messages[i].MessageNo == messageNo {
			rs.messages = append(rs.messages[:i], rs.messages[i+1:]...)
			delete(rs.seen, messageNo)
			return
		}
	}
}

// Messages returns a copy of a room's message sequence.
func (s *Store) Messages(roomID string) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.roomStates[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.ChatMessage, len(rs.messages))
	copy(out, rs.messages)
	return out
}

// MessageCursor returns a room's history pagination state. An empty cursor
// with hasMore=false means fully loaded.
func (s *Store) MessageCursor(roomID string) (cursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.roomStates[roomID]
	if !ok {
		return "", false
	}
	return rs.cursor, rs.hasMore
}

// EvictMessages drops a room's in-memory sequence. Called on room exit; the
// durable history stays on the server.
func (s *Store) EvictMessages(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roomStates, roomID)
}

// IncrementUnreadCount bumps a room's unread counter. The counter never
// moves for the currently open room.
func (s *Store) IncrementUnreadCount(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roomID == s.currentRoomID {
		return
	}
	if i, ok := s.roomIndex[roomID]; ok {
		s.rooms[i].UnreadCount++
	}
}

// ResetUnreadCount zeroes a room's unread counter.
func (s *Store) ResetUnreadCount(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.roomIndex[roomID]; ok {
		s.rooms[i].UnreadCount = 0
	}
}

// AddPendingRequest records an incoming chat request.
func (s *Store) AddPendingRequest(req domain.PendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[req.MessageRequestNo] = req
}

// RemovePendingRequest removes a request by id. Removing an absent id is a
// safe no-op: the local decision path and the stream's decided event both
// converge here.
func (s *Store) RemovePendingRequest(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, requestID)
}

// PendingRequests returns a copy of the pending request set.
func (s *Store) PendingRequests() []domain.PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PendingRequest, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, r)
	}
	return out
}

// SetCurrentRoomID marks which room, if any, is actively open. Pass "" on
// room exit.
func (s *Store) SetCurrentRoomID(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoomID = roomID
}

// CurrentRoomID returns the actively open room id, or "".
func (s *Store) CurrentRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoomID
}

// SetDraft stores the user's unsent input for a room.
func (s *Store) SetDraft(roomID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomStateLocked(roomID).draft = text
}

// Draft returns the stored draft for a room.
func (s *Store) Draft(roomID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.roomStates[roomID]
	if !ok {
		return ""
	}
	return rs.draft
}

// SetStatus records a transport's connection status.
func (s *Store) SetStatus(kind string, status domain.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[kind] = status
}

// Status returns one transport's connection status.
func (s *Store) Status(kind string) domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[kind]
}
