// Package session glues the chat engine together for the lifetime of one
// login: it starts and stops both connections, routes their events into the
// state store, and emits user-facing advisories.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dorumdorum/chatlink/internal/credential"
	"github.com/dorumdorum/chatlink/internal/directory"
	"github.com/dorumdorum/chatlink/internal/domain"
	"github.com/dorumdorum/chatlink/internal/store"
	"github.com/dorumdorum/chatlink/internal/transport"
	"github.com/dorumdorum/chatlink/pkg/log"
)

// ErrAlreadyStarted is returned when Start is called on a running session.
var ErrAlreadyStarted = errors.New("session already started")

// Swapped in tests to pin optimistic timestamps.
var timeNow = time.Now

// Session owns the connection lifecycle for one logged-in user.
type Session struct {
	dir      directory.Directory
	stream   Streamer
	tr       transport.Transport
	store    *store.Store
	creds    credential.Source
	notifier Notifier
	pageSize int

	mu      sync.Mutex
	started bool
	unsubs  []func()

	sf singleflight.Group
}

// New constructs a Session. notifier may be nil when the caller has no
// advisory surface.
func New(
	dir directory.Directory,
	str Streamer,
	tr transport.Transport,
	st *store.Store,
	creds credential.Source,
	notifier Notifier,
	pageSize int,
) *Session {
	return &Session{
		dir:      dir,
		stream:   str,
		tr:       tr,
		store:    st,
		creds:    creds,
		notifier: notifier,
		pageSize: pageSize,
	}
}

// Store exposes the state store for UI reads.
func (s *Session) Store() *store.Store {
	return s.store
}

// ConnectionStatus returns the current status of the notification stream and
// the chat transport, for a reconnecting indicator.
func (s *Session) ConnectionStatus() (stream, transport domain.ConnectionStatus) {
	return s.store.Status(store.KindStream), s.store.Status(store.KindTransport)
}

// Start registers event handlers, opens both connections, and loads the
// initial room list. On any failure it releases everything it acquired
// before returning: a half-started session never leaks a connection or a
// handler registration.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.register(s.stream.OnStatusChange(func(status domain.ConnectionStatus) {
		s.store.SetStatus(store.KindStream, status)
	}))
	s.register(s.tr.OnConnectionStatusChange(func(status domain.ConnectionStatus) {
		s.store.SetStatus(store.KindTransport, status)
	}))
	s.register(s.stream.OnChatMessage(s.handleStreamMessage))
	s.register(s.stream.OnChatRequestCreated(s.handleRequestCreated))
	s.register(s.stream.OnChatRequestDecided(s.handleRequestDecided))
	s.register(s.stream.OnAuthError(s.handleAuthError))

	s.stream.Connect()
	s.tr.Connect()

	if err := s.RefreshRooms(ctx); err != nil {
		s.Stop()
		return fmt.Errorf("failed to load initial room list: %w", err)
	}

	return nil
}

// Stop unregisters every handler and disconnects both transports, in that
// order. Safe to call multiple times; the release path runs on every exit.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for i := len(unsubs) - 1; i >= 0; i-- {
		unsubs[i]()
	}
	s.stream.Disconnect()
	s.tr.Disconnect()
}

// Reconnect re-opens both connections after the caller refreshed the
// credential following an auth rejection.
func (s *Session) Reconnect() {
	s.stream.Connect()
	s.tr.Connect()
}

func (s *Session) register(unsub func()) {
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// RefreshRooms re-fetches the first page of the room list and replaces the
// store's copy wholesale.
func (s *Session) RefreshRooms(ctx context.Context) error {
	page, err := s.dir.ListRooms(ctx, "")
	if err != nil {
		return err
	}
	s.store.SetRooms(page.Rooms, page.NextCursor, page.HasMore)
	return nil
}

// EnterRoom marks the room as open, resets its unread counter, loads the
// first page of history, then joins the live feed. Presence is best-effort
// and only sent when the transport is already connected; the history page
// covers anything a late subscription would miss.
func (s *Session) EnterRoom(ctx context.Context, roomID string) error {
	s.store.SetCurrentRoomID(roomID)
	s.store.ResetUnreadCount(roomID)

	page, err := s.dir.GetMessages(ctx, roomID, "", s.pageSize)
	if err != nil {
		s.store.SetCurrentRoomID("")
		return fmt.Errorf("failed to load history for room %s: %w", roomID, err)
	}

	messages := sortedBySentAt(page.Messages)
	s.store.SetMessages(roomID, messages, page.NextCursor, page.HasMore)

	s.tr.SubscribeToRoom(roomID, s.handleLiveMessage)
	if s.tr.IsConnected() {
		if err := s.tr.SendEnterPresence(roomID); err != nil {
			log.L().Debug().Err(err).Str(log.FieldRoomID, roomID).Msg("enter presence not delivered")
		}
	}
	return nil
}

// ExitRoom leaves the room's live view: leave presence (best-effort),
// unsubscribe, clear the current-room marker, and evict the in-memory
// sequence. Runs the same way on every exit path, connected or not.
func (s *Session) ExitRoom(roomID string) {
	if err := s.tr.SendLeavePresence(roomID); err != nil {
		log.L().Debug().Err(err).Str(log.FieldRoomID, roomID).Msg("leave presence not delivered")
	}
	s.tr.UnsubscribeFromRoom(roomID)

	if s.store.CurrentRoomID() == roomID {
		s.store.SetCurrentRoomID("")
	}
	s.store.EvictMessages(roomID)
}

// LoadOlderMessages fetches the next older history page and merges it ahead
// of the existing sequence. Concurrent calls for the same room are collapsed
// into one fetch.
func (s *Session) LoadOlderMessages(ctx context.Context, roomID string) error {
	cursor, hasMore := s.store.MessageCursor(roomID)
	if !hasMore {
		return nil
	}

	_, err, _ := s.sf.Do(roomID, func() (any, error) {
		page, err := s.dir.GetMessages(ctx, roomID, cursor, s.pageSize)
		if err != nil {
			return nil, err
		}
		older := sortedBySentAt(page.Messages)
		s.store.PrependMessages(roomID, older, page.NextCursor, page.HasMore)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to load older messages for room %s: %w", roomID, err)
	}
	return nil
}

// SendMessage appends an optimistic local message and dispatches it over the
// transport. On failure the optimistic entry is rolled back and the content
// is kept as the room's draft so the user's input is not lost.
func (s *Session) SendMessage(roomID, content string) error {
	self, err := credential.SubjectOf(s.creds)
	if err != nil {
		return fmt.Errorf("failed to resolve own identity: %w", err)
	}

	msg := domain.ChatMessage{
		MessageNo:   domain.LocalMessagePrefix + uuid.New().String(),
		RoomID:      roomID,
		SenderID:    self,
		Content:     content,
		MessageType: "TEXT",
		SentAt:      timeNow(),
		IsLocal:     true,
	}
	s.store.AddMessage(roomID, msg)
	s.store.SetDraft(roomID, "")

	if err := s.tr.SendMessage(roomID, content); err != nil {
		s.store.RemoveMessage(roomID, msg.MessageNo)
		s.store.SetDraft(roomID, content)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendChatRequest proposes a direct chat to another user.
func (s *Session) SendChatRequest(ctx context.Context, receiverID, initMessage string) error {
	return s.dir.SendChatRequest(ctx, receiverID, initMessage)
}

// DecideRequest approves or rejects a pending chat request. The pending
// entry is removed only on success; on failure it stays so the user can
// retry.
func (s *Session) DecideRequest(ctx context.Context, requestID, decision string) error {
	if err := s.dir.DecideRequest(ctx, requestID, decision); err != nil {
		return err
	}
	s.store.RemovePendingRequest(requestID)
	return nil
}

// LeaveRoom leaves a group room permanently and drops it from the store.
func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	if err := s.dir.LeaveRoom(ctx, roomID); err != nil {
		return err
	}
	s.dropRoom(roomID)
	return nil
}

// DeleteRoom deletes a room and drops it from the store.
func (s *Session) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.dir.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	s.dropRoom(roomID)
	return nil
}

func (s *Session) dropRoom(roomID string) {
	if s.store.CurrentRoomID() == roomID {
		s.ExitRoom(roomID)
	}
	s.store.RemoveRoom(roomID)
}

// handleStreamMessage routes a room-list-level message event. Events for the
// currently open room are suppressed entirely: the chat transport is the
// authoritative live source there.
func (s *Session) handleStreamMessage(ev domain.ChatMessageEvent) {
	if ev.RoomID == s.store.CurrentRoomID() {
		return
	}

	lastAt := ev.SentAt
	s.store.UpdateRoom(ev.RoomID, domain.RoomPatch{
		LastMessage:   &ev.Content,
		LastMessageAt: &lastAt,
	})
	s.store.IncrementUnreadCount(ev.RoomID)

	s.notify(domain.Advisory{
		ID:     uuid.New().String(),
		Kind:   domain.AdvisoryNewMessage,
		RoomID: ev.RoomID,
		Title:  ev.SenderName,
		Body:   ev.Content,
	})
}

// handleLiveMessage routes a message pushed on the room subscription. An
// echo of the session's own send is recognised by sender identity, resolved
// from the credential at receive time since the token can rotate
// mid-session, and confirms the optimistic entry instead of appending a
// duplicate.
func (s *Session) handleLiveMessage(msg domain.ChatMessage) {
	self, err := credential.SubjectOf(s.creds)
	if err == nil && self != "" && msg.SenderID == self {
		if s.store.ConfirmLocalEcho(msg.RoomID, msg.Content) {
			return
		}
		// Own message from another device: no optimistic entry to confirm.
	}

	s.store.AddMessage(msg.RoomID, msg)
	s.store.UpdateRoom(msg.RoomID, domain.RoomPatch{
		LastMessage:   &msg.Content,
		LastMessageAt: &msg.SentAt,
	})
}

func (s *Session) handleRequestCreated(ev domain.RequestCreatedEvent) {
	s.store.AddPendingRequest(ev.Request())
	s.notify(domain.Advisory{
		ID:    uuid.New().String(),
		Kind:  domain.AdvisoryRequestCreated,
		Title: ev.SenderName,
		Body:  "sent you a chat request",
	})
}

func (s *Session) handleRequestDecided(ev domain.RequestDecidedEvent) {
	s.store.RemovePendingRequest(ev.MessageRequestNo)
	s.notify(domain.Advisory{
		ID:   uuid.New().String(),
		Kind: domain.AdvisoryRequestDecided,
		Body: ev.Decision,
	})
}

func (s *Session) handleAuthError(err error) {
	log.L().Warn().Err(err).Msg("session credential rejected, re-authentication required")
	s.notify(domain.Advisory{
		ID:    uuid.New().String(),
		Kind:  domain.AdvisoryAuthRequired,
		Title: "Session expired",
		Body:  "Please sign in again",
	})
}

func (s *Session) notify(a domain.Advisory) {
	if s.notifier != nil {
		s.notifier.Notify(a)
	}
}

func sortedBySentAt(messages []domain.ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(messages))
	copy(out, messages)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}
