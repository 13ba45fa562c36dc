package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorumdorum/chatlink/internal/domain"
)

func msg(no string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{MessageNo: no, RoomID: "r1", Content: "c-" + no, SentAt: at}
}

func TestAddMessageDeduplicatesByIdentity(t *testing.T) {
	s := New()
	now := time.Now()

	s.AddMessage("r1", msg("m1", now))
	s.AddMessage("r1", msg("m1", now.Add(time.Minute))) // same identity, different content timestamp
	s.AddMessage("r1", msg("m2", now))
	s.AddMessage("r1", msg("m2", now))
	s.AddMessage("r1", msg("m1", now))

	got := s.Messages("r1")
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].MessageNo)
	assert.Equal(t, "m2", got[1].MessageNo)
}

func TestAddMessageNoDuplicatesUnderManyOrders(t *testing.T) {
	now := time.Now()
	ids := []string{"a", "b", "c", "a", "b", "c", "c", "b", "a"}

	s := New()
	for i, id := range ids {
		s.AddMessage("r1", msg(id, now.Add(time.Duration(i)*time.Second)))
	}

	seen := map[string]int{}
	for _, m := range s.Messages("r1") {
		seen[m.MessageNo]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "identity %s appears more than once", id)
	}
	assert.Len(t, seen, 3)
}

func TestSetMessagesReplacesWholesale(t *testing.T) {
	s := New()
	now := time.Now()

	s.AddMessage("r1", msg("old", now))
	s.SetMessages("r1", []domain.ChatMessage{msg("m1", now), msg("m2", now.Add(time.Second))}, "cur", true)

	got := s.Messages("r1")
	require.Len(t, got, 2)
	cursor, hasMore := s.MessageCursor("r1")
	assert.Equal(t, "cur", cursor)
	assert.True(t, hasMore)
}

func TestPrependMergesOlderPageWithoutDuplicates(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Newest page already loaded: m3, m4.
	s.SetMessages("r1", []domain.ChatMessage{
		msg("m3", base.Add(3 * time.Minute)),
		msg("m4", base.Add(4 * time.Minute)),
	}, "cursor-1", true)

	// Older page shares the boundary message m3.
	s.PrependMessages("r1", []domain.ChatMessage{
		msg("m1", base.Add(1 * time.Minute)),
		msg("m2", base.Add(2 * time.Minute)),
		msg("m3", base.Add(3 * time.Minute)),
	}, "", false)

	got := s.Messages("r1")
	require.Len(t, got, 4)
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		assert.Equal(t, want, got[i].MessageNo)
	}
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].SentAt.Before(got[i-1].SentAt), "sequence must stay chronological")
	}

	_, hasMore := s.MessageCursor("r1")
	assert.False(t, hasMore)
}

func TestPrependThenSetIsIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newest := []domain.ChatMessage{msg("m3", base.Add(3 * time.Minute)), msg("m4", base.Add(4 * time.Minute))}
	older := []domain.ChatMessage{msg("m1", base.Add(1 * time.Minute)), msg("m2", base.Add(2 * time.Minute))}

	apply := func(s *Store) {
		s.SetMessages("r1", newest, "c1", true)
		s.PrependMessages("r1", older, "", false)
	}

	once := New()
	apply(once)

	twice := New()
	apply(twice)
	apply(twice)

	assert.Equal(t, once.Messages("r1"), twice.Messages("r1"))
}

func TestConfirmLocalEcho(t *testing.T) {
	s := New()
	now := time.Now()

	local := domain.ChatMessage{MessageNo: domain.LocalMessagePrefix + "1", RoomID: "r1", Content: "hello", SentAt: now, IsLocal: true}
	s.AddMessage("r1", local)

	require.True(t, s.ConfirmLocalEcho("r1", "hello"))
	got := s.Messages("r1")
	require.Len(t, got, 1)
	assert.False(t, got[0].IsLocal)

	assert.False(t, s.ConfirmLocalEcho("r1", "hello"), "already confirmed")
	assert.False(t, s.ConfirmLocalEcho("r1", "other"))
}

func TestRemoveMessageRollsBackOptimisticEntry(t *testing.T) {
	s := New()
	now := time.Now()

	s.AddMessage("r1", msg("m1", now))
	local := domain.ChatMessage{MessageNo: domain.LocalMessagePrefix + "x", RoomID: "r1", Content: "draft", SentAt: now, IsLocal: true}
	s.AddMessage("r1", local)

	s.RemoveMessage("r1", local.MessageNo)
	got := s.Messages("r1")
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageNo)

	// Identity is free again after rollback.
	s.AddMessage("r1", local)
	assert.Len(t, s.Messages("r1"), 2)
}

func TestUnreadCountNeverMovesForCurrentRoom(t *testing.T) {
	s := New()
	s.SetRooms([]domain.ChatRoom{{RoomID: "r1"}, {RoomID: "r2"}}, "", false)
	s.SetCurrentRoomID("r1")

	s.IncrementUnreadCount("r1")
	s.IncrementUnreadCount("r2")
	s.IncrementUnreadCount("r2")

	r1, ok := s.Room("r1")
	require.True(t, ok)
	assert.Equal(t, 0, r1.UnreadCount)

	r2, ok := s.Room("r2")
	require.True(t, ok)
	assert.Equal(t, 2, r2.UnreadCount)

	s.ResetUnreadCount("r2")
	r2, _ = s.Room("r2")
	assert.Equal(t, 0, r2.UnreadCount)
}

func TestUpdateRoomMergesOnlySetFields(t *testing.T) {
	s := New()
	at := time.Now()
	s.SetRooms([]domain.ChatRoom{{RoomID: "r1", RoomStatus: domain.RoomStatusApproved, LastMessage: "old"}}, "", false)

	last := "new"
	s.UpdateRoom("r1", domain.RoomPatch{LastMessage: &last, LastMessageAt: &at})

	r, ok := s.Room("r1")
	require.True(t, ok)
	assert.Equal(t, "new", r.LastMessage)
	assert.Equal(t, at, r.LastMessageAt)
	assert.Equal(t, domain.RoomStatusApproved, r.RoomStatus, "unset fields untouched")

	// Absent room is a no-op, not a panic.
	s.UpdateRoom("missing", domain.RoomPatch{LastMessage: &last})
}

func TestPendingRequestRemovalIsIdempotent(t *testing.T) {
	s := New()
	s.AddPendingRequest(domain.PendingRequest{MessageRequestNo: "req-9", SenderName: "yuna"})
	require.Len(t, s.PendingRequests(), 1)

	s.RemovePendingRequest("req-9")
	s.RemovePendingRequest("req-9")
	s.RemovePendingRequest("never-existed")
	assert.Empty(t, s.PendingRequests())
}

func TestEvictMessagesDropsSequenceOnly(t *testing.T) {
	s := New()
	s.SetRooms([]domain.ChatRoom{{RoomID: "r1"}}, "", false)
	s.AddMessage("r1", msg("m1", time.Now()))

	s.EvictMessages("r1")
	assert.Empty(t, s.Messages("r1"))
	_, ok := s.Room("r1")
	assert.True(t, ok, "room list entry survives eviction")
}

func TestDrafts(t *testing.T) {
	s := New()
	s.SetDraft("r1", "half-typed")
	assert.Equal(t, "half-typed", s.Draft("r1"))
	assert.Equal(t, "", s.Draft("r2"))
}

func TestConcurrentMutationsKeepInvariant(t *testing.T) {
	s := New()
	done := make(chan struct{})
	now := time.Now()

	for g := 0; g < 4; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				s.AddMessage("r1", msg(fmt.Sprintf("m-%d", i), now))
			}
		}()
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	got := s.Messages("r1")
	assert.Len(t, got, 100, "each identity stored exactly once despite concurrent writers")
}
