package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorumdorum/chatlink/internal/credential"
	"github.com/dorumdorum/chatlink/internal/domain"
)

func newTestStream(url string) *Stream {
	return New(url, credential.NewStaticSource("test-token"), 10*time.Millisecond, 100*time.Millisecond)
}

func flush(w http.ResponseWriter) {
	w.(http.Flusher).Flush()
}

func TestStreamDispatchesChatMessageEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\n\n")
		flush(w)
		fmt.Fprint(w, "event: chat.message\ndata: {\"message_id\":\"m1\",\"room_id\":\"r1\",\"sender_id\":\"u2\",\"content\":\"hi\"}\n\n")
		flush(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := newTestStream(srv.URL)
	defer s.Disconnect()

	got := make(chan domain.ChatMessageEvent, 1)
	s.OnChatMessage(func(ev domain.ChatMessageEvent) { got <- ev })

	s.Connect()

	select {
	case ev := <-got:
		assert.Equal(t, "m1", ev.MessageID)
		assert.Equal(t, "r1", ev.RoomID)
		assert.Equal(t, "hi", ev.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat.message event")
	}

	assert.True(t, s.IsConnected())
	assert.False(t, s.LastEventAt().IsZero())
}

func TestStreamAuthRejectionIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTestStream(srv.URL)
	defer s.Disconnect()

	authErr := make(chan error, 1)
	s.OnAuthError(func(err error) { authErr <- err })

	s.Connect()

	select {
	case err := <-authErr:
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth error")
	}

	assert.False(t, s.reconnectArmed(), "401 must not arm a reconnect timer")
	assert.Equal(t, domain.StatusDisconnected, s.Status())

	// Several backoff periods later, still exactly one connection attempt.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, s.reconnectArmed())
}

func TestStreamReconnectsAfterUnexpectedClose(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\n\n")
		flush(w)
		if n == 1 {
			return // drop the first connection immediately
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := newTestStream(srv.URL)
	defer s.Disconnect()

	s.Connect()

	require.Eventually(t, func() bool {
		return hits.Load() >= 2 && s.IsConnected()
	}, 2*time.Second, 10*time.Millisecond, "stream should reconnect after an unexpected close")

	assert.Equal(t, 0, s.backoff.Failures(), "successful reconnect resets the backoff counter")
}

func TestStreamDropsMalformedPayloadWithoutReconnecting(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: chat.message\ndata: {not-json\n\n")
		flush(w)
		fmt.Fprint(w, "event: chat.message\ndata: {\"message_id\":\"m2\",\"room_id\":\"r1\"}\n\n")
		flush(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := newTestStream(srv.URL)
	defer s.Disconnect()

	got := make(chan domain.ChatMessageEvent, 2)
	s.OnChatMessage(func(ev domain.ChatMessageEvent) { got <- ev })

	s.Connect()

	select {
	case ev := <-got:
		assert.Equal(t, "m2", ev.MessageID, "only the well-formed event is dispatched")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the well-formed event")
	}

	assert.Equal(t, int32(1), hits.Load(), "a malformed payload must not tear the connection down")
}

func TestStreamIgnoresUnknownEventKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: chat.reaction.added\ndata: {\"whatever\":true}\n\n")
		flush(w)
		fmt.Fprint(w, "event: heartbeat\n\n")
		flush(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := newTestStream(srv.URL)
	defer s.Disconnect()

	s.Connect()

	require.Eventually(t, func() bool {
		return !s.LastEventAt().IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.IsConnected())
}

func TestStreamDisconnectIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\n\n")
		flush(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := newTestStream(srv.URL)

	// Never connected: safe.
	s.Disconnect()
	s.Disconnect()

	s.Connect()
	require.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)

	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, domain.StatusDisconnected, s.Status())

	// No reconnect after an intentional close.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, s.reconnectArmed())
}

func TestStreamStatusChangeReplaysCurrentStatus(t *testing.T) {
	s := newTestStream("http://127.0.0.1:0")

	got := make(chan domain.ConnectionStatus, 1)
	unsub := s.OnStatusChange(func(st domain.ConnectionStatus) {
		select {
		case got <- st:
		default:
		}
	})
	defer unsub()

	select {
	case st := <-got:
		assert.Equal(t, domain.StatusDisconnected, st)
	default:
		t.Fatal("current status was not replayed on registration")
	}
}
