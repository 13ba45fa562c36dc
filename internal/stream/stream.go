// Package stream implements the long-lived server-push notification
// connection: one streamed HTTP response carrying newline-delimited event
// records, supervised with exponential backoff.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dorumdorum/chatlink/internal/credential"
	"github.com/dorumdorum/chatlink/internal/domain"
	"github.com/dorumdorum/chatlink/internal/supervisor"
	"github.com/dorumdorum/chatlink/pkg/log"
)

const transportName = "notification-stream"

// Stream is the notification push stream. It owns no chat state; decoded
// events are fanned out to registered handlers.
type Stream struct {
	url     string
	creds   credential.Source
	client  *http.Client
	backoff *supervisor.Backoff

	mu          sync.Mutex
	status      domain.ConnectionStatus
	intentional bool
	cancel      context.CancelFunc
	timer       *time.Timer
	lastEvent   time.Time

	nextID          int
	msgHandlers     map[int]func(domain.ChatMessageEvent)
	createdHandlers map[int]func(domain.RequestCreatedEvent)
	decidedHandlers map[int]func(domain.RequestDecidedEvent)
	authHandlers    map[int]func(error)
	statusHandlers  map[int]func(domain.ConnectionStatus)
}

// New creates a Stream for the given streaming endpoint. The credential is
// re-read from creds at every (re)connect.
func New(url string, creds credential.Source, backoffBase, backoffCeiling time.Duration) *Stream {
	return &Stream{
		url:             url,
		creds:           creds,
		client:          &http.Client{},
		backoff:         &supervisor.Backoff{Base: backoffBase, Ceiling: backoffCeiling},
		msgHandlers:     make(map[int]func(domain.ChatMessageEvent)),
		createdHandlers: make(map[int]func(domain.RequestCreatedEvent)),
		decidedHandlers: make(map[int]func(domain.RequestDecidedEvent)),
		authHandlers:    make(map[int]func(error)),
		statusHandlers:  make(map[int]func(domain.ConnectionStatus)),
	}
}

// Connect opens the push connection. It returns immediately; the read loop
// runs in the background and reconnects on transient failures until
// Disconnect is called. Calling Connect while already connecting or
// connected is a no-op.
func (s *Stream) Connect() {
	s.mu.Lock()
	if s.status == domain.StatusConnecting || s.status == domain.StatusConnected {
		s.mu.Unlock()
		return
	}
	s.intentional = false
	s.stopTimerLocked()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.setStatus(domain.StatusConnecting)
	go s.run(ctx)
}

// Disconnect closes the connection, aborts any in-flight read, and suppresses
// reconnection. Safe to call multiple times or when never connected.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	s.stopTimerLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.setStatus(domain.StatusDisconnected)
}

// IsConnected reports whether the stream is currently connected.
func (s *Stream) IsConnected() bool {
	return s.Status() == domain.StatusConnected
}

// Status returns the current connection status.
func (s *Stream) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastEventAt returns the arrival time of the most recent record, including
// connected/heartbeat control events. Zero if nothing has arrived yet.
func (s *Stream) LastEventAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvent
}

// OnChatMessage registers a handler for chat.message events and returns its
// unsubscribe function.
func (s *Stream) OnChatMessage(h func(domain.ChatMessageEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.msgHandlers[id] = h
	return func() {
		s.mu.Lock()
		delete(s.msgHandlers, id)
		s.mu.Unlock()
	}
}

// OnChatRequestCreated registers a handler for chat.request.created events.
func (s *Stream) OnChatRequestCreated(h func(domain.RequestCreatedEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.createdHandlers[id] = h
	return func() {
		s.mu.Lock()
		delete(s.createdHandlers, id)
		s.mu.Unlock()
	}
}

// OnChatRequestDecided registers a handler for chat.request.decided events.
func (s *Stream) OnChatRequestDecided(h func(domain.RequestDecidedEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.decidedHandlers[id] = h
	return func() {
		s.mu.Lock()
		delete(s.decidedHandlers, id)
		s.mu.Unlock()
	}
}

// OnAuthError registers a handler called when the backend rejects the
// credential. The connection is not retried; the caller must obtain a fresh
// credential and call Connect again.
func (s *Stream) OnAuthError(h func(error)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.authHandlers[id] = h
	return func() {
		s.mu.Lock()
		delete(s.authHandlers, id)
		s.mu.Unlock()
	}
}

// OnStatusChange registers a status observer and immediately replays the
// current status to it.
func (s *Stream) OnStatusChange(h func(domain.ConnectionStatus)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.statusHandlers[id] = h
	current := s.status
	s.mu.Unlock()

	h(current)
	return func() {
		s.mu.Lock()
		delete(s.statusHandlers, id)
		s.mu.Unlock()
	}
}

// run performs one connection attempt and its read loop.
func (s *Stream) run(ctx context.Context) {
	l := log.L().With().Str(log.FieldTransport, transportName).Logger()

	token, err := s.creds.Token()
	if err != nil {
		l.Warn().Err(err).Msg("no credential for stream connect")
		s.scheduleReconnect(ctx)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		l.Error().Err(err).Msg("failed to build stream request")
		s.scheduleReconnect(ctx)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			l.Warn().Err(err).Msg("stream connect failed")
		}
		s.scheduleReconnect(ctx)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		l.Warn().Int(log.FieldStatus, resp.StatusCode).Msg("stream credential rejected")
		s.setStatus(domain.StatusDisconnected)
		for _, h := range s.snapshotAuthHandlers() {
			h(domain.ErrUnauthorized)
		}
		return
	}
	if resp.StatusCode != http.StatusOK {
		l.Warn().Int(log.FieldStatus, resp.StatusCode).Msg("unexpected stream response")
		s.scheduleReconnect(ctx)
		return
	}

	s.backoff.Reset()
	s.setStatus(domain.StatusConnected)
	l.Info().Msg("stream connected")

	dec := &decoder{}
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, rec := range dec.feed(buf[:n]) {
				s.dispatch(rec)
			}
		}
		if err != nil {
			break
		}
	}

	// Best-effort parse of a trailing partial record.
	if rec, ok := dec.flush(); ok {
		s.dispatch(rec)
	}

	s.mu.Lock()
	intentional := s.intentional
	s.mu.Unlock()

	if intentional || ctx.Err() != nil {
		s.setStatus(domain.StatusDisconnected)
		return
	}

	l.Warn().Msg("stream closed unexpectedly")
	s.scheduleReconnect(ctx)
}

// scheduleReconnect transitions to disconnected and arms the backoff timer,
// unless the close was requested.
func (s *Stream) scheduleReconnect(ctx context.Context) {
	s.setStatus(domain.StatusDisconnected)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intentional || ctx.Err() != nil {
		return
	}

	delay := s.backoff.Next()
	log.L().Info().
		Str(log.FieldTransport, transportName).
		Int(log.FieldAttempt, s.backoff.Failures()).
		Float64(log.FieldDelay, float64(delay.Milliseconds())).
		Msg("stream reconnect scheduled")

	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.timer = nil
		if s.intentional || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.setStatus(domain.StatusConnecting)
		s.run(ctx)
	})
}

// reconnectArmed reports whether a reconnect timer is currently pending.
func (s *Stream) reconnectArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Stream) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Stream) setStatus(status domain.ConnectionStatus) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	handlers := make([]func(domain.ConnectionStatus), 0, len(s.statusHandlers))
	for _, h := range s.statusHandlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(status)
	}
}

func (s *Stream) snapshotAuthHandlers() []func(error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handlers := make([]func(error), 0, len(s.authHandlers))
	for _, h := range s.authHandlers {
		handlers = append(handlers, h)
	}
	return handlers
}

// dispatch decodes one record into its event variant and fans it out. A
// malformed payload drops the single event, never the connection.
func (s *Stream) dispatch(rec record) {
	now := time.Now()
	s.mu.Lock()
	s.lastEvent = now
	s.mu.Unlock()

	l := log.L()

	switch rec.event {
	case domain.EventConnected, domain.EventHeartbeat:
		// Liveness only, no payload.

	case domain.EventChatMessage:
		var ev domain.ChatMessageEvent
		if err := json.Unmarshal([]byte(rec.data), &ev); err != nil {
			l.Warn().Err(err).Str(log.FieldEventKind, rec.event).Msg("dropping malformed stream event")
			return
		}
		s.mu.Lock()
		handlers := make([]func(domain.ChatMessageEvent), 0, len(s.msgHandlers))
		for _, h := range s.msgHandlers {
			handlers = append(handlers, h)
		}
		s.mu.Unlock()
		for _, h := range handlers {
			h(ev)
		}

	case domain.EventRequestCreated:
		var ev domain.RequestCreatedEvent
		if err := json.Unmarshal([]byte(rec.data), &ev); err != nil {
			l.Warn().Err(err).Str(log.FieldEventKind, rec.event).Msg("dropping malformed stream event")
			return
		}
		s.mu.Lock()
		handlers := make([]func(domain.RequestCreatedEvent), 0, len(s.createdHandlers))
		for _, h := range s.createdHandlers {
			handlers = append(handlers, h)
		}
		s.mu.Unlock()
		for _, h := range handlers {
			h(ev)
		}

	case domain.EventRequestDecided:
		var ev domain.RequestDecidedEvent
		if err := json.Unmarshal([]byte(rec.data), &ev); err != nil {
			l.Warn().Err(err).Str(log.FieldEventKind, rec.event).Msg("dropping malformed stream event")
			return
		}
		s.mu.Lock()
		handlers := make([]func(domain.RequestDecidedEvent), 0, len(s.decidedHandlers))
		for _, h := range s.decidedHandlers {
			handlers = append(handlers, h)
		}
		s.mu.Unlock()
		for _, h := range handlers {
			h(ev)
		}

	default:
		// Unknown event names are ignored for forward compatibility.
		l.Debug().Str(log.FieldEventKind, rec.event).Msg("ignoring unknown stream event")
	}
}
