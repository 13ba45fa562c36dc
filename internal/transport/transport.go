// Package transport implements the room-scoped pub/sub channel over a single
// websocket connection, with automatic resubscription after reconnect.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dorumdorum/chatlink/internal/credential"
	"github.com/dorumdorum/chatlink/internal/domain"
	"github.com/dorumdorum/chatlink/internal/supervisor"
	"github.com/dorumdorum/chatlink/pkg/log"
)

const transportName = "chat-transport"

// ErrSendBufferFull is returned when the outbound queue cannot accept
// another frame.
var ErrSendBufferFull = errors.New("send buffer full")

// Config holds the websocket tuning knobs.
type Config struct {
	RetryDelay     time.Duration
	MaxRetries     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

type subscription struct {
	handlers map[int]RoomHandler
}

type wsTransport struct {
	url   string
	creds credential.Source
	cfg   Config
	retry *supervisor.Retry

	mu          sync.Mutex
	status      domain.ConnectionStatus
	conn        *websocket.Conn
	sendCh      chan []byte
	cancel      context.CancelFunc
	intentional bool

	subs           map[string]*subscription
	nextID         int
	statusHandlers map[int]func(domain.ConnectionStatus)
}

// New creates a Transport for the given websocket endpoint. The credential is
// re-read from creds at every (re)connect.
func New(url string, creds credential.Source, cfg Config) Transport {
	return &wsTransport{
		url:            url,
		creds:          creds,
		cfg:            cfg,
		retry:          &supervisor.Retry{Delay: cfg.RetryDelay, MaxAttempts: cfg.MaxRetries},
		subs:           make(map[string]*subscription),
		statusHandlers: make(map[int]func(domain.ConnectionStatus)),
	}
}

// Connect opens the websocket connection. It returns immediately; dialing and
// the socket pumps run in the background. Reconnection after a drop uses a
// fixed delay with a bounded attempt counter.
func (t *wsTransport) Connect() {
	t.mu.Lock()
	if t.status == domain.StatusConnecting || t.status == domain.StatusConnected {
		t.mu.Unlock()
		return
	}
	t.intentional = false

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	t.setStatus(domain.StatusConnecting)
	go t.dial(ctx)
}

// Disconnect closes the socket and aborts any in-flight dial. Safe to call
// multiple times or when never connected.
func (t *wsTransport) Disconnect() {
	t.mu.Lock()
	t.intentional = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.setStatus(domain.StatusDisconnected)
}

func (t *wsTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == domain.StatusConnected
}

// SubscribeToRoom registers a handler for a room. The first handler for a
// room issues the wire subscription; additional handlers only join the local
// fan-out.
func (t *wsTransport) SubscribeToRoom(roomID string, h RoomHandler) {
	t.mu.Lock()
	sub, exists := t.subs[roomID]
	if !exists {
		sub = &subscription{handlers: make(map[int]RoomHandler)}
		t.subs[roomID] = sub
	}
	id := t.nextID
	t.nextID++
	sub.handlers[id] = h
	connected := t.status == domain.StatusConnected
	t.mu.Unlock()

	if !exists && connected {
		t.sendSubscribeFrame(domain.FrameSubscribe, roomID)
	}
}

// UnsubscribeFromRoom drops the room's wire subscription and every local
// handler. A no-op when the room was never subscribed.
func (t *wsTransport) UnsubscribeFromRoom(roomID string) {
	t.mu.Lock()
	_, exists := t.subs[roomID]
	delete(t.subs, roomID)
	connected := t.status == domain.StatusConnected
	t.mu.Unlock()

	if exists && connected {
		t.sendSubscribeFrame(domain.FrameUnsubscribe, roomID)
	}
}

// SendMessage publishes a chat message to a room. Fails fast when the
// transport is not connected.
func (t *wsTransport) SendMessage(roomID, content string) error {
	frame := domain.SendFrame{
		Type:        domain.FrameSend,
		Destination: domain.RoomDestination(roomID),
	}
	frame.Body.Content = content
	return t.enqueue(frame)
}

// SendEnterPresence signals that the user opened the room's live view.
// Fire-and-forget: no acknowledgment, no retry.
func (t *wsTransport) SendEnterPresence(roomID string) error {
	return t.sendPresence(domain.DestPresenceEnter, roomID)
}

// SendLeavePresence signals that the user left the room's live view.
func (t *wsTransport) SendLeavePresence(roomID string) error {
	return t.sendPresence(domain.DestPresenceLeave, roomID)
}

func (t *wsTransport) sendPresence(dest, roomID string) error {
	frame := domain.PresenceFrame{
		Type:        domain.FrameSend,
		Destination: dest,
	}
	frame.Body.RoomID = roomID
	return t.enqueue(frame)
}

// OnConnectionStatusChange registers a status observer and immediately
// replays the current status to it.
func (t *wsTransport) OnConnectionStatusChange(h func(domain.ConnectionStatus)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.statusHandlers[id] = h
	current := t.status
	t.mu.Unlock()

	h(current)
	return func() {
		t.mu.Lock()
		delete(t.statusHandlers, id)
		t.mu.Unlock()
	}
}

func (t *wsTransport) enqueue(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	t.mu.Lock()
	connected := t.status == domain.StatusConnected
	ch := t.sendCh
	t.mu.Unlock()

	if !connected || ch == nil {
		return domain.ErrNotConnected
	}

	select {
	case ch <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (t *wsTransport) sendSubscribeFrame(frameType, roomID string) {
	frame := domain.SubscribeFrame{
		Type:        frameType,
		Destination: domain.RoomDestination(roomID),
	}
	if err := t.enqueue(frame); err != nil {
		log.L().Warn().Err(err).
			Str(log.FieldTransport, transportName).
			Str(log.FieldRoomID, roomID).
			Msg("failed to send subscription frame")
	}
}

// dial performs one connection attempt; on failure it schedules the next one
// within the retry budget.
func (t *wsTransport) dial(ctx context.Context) {
	l := log.L().With().Str(log.FieldTransport, transportName).Logger()

	token, err := t.creds.Token()
	if err != nil {
		l.Warn().Err(err).Msg("no credential for transport connect")
		t.scheduleRetry(ctx)
		return
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			l.Warn().Int(log.FieldStatus, resp.StatusCode).Msg("transport credential rejected")
			t.setStatus(domain.StatusError)
			return
		}
		if ctx.Err() == nil {
			l.Warn().Err(err).Msg("transport dial failed")
		}
		t.scheduleRetry(ctx)
		return
	}

	sendCh := make(chan []byte, 256)

	t.mu.Lock()
	if t.intentional {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.sendCh = sendCh
	t.mu.Unlock()

	t.retry.Reset()
	t.setStatus(domain.StatusConnected)
	l.Info().Msg("transport connected")

	t.resubscribeAll()

	go t.writePump(ctx, conn, sendCh)
	go t.readPump(ctx, conn)
}

// resubscribeAll re-issues the wire subscription for every locally
// registered room after a (re)connect.
func (t *wsTransport) resubscribeAll() {
	t.mu.Lock()
	rooms := make([]string, 0, len(t.subs))
	for roomID := range t.subs {
		rooms = append(rooms, roomID)
	}
	t.mu.Unlock()

	for _, roomID := range rooms {
		t.sendSubscribeFrame(domain.FrameSubscribe, roomID)
	}
}

func (t *wsTransport) scheduleRetry(ctx context.Context) {
	t.setStatus(domain.StatusDisconnected)

	t.mu.Lock()
	if t.intentional || ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	delay, ok := t.retry.Allow()
	if !ok {
		log.L().Error().
			Str(log.FieldTransport, transportName).
			Int(log.FieldAttempt, t.retry.Attempts()).
			Msg("transport retry budget exhausted")
		t.setStatus(domain.StatusError)
		return
	}

	log.L().Info().
		Str(log.FieldTransport, transportName).
		Int(log.FieldAttempt, t.retry.Attempts()).
		Float64(log.FieldDelay, float64(delay.Milliseconds())).
		Msg("transport reconnect scheduled")

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	t.setStatus(domain.StatusConnecting)
	t.dial(ctx)
}

func (t *wsTransport) readPump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(t.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.L().Warn().Err(err).Str(log.FieldTransport, transportName).Msg("websocket read error")
			}
			break
		}
		t.handleFrame(message)
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.sendCh = nil
	}
	intentional := t.intentional
	t.mu.Unlock()

	if intentional || ctx.Err() != nil {
		t.setStatus(domain.StatusDisconnected)
		return
	}
	t.scheduleRetry(ctx)
}

func (t *wsTransport) writePump(ctx context.Context, conn *websocket.Conn, sendCh <-chan []byte) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-sendCh:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame decodes one inbound frame and fans it out to the room's
// handlers. A malformed frame is dropped, never the connection.
func (t *wsTransport) handleFrame(message []byte) {
	var base domain.BaseFrame
	if err := json.Unmarshal(message, &base); err != nil {
		log.L().Warn().Err(err).Str(log.FieldTransport, transportName).Msg("dropping malformed frame")
		return
	}

	switch base.Type {
	case domain.FrameMessage:
		var frame domain.MessageFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.L().Warn().Err(err).Str(log.FieldTransport, transportName).Msg("dropping malformed message frame")
			return
		}
		msg := frame.Message()

		t.mu.Lock()
		var handlers []RoomHandler
		if sub, ok := t.subs[msg.RoomID]; ok {
			handlers = make([]RoomHandler, 0, len(sub.handlers))
			for _, h := range sub.handlers {
				handlers = append(handlers, h)
			}
		}
		t.mu.Unlock()

		for _, h := range handlers {
			h(msg)
		}

	case domain.FrameError:
		log.L().Warn().Str(log.FieldTransport, transportName).RawJSON("frame", message).Msg("server error frame")

	default:
		// Unknown frame types are ignored for forward compatibility.
	}
}

func (t *wsTransport) setStatus(status domain.ConnectionStatus) {
	t.mu.Lock()
	if t.status == status {
		t.mu.Unlock()
		return
	}
	t.status = status
	handlers := make([]func(domain.ConnectionStatus), 0, len(t.statusHandlers))
	for _, h := range t.statusHandlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(status)
	}
}
