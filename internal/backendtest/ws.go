package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dorumdorum/chatlink/internal/domain"
)

// handleWS upgrades one websocket connection and serves the room-messaging
// protocol: subscribe/unsubscribe frames maintain the connection's room set,
// send frames are echoed back as authoritative message frames to every
// subscriber of the destination room, including the sender.
func (b *Backend) handleWS(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if b.RejectAuth || !strings.HasPrefix(header, "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsConn{
		conn:   conn,
		userID: subjectFromHeader(header),
		subs:   make(map[string]struct{}),
	}

	b.mu.Lock()
	b.wsConns[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.wsConns, c)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.handleWSFrame(c, message)
	}
}

func (b *Backend) handleWSFrame(c *wsConn, message []byte) {
	var base domain.BaseFrame
	if err := json.Unmarshal(message, &base); err != nil {
		return
	}

	switch base.Type {
	case domain.FrameSubscribe:
		if roomID, ok := roomFromDestination(base.Destination); ok {
			b.mu.Lock()
			c.subs[roomID] = struct{}{}
			b.mu.Unlock()
		}

	case domain.FrameUnsubscribe:
		if roomID, ok := roomFromDestination(base.Destination); ok {
			b.mu.Lock()
			delete(c.subs, roomID)
			b.mu.Unlock()
		}

	case domain.FrameSend:
		if base.Destination == domain.DestPresenceEnter || base.Destination == domain.DestPresenceLeave {
			// Presence is unacknowledged.
			return
		}
		roomID, ok := roomFromDestination(base.Destination)
		if !ok {
			return
		}
		var frame domain.SendFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			return
		}

		b.mu.Lock()
		b.nextMsgNo++
		msgNo := fmt.Sprintf("m-%d", b.nextMsgNo)
		b.mu.Unlock()

		b.BroadcastMessage(domain.ChatMessage{
			MessageNo:   msgNo,
			RoomID:      roomID,
			SenderID:    c.userID,
			SenderName:  c.userID,
			Content:     frame.Body.Content,
			MessageType: "TEXT",
			SentAt:      time.Now().UTC(),
		})
	}
}

// BroadcastMessage pushes a message frame to every connection subscribed to
// the message's room and appends it to the room's stored history.
func (b *Backend) BroadcastMessage(msg domain.ChatMessage) {
	frame := domain.MessageFrame{
		Type:        domain.FrameMessage,
		Destination: domain.RoomDestination(msg.RoomID),
		MessageNo:   msg.MessageNo,
		RoomID:      msg.RoomID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		SentAt:      msg.SentAt,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}

	b.mu.Lock()
	b.messages[msg.RoomID] = append(b.messages[msg.RoomID], msg)
	conns := make([]*wsConn, 0, len(b.wsConns))
	for c := range b.wsConns {
		if _, ok := c.subs[msg.RoomID]; ok {
			conns = append(conns, c)
		}
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
	}
}

// DropWSConnections severs every live websocket connection, simulating a
// network drop. Subscriptions held by the dropped connections are lost.
func (b *Backend) DropWSConnections() {
	b.mu.Lock()
	conns := make([]*wsConn, 0, len(b.wsConns))
	for c := range b.wsConns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
}

// SubscriptionCount returns how many connections hold a wire subscription
// for the room.
func (b *Backend) SubscriptionCount(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for c := range b.wsConns {
		if _, ok := c.subs[roomID]; ok {
			n++
		}
	}
	return n
}

func roomFromDestination(dest string) (string, bool) {
	roomID, ok := strings.CutPrefix(dest, "rooms/")
	if !ok || roomID == "" {
		return "", false
	}
	return roomID, true
}
