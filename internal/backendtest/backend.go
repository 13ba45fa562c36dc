// Package backendtest runs an in-process stand-in for the chat backend:
// the directory REST API, the notification stream endpoint, and the
// room-messaging websocket. Tests drive it to exercise the client engine
// end to end without a real server.
package backendtest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dorumdorum/chatlink/internal/domain"
	"github.com/dorumdorum/chatlink/pkg/log"
)

var signingKey = []byte("backendtest-signing-key")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Backend is one fake chat backend instance.
type Backend struct {
	mu sync.Mutex

	rooms    []domain.ChatRoom
	messages map[string][]domain.ChatMessage // ascending by SentAt
	requests map[string]string               // requestID -> decision ("" = pending)

	sseClients map[chan string]struct{}
	wsConns    map[*wsConn]struct{}

	nextMsgNo int

	// Failure injection.
	RejectAuth  bool
	FailDecide  bool
	FailHistory bool

	server *httptest.Server
}

type wsConn struct {
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex
	subs    map[string]struct{}
}

// Start creates and starts a Backend on an ephemeral port. Callers must
// Close it.
func Start() *Backend {
	gin.SetMode(gin.TestMode)

	b := &Backend{
		messages:   make(map[string][]domain.ChatMessage),
		requests:   make(map[string]string),
		sseClients: make(map[chan string]struct{}),
		wsConns:    make(map[*wsConn]struct{}),
	}

	r := gin.New()
	r.Use(log.GinMiddleware(log.L().Level(zerolog.WarnLevel)))
	r.GET("/message-rooms", b.auth, b.listRooms)
	r.GET("/message-rooms/:room_id/messages", b.auth, b.getMessages)
	r.POST("/chat/request/:receiver_id", b.auth, b.createRequest)
	r.PATCH("/chat/request/:request_id", b.auth, b.decideRequest)
	r.POST("/message-rooms/:room_id/leave", b.auth, b.leaveRoom)
	r.DELETE("/message-rooms/:room_id", b.auth, b.deleteRoom)
	r.GET("/notifications/stream", b.auth, b.streamEvents)
	r.GET("/ws/chat", gin.WrapF(b.handleWS))

	b.server = httptest.NewServer(r)
	return b
}

// Close shuts the backend down.
func (b *Backend) Close() {
	b.mu.Lock()
	for c := range b.wsConns {
		c.conn.Close()
	}
	b.mu.Unlock()
	b.server.Close()
}

// URL returns the REST base URL.
func (b *Backend) URL() string { return b.server.URL }

// StreamURL returns the notification stream endpoint.
func (b *Backend) StreamURL() string { return b.server.URL + "/notifications/stream" }

// WSURL returns the websocket endpoint.
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws/chat"
}

// MintToken issues a signed token whose subject is userID.
func (b *Backend) MintToken(userID string) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return token
}

// SeedRoom adds a room entry.
func (b *Backend) SeedRoom(room domain.ChatRoom) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = append(b.rooms, room)
}

// SeedMessages sets a room's full history, ascending by SentAt.
func (b *Backend) SeedMessages(roomID string, messages []domain.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[roomID] = messages
}

// SeedRequest adds a pending chat request.
func (b *Backend) SeedRequest(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[requestID] = ""
}

// Decision returns the recorded decision for a request, "" if still pending.
func (b *Backend) Decision(requestID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[requestID]
}

func (b *Backend) auth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if b.RejectAuth || !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Next()
}

func subjectFromHeader(header string) string {
	raw := strings.TrimPrefix(header, "Bearer ")
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

// ---- Directory ----

func (b *Backend) listRooms(c *gin.Context) {
	b.mu.Lock()
	rooms := make([]domain.ChatRoom, len(b.rooms))
	copy(rooms, b.rooms)
	b.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": domain.RoomPage{
			Rooms:   rooms,
			HasMore: false,
		},
	})
}

// getMessages serves cursor pages newest-first: an empty cursor returns the
// latest window, the returned cursor points at the window before it.
func (b *Backend) getMessages(c *gin.Context) {
	if b.FailHistory {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "history unavailable"})
		return
	}

	roomID := c.Param("room_id")
	size, err := strconv.Atoi(c.DefaultQuery("size", "50"))
	if err != nil || size < 1 {
		size = 50
	}

	b.mu.Lock()
	all := b.messages[roomID]
	b.mu.Unlock()

	end := len(all)
	if cursor := c.Query("cursor"); cursor != "" {
		if v, err := strconv.Atoi(cursor); err == nil && v >= 0 && v <= len(all) {
			end = v
		}
	}
	start := end - size
	if start < 0 {
		start = 0
	}

	page := domain.MessagePage{
		Messages: append([]domain.ChatMessage(nil), all[start:end]...),
		HasMore:  start > 0,
	}
	if start > 0 {
		page.NextCursor = strconv.Itoa(start)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": page})
}

func (b *Backend) createRequest(c *gin.Context) {
	requestID := "req-to-" + c.Param("receiver_id")
	b.mu.Lock()
	b.requests[requestID] = ""
	b.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (b *Backend) decideRequest(c *gin.Context) {
	if b.FailDecide {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "decision failed"})
		return
	}

	var body struct {
		Decision string `json:"decision"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body"})
		return
	}

	b.mu.Lock()
	b.requests[c.Param("request_id")] = body.Decision
	b.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (b *Backend) leaveRoom(c *gin.Context) {
	b.removeRoom(c.Param("room_id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (b *Backend) deleteRoom(c *gin.Context) {
	b.removeRoom(c.Param("room_id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (b *Backend) removeRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.rooms {
		if r.RoomID == roomID {
			b.rooms = append(b.rooms[:i], b.rooms[i+1:]...)
			break
		}
	}
	delete(b.messages, roomID)
}
