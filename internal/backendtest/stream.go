package backendtest

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/dorumdorum/chatlink/internal/domain"
)

// streamEvents serves the notification stream: a connected record, then
// whatever PushEvent broadcasts, until the client goes away.
func (b *Backend) streamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	ch := make(chan string, 32)
	b.mu.Lock()
	b.sseClients[ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.sseClients, ch)
		b.mu.Unlock()
	}()

	fmt.Fprintf(c.Writer, "event: %s\n\n", domain.EventConnected)
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case rec := <-ch:
			if _, err := fmt.Fprint(c.Writer, rec); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// PushEvent broadcasts one stream record to every connected client. A nil
// payload sends a payload-less control record.
func (b *Backend) PushEvent(event string, payload any) {
	rec := fmt.Sprintf("event: %s\n", event)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		rec += fmt.Sprintf("data: %s\n", data)
	}
	rec += "\n"

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.sseClients {
		select {
		case ch <- rec:
		default:
		}
	}
}

// PushRaw broadcasts a raw pre-framed record, for malformed-payload tests.
func (b *Backend) PushRaw(rec string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.sseClients {
		select {
		case ch <- rec:
		default:
		}
	}
}

// StreamClientCount returns the number of connected stream clients.
func (b *Backend) StreamClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sseClients)
}
