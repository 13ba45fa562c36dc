package domain

// RoomPage is one cursor page of the user's room list.
type RoomPage struct {
	Rooms      []ChatRoom `json:"rooms"`
	NextCursor string     `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

// MessagePage is one cursor page of a room's history.
type MessagePage struct {
	Messages   []ChatMessage `json:"messages"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}
