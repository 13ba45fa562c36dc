package domain

// Advisory kinds.
const (
	AdvisoryNewMessage     = "new_message"
	AdvisoryRequestCreated = "request_created"
	AdvisoryRequestDecided = "request_decided"
	AdvisoryAuthRequired   = "auth_required"
)

// Advisory is a non-blocking user-facing notice about an event outside the
// currently open view. RoomID, when set, is the navigation target.
type Advisory struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	RoomID string `json:"room_id,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
}
