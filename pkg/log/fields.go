package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Service
	FieldService = "service"

	// Chat
	FieldRoomID    = "room_id"
	FieldMessageNo = "message_no"
	FieldRequestNo = "request_no"
	FieldEventKind = "event_kind"

	// Connections
	FieldTransport = "transport"
	FieldAttempt   = "attempt"
	FieldDelay     = "delay_ms"
)
