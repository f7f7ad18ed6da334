package schema

// Stream event types emitted during a turn. The debug surface renders these
// incrementally; the synchronous path discards them.
const (
	EventNodeExecution  = "node_execution"
	EventMessage        = "message"
	EventVariableUpdate = "variable_update"
	EventBackendLog     = "backend_log"
	EventError          = "error"
	EventComplete       = "complete"
)

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// BookingStatus represents the lifecycle state of an appointment booking.
type BookingStatus string

const (
	BookingStatusProposed  BookingStatus = "proposed"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusFailed    BookingStatus = "failed"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)
