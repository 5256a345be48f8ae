package types

// Realtime event names. Client-sent events drive joins, chat and history
// requests; server-sent events carry the fan-out.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventGetMessages = "get_messages"

	EventCurrentUsers   = "current_users"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventReceiveMessage = "receive_message"
	EventMessageHistory = "message_history"
)

// Event is the wire envelope for every realtime frame.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}
