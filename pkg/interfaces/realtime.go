package interfaces

// Conn is a writeable realtime connection. The concrete implementation
// serializes writes internally; WriteJSON is safe from any goroutine.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Deliverer fans payloads out to live connections. Delivery is best
// effort: a payload for a participant with no live connection is a no-op.
type Deliverer interface {
	// BroadcastToRoom sends payload to every connection joined to the room.
	BroadcastToRoom(roomID string, payload interface{})

	// SendToParticipant sends payload to every live connection mapped to
	// the participant, across rooms and tabs, and reports how many
	// connections received it.
	SendToParticipant(participantID string, payload interface{}) int
}
