package session

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Member is the registry's view of one joined connection.
type Member struct {
	ParticipantID string
	RoomID        string
	Name          string
}

// Registry maps live connections to participant identity and room
// membership. Pure connection tracking: announcements are the transport
// handler's job. A connection belongs to at most one room; a participant
// may hold any number of concurrent connections.
type Registry struct {
	mu           sync.RWMutex
	members      map[interfaces.Conn]Member
	rooms        map[string]map[interfaces.Conn]struct{}
	participants map[string]map[interfaces.Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members:      make(map[interfaces.Conn]Member),
		rooms:        make(map[string]map[interfaces.Conn]struct{}),
		participants: make(map[string]map[interfaces.Conn]struct{}),
	}
}

// Join registers the connection under the given room and participant.
// Joining twice on one connection is rejected; opening another tab means
// opening another connection.
func (r *Registry) Join(conn interfaces.Conn, roomID, participantID, name string) error {
	if conn == nil {
		return ErrNilConn
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[conn]; exists {
		return ErrAlreadyInRoom
	}

	r.members[conn] = Member{ParticipantID: participantID, RoomID: roomID, Name: name}

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[interfaces.Conn]struct{})
	}
	r.rooms[roomID][conn] = struct{}{}

	if r.participants[participantID] == nil {
		r.participants[participantID] = make(map[interfaces.Conn]struct{})
	}
	r.participants[participantID][conn] = struct{}{}

	return nil
}

// Member returns the membership a connection holds, if any.
func (r *Registry) Member(conn interfaces.Conn) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	member, ok := r.members[conn]
	return member, ok
}

// Leave removes the connection from all maps and returns the membership it
// held. ok is false when the connection never completed a join; callers
// use that to decide whether to announce the departure.
func (r *Registry) Leave(conn interfaces.Conn) (Member, bool) {
	if conn == nil {
		return Member{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	member, exists := r.members[conn]
	if !exists {
		return Member{}, false
	}
	delete(r.members, conn)

	if conns, ok := r.rooms[member.RoomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.rooms, member.RoomID)
		}
	}
	if conns, ok := r.participants[member.ParticipantID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.participants, member.ParticipantID)
		}
	}

	return member, true
}

// BroadcastToRoom sends payload to every connection joined to the room.
// Write failures are logged and skipped; a dead tab must not block the
// rest of the room.
func (r *Registry) BroadcastToRoom(roomID string, payload interface{}) {
	for _, conn := range r.roomConns(roomID) {
		if err := conn.WriteJSON(payload); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Debug("broadcast write failed")
		}
	}
}

// SendToParticipant sends payload to every live connection mapped to the
// participant and reports how many received it. Zero means the participant
// is offline.
func (r *Registry) SendToParticipant(participantID string, payload interface{}) int {
	r.mu.RLock()
	conns := make([]interfaces.Conn, 0, len(r.participants[participantID]))
	for conn := range r.participants[participantID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if err := conn.WriteJSON(payload); err != nil {
			logrus.WithError(err).WithField("participant_id", participantID).Debug("direct write failed")
			continue
		}
		sent++
	}
	return sent
}

// ListParticipants returns the distinct participants currently joined to
// the room, sorted by id.
func (r *Registry) ListParticipants(roomID string) []types.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]types.Participant)
	for conn := range r.rooms[roomID] {
		member := r.members[conn]
		seen[member.ParticipantID] = types.Participant{
			StudentID: member.ParticipantID,
			Name:      member.Name,
		}
	}

	participants := make([]types.Participant, 0, len(seen))
	for _, p := range seen {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].StudentID < participants[j].StudentID
	})
	return participants
}

// Stats reports connection and room counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.members),
		"rooms":       len(r.rooms),
	}
}

// roomConns snapshots a room's connections so writes happen outside the
// lock.
func (r *Registry) roomConns(roomID string) []interfaces.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]interfaces.Conn, 0, len(r.rooms[roomID]))
	for conn := range r.rooms[roomID] {
		conns = append(conns, conn)
	}
	return conns
}
