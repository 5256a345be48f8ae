package types

import "regexp"

// Student ids follow the classroom convention <grade>s<seat>, e.g. "2s01".
// The assistant's reserved id never matches.
var studentIDRegex = regexp.MustCompile(`^[0-9]+s[0-9]+$`)

// IsStudentID reports whether id follows the student-id naming convention.
func IsStudentID(id string) bool {
	return studentIDRegex.MatchString(id)
}

// IsInterventionKind reports whether kind is one of the four known kinds.
func IsInterventionKind(kind string) bool {
	switch kind {
	case InterventionNone, InterventionPositive, InterventionGuidance, InterventionIndividual:
		return true
	default:
		return false
	}
}

// Validate ensures an inbound chat message is storable and routable.
func (m *ChatMessage) Validate() error {
	if m.RoomID == "" {
		return ErrInvalidRoomID
	}
	if m.SenderID == "" {
		return ErrInvalidSenderID
	}
	if m.Text == "" {
		return ErrEmptyMessage
	}
	if len(m.Text) > 65536 {
		return ErrMessageTooLarge
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return ErrInvalidRole
	}
	return nil
}

// Validate checks the decision's internal consistency. A decision that
// fails here must not reach delivery.
func (d *Decision) Validate() error {
	if !IsInterventionKind(d.Kind) {
		return ErrInvalidKind
	}
	if d.Kind == InterventionIndividual && d.Target == "" {
		return ErrIndividualTarget
	}
	return nil
}
