package types

import (
	"time"
)

// SenderAssistant is the reserved sender id used for every message the
// assistant writes. It never resolves to a student display name.
const SenderAssistant = "gpt"

// Message roles as stored and as sent over the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Intervention kinds returned by the judge. Exactly one applies per
// judgment cycle.
const (
	InterventionNone       = "none"
	InterventionPositive   = "positive"
	InterventionGuidance   = "guidance"
	InterventionIndividual = "individual"
)

// ChatMessage is one chat turn, authored by a student or by the assistant.
// Immutable once persisted. WhisperTo marks a message visible only to that
// student; empty means room-visible.
type ChatMessage struct {
	ID        int64     `json:"message_id,omitempty"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"message"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	WhisperTo string    `json:"whisper_to,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`

	// Name is a display-name annotation resolved at delivery time.
	// It is not persisted.
	Name string `json:"name,omitempty"`
}

// Decision is the judge's verdict for one window of recent messages.
// Target is set only for individual interventions and must refer to a
// student observed in the judged window.
type Decision struct {
	Kind      string `json:"intervention_type"`
	Target    string `json:"target_student,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Room is a chat room created administratively under a topic.
type Room struct {
	RoomID    string    `json:"room_id"`
	Title     string    `json:"title"`
	TopicID   string    `json:"topic_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Topic carries the governing system prompt injected into every completion
// call scoped to its rooms, plus the rubric used for evaluations.
type Topic struct {
	TopicID      string    `json:"topic_id"`
	Title        string    `json:"title"`
	SystemPrompt string    `json:"system_prompt"`
	RubricPrompt string    `json:"rubric_prompt"`
	ClassID      string    `json:"class_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Student is a chat participant.
type Student struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	ClassID   string `json:"class_id"`
	Password  string `json:"password,omitempty"`
}

// Teacher can review rooms and request evaluations.
type Teacher struct {
	TeacherID string `json:"teacher_id"`
	Name      string `json:"name"`
	ClassID   string `json:"class_id"`
	Password  string `json:"password,omitempty"`
}

// Class groups students, teachers and topics.
type Class struct {
	ClassID string `json:"class_id"`
	Name    string `json:"name"`
}

// Participant is the wire form of a connected room member.
type Participant struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
}

// InterventionRecord is the audit log entry written after an assistant
// message has been durably persisted. MessageID must reference a stored
// message; the store rejects records without one.
type InterventionRecord struct {
	ID            int64     `json:"id,omitempty"`
	RoomID        string    `json:"room_id"`
	MessageID     int64     `json:"message_id"`
	Kind          string    `json:"intervention_type"`
	TargetStudent string    `json:"target_student,omitempty"`
	Reasoning     string    `json:"reasoning,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Evaluation is a rubric-based summary of a conversation, produced for
// teachers outside the realtime flow.
type Evaluation struct {
	ID             int64     `json:"id,omitempty"`
	TopicID        string    `json:"topic_id,omitempty"`
	RoomID         string    `json:"room_id,omitempty"`
	StudentID      string    `json:"student_id,omitempty"`
	ClassID        string    `json:"class_id,omitempty"`
	Summary        string    `json:"summary"`
	EvaluationType string    `json:"evaluation_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagePayload is the externally visible message shape delivered to
// clients over the realtime transport.
type MessagePayload struct {
	SenderID      string    `json:"sender_id"`
	Name          string    `json:"name,omitempty"`
	Message       string    `json:"message"`
	Role          string    `json:"role"`
	Timestamp     time.Time `json:"timestamp"`
	Target        string    `json:"target,omitempty"`
	Whisper       bool      `json:"whisper,omitempty"`
	WhisperTo     string    `json:"whisper_to,omitempty"`
	FeedbackType  string    `json:"feedback_type,omitempty"`
	Reasoning     string    `json:"reasoning,omitempty"`
	IsGPTQuestion bool      `json:"is_gpt_question,omitempty"`
}
