package interfaces

import (
	"context"

	"classrelay/pkg/types"
)

// Store is the datastore gateway used by the realtime pipeline. All
// methods go through the single save/fetch contract; callers never see
// the backing schema.
type Store interface {
	// SaveMessage persists a message and returns it with its assigned id.
	// A zero Timestamp is filled in at save time.
	SaveMessage(ctx context.Context, msg *types.ChatMessage) (*types.ChatMessage, error)

	// RoomHistory returns every message for a room in timestamp order.
	RoomHistory(ctx context.Context, roomID string) ([]types.ChatMessage, error)

	// RoomHistoryFor returns the room history filtered for one requester:
	// whispered messages are included only when whispered to the requester.
	RoomHistoryFor(ctx context.Context, roomID, requesterID string) ([]types.ChatMessage, error)

	// SystemPrompt resolves the room -> topic -> system prompt chain.
	// Returns ErrNotFound when the chain is broken.
	SystemPrompt(ctx context.Context, roomID string) (string, error)

	// RubricPrompt resolves the room's evaluation rubric.
	RubricPrompt(ctx context.Context, roomID string) (string, error)

	// StudentName resolves a student's display name, ErrNotFound when the
	// id is unknown.
	StudentName(ctx context.Context, studentID string) (string, error)

	// LogIntervention writes an audit entry. The record must carry the id
	// of an already persisted assistant message.
	LogIntervention(ctx context.Context, rec *types.InterventionRecord) error

	// InterventionsForRoom returns a room's audit log, oldest first.
	InterventionsForRoom(ctx context.Context, roomID string) ([]types.InterventionRecord, error)

	// SaveEvaluation persists a rubric evaluation result.
	SaveEvaluation(ctx context.Context, eval *types.Evaluation) error
}

// Directory is the administrative read/write surface consumed by the HTTP
// API: login lookups, catalog listings and topic provisioning.
type Directory interface {
	GetStudent(ctx context.Context, studentID string) (*types.Student, error)
	GetTeacher(ctx context.Context, teacherID string) (*types.Teacher, error)
	ListClasses(ctx context.Context) ([]types.Class, error)
	ListTopics(ctx context.Context) ([]types.Topic, error)
	ListRooms(ctx context.Context) ([]types.Room, error)

	// CreateTopicWithRooms creates a topic and roomCount rooms under it in
	// one transaction, returning the created rooms.
	CreateTopicWithRooms(ctx context.Context, topic *types.Topic, roomCount int) ([]types.Room, error)
}
